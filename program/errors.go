package program

import (
	"errors"
	"fmt"
)

type ErrorCode string

const (
	ERR_MALFORMED_INSTRUCTION ErrorCode = "ERR_MALFORMED_INSTRUCTION"

	ERR_MISSING_REQUIRED_SIGNATURE ErrorCode = "ERR_MISSING_REQUIRED_SIGNATURE"
	ERR_NOT_AN_ADMIN               ErrorCode = "ERR_NOT_AN_ADMIN"
	ERR_INSUFFICIENT_SIGNATURES    ErrorCode = "ERR_INSUFFICIENT_SIGNATURES"
	ERR_DUPLICATE_SIGNATURE        ErrorCode = "ERR_DUPLICATE_SIGNATURE"
	ERR_INVALID_SIGNATURE          ErrorCode = "ERR_INVALID_SIGNATURE"
	ERR_ACTION_MISMATCH            ErrorCode = "ERR_ACTION_MISMATCH"
	ERR_ACTION_CONSUMED            ErrorCode = "ERR_ACTION_CONSUMED"

	ERR_INVALID_NAV_UPDATE    ErrorCode = "ERR_INVALID_NAV_UPDATE"
	ERR_INVALID_SUPPLY_CHANGE ErrorCode = "ERR_INVALID_SUPPLY_CHANGE"
	ERR_INVALID_TREASURY_KEY  ErrorCode = "ERR_INVALID_TREASURY_KEY"

	ERR_OVERFLOW ErrorCode = "ERR_OVERFLOW"

	ERR_INVALID_BITCOIN_PAYMENT    ErrorCode = "ERR_INVALID_BITCOIN_PAYMENT"
	ERR_INSUFFICIENT_FUNDS         ErrorCode = "ERR_INSUFFICIENT_FUNDS"
	ERR_INSUFFICIENT_CONFIRMATIONS ErrorCode = "ERR_INSUFFICIENT_CONFIRMATIONS"

	ERR_ACCOUNT_NOT_FOUND           ErrorCode = "ERR_ACCOUNT_NOT_FOUND"
	ERR_INVALID_ACCOUNT_DATA        ErrorCode = "ERR_INVALID_ACCOUNT_DATA"
	ERR_ACCOUNT_ALREADY_INITIALIZED ErrorCode = "ERR_ACCOUNT_ALREADY_INITIALIZED"
)

// Category groups error codes by how a caller should react to them.
type Category string

const (
	CategoryDecode        Category = "decode"
	CategoryAuthorization Category = "authorization"
	CategoryValidation    Category = "validation"
	CategoryArithmetic    Category = "arithmetic"
	CategoryExternalProof Category = "external_proof"
	CategoryResource      Category = "resource"
)

func (c ErrorCode) Category() Category {
	switch c {
	case ERR_MALFORMED_INSTRUCTION:
		return CategoryDecode
	case ERR_MISSING_REQUIRED_SIGNATURE, ERR_NOT_AN_ADMIN, ERR_INSUFFICIENT_SIGNATURES,
		ERR_DUPLICATE_SIGNATURE, ERR_INVALID_SIGNATURE, ERR_ACTION_MISMATCH, ERR_ACTION_CONSUMED:
		return CategoryAuthorization
	case ERR_INVALID_NAV_UPDATE, ERR_INVALID_SUPPLY_CHANGE, ERR_INVALID_TREASURY_KEY:
		return CategoryValidation
	case ERR_OVERFLOW:
		return CategoryArithmetic
	case ERR_INVALID_BITCOIN_PAYMENT, ERR_INSUFFICIENT_FUNDS, ERR_INSUFFICIENT_CONFIRMATIONS:
		return CategoryExternalProof
	default:
		return CategoryResource
	}
}

type ProgramError struct {
	Code ErrorCode
	Msg  string
}

func (e *ProgramError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Msg == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

func perr(code ErrorCode, msg string) error {
	return &ProgramError{Code: code, Msg: msg}
}

// CodeOf extracts the program error code from err, looking through wrapping.
func CodeOf(err error) (ErrorCode, bool) {
	var pe *ProgramError
	if errors.As(err, &pe) && pe != nil {
		return pe.Code, true
	}
	return "", false
}
