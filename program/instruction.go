package program

import (
	"fmt"
)

type Opcode uint8

const (
	OP_INITIALIZE   Opcode = 0
	OP_UPDATE_NAV   Opcode = 1
	OP_BUYBACK_BURN Opcode = 2
)

// MAX_TXID_STRING_BYTES bounds the payment txid string carried by BuybackBurn.
const MAX_TXID_STRING_BYTES = 128

func (op Opcode) String() string {
	switch op {
	case OP_INITIALIZE:
		return "initialize"
	case OP_UPDATE_NAV:
		return "update_nav"
	case OP_BUYBACK_BURN:
		return "buyback_burn"
	default:
		return fmt.Sprintf("opcode(%d)", uint8(op))
	}
}

// Instruction is one of *Initialize, *UpdateNAV or *BuybackBurn.
type Instruction interface {
	Opcode() Opcode
	Encode() []byte
}

type Initialize struct {
	TreasuryKey [PUBKEY_BYTES]byte
}

type UpdateNAV struct {
	NewNavSats uint64
}

type BuybackBurn struct {
	PaymentTxid       string
	PaymentAmountSats uint64
}

func (*Initialize) Opcode() Opcode  { return OP_INITIALIZE }
func (*UpdateNAV) Opcode() Opcode   { return OP_UPDATE_NAV }
func (*BuybackBurn) Opcode() Opcode { return OP_BUYBACK_BURN }

func (i *Initialize) Encode() []byte {
	out := make([]byte, 0, 1+PUBKEY_BYTES)
	out = append(out, byte(OP_INITIALIZE))
	return append(out, i.TreasuryKey[:]...)
}

func (i *UpdateNAV) Encode() []byte {
	out := make([]byte, 0, 1+8)
	out = append(out, byte(OP_UPDATE_NAV))
	return appendU64le(out, i.NewNavSats)
}

func (i *BuybackBurn) Encode() []byte {
	out := make([]byte, 0, 1+9+len(i.PaymentTxid)+8)
	out = append(out, byte(OP_BUYBACK_BURN))
	out = appendVarBytes(out, []byte(i.PaymentTxid))
	return appendU64le(out, i.PaymentAmountSats)
}

// DecodeInstruction is the exact inverse of Encode; trailing bytes are
// rejected so every instruction has a single encoding.
func DecodeInstruction(b []byte) (Instruction, error) {
	off := 0
	tag, err := readU8(b, &off)
	if err != nil {
		return nil, perr(ERR_MALFORMED_INSTRUCTION, err.Error())
	}

	var ix Instruction
	switch Opcode(tag) {
	case OP_INITIALIZE:
		key, err := readBytes(b, &off, PUBKEY_BYTES)
		if err != nil {
			return nil, perr(ERR_MALFORMED_INSTRUCTION, "initialize: "+err.Error())
		}
		ini := &Initialize{}
		copy(ini.TreasuryKey[:], key)
		ix = ini
	case OP_UPDATE_NAV:
		nav, err := readU64le(b, &off)
		if err != nil {
			return nil, perr(ERR_MALFORMED_INSTRUCTION, "update_nav: "+err.Error())
		}
		ix = &UpdateNAV{NewNavSats: nav}
	case OP_BUYBACK_BURN:
		txid, err := readVarBytes(b, &off, MAX_TXID_STRING_BYTES, "payment_txid")
		if err != nil {
			return nil, perr(ERR_MALFORMED_INSTRUCTION, "buyback_burn: "+err.Error())
		}
		amount, err := readU64le(b, &off)
		if err != nil {
			return nil, perr(ERR_MALFORMED_INSTRUCTION, "buyback_burn: "+err.Error())
		}
		ix = &BuybackBurn{PaymentTxid: string(txid), PaymentAmountSats: amount}
	default:
		return nil, perr(ERR_MALFORMED_INSTRUCTION, fmt.Sprintf("unknown opcode %d", tag))
	}

	if off != len(b) {
		return nil, perr(ERR_MALFORMED_INSTRUCTION, fmt.Sprintf("%d trailing bytes", len(b)-off))
	}
	return ix, nil
}
