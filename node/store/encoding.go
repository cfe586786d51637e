package store

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"ovt.dev/treasury/program"
)

// Account value layout: owner 32 | data.
func encodeAccount(a program.Account) []byte {
	out := make([]byte, 0, 32+len(a.Data))
	out = append(out, a.Owner[:]...)
	return append(out, a.Data...)
}

func decodeAccount(key []byte, v []byte) (program.Account, error) {
	var a program.Account
	if len(key) != len(a.Key) {
		return a, fmt.Errorf("account key: expected %d bytes, got %d", len(a.Key), len(key))
	}
	if len(v) < len(a.Owner) {
		return a, fmt.Errorf("account %x: truncated", key)
	}
	copy(a.Key[:], key)
	copy(a.Owner[:], v[:32])
	if len(v) > 32 {
		a.Data = append([]byte(nil), v[32:]...)
	}
	return a, nil
}

type signatureRecord struct {
	AdminHex     string `json:"admin"`
	SignatureHex string `json:"signature"`
}

type actionRecord struct {
	ActionType       string            `json:"action_type"`
	Description      string            `json:"description"`
	PayloadDigestHex string            `json:"payload_digest"`
	Signatures       []signatureRecord `json:"signatures"`
	Consumed         bool              `json:"consumed"`
}

func encodeAction(a *program.PendingAction) ([]byte, error) {
	rec := actionRecord{
		ActionType:       a.ActionType,
		Description:      a.Description,
		PayloadDigestHex: hex.EncodeToString(a.PayloadDigest[:]),
		Signatures:       make([]signatureRecord, 0, len(a.Signatures)),
		Consumed:         a.Consumed,
	}
	for _, s := range a.Signatures {
		rec.Signatures = append(rec.Signatures, signatureRecord{
			AdminHex:     hex.EncodeToString(s.Admin[:]),
			SignatureHex: hex.EncodeToString(s.Signature),
		})
	}
	return json.Marshal(rec)
}

func decodeAction(b []byte) (*program.PendingAction, error) {
	var rec actionRecord
	if err := json.Unmarshal(b, &rec); err != nil {
		return nil, fmt.Errorf("action json: %w", err)
	}
	a := &program.PendingAction{
		ActionType:  rec.ActionType,
		Description: rec.Description,
		Consumed:    rec.Consumed,
	}
	if err := decodeHexInto(a.PayloadDigest[:], rec.PayloadDigestHex, "payload_digest"); err != nil {
		return nil, err
	}
	for i, s := range rec.Signatures {
		var sig program.AdminSignature
		if err := decodeHexInto(sig.Admin[:], s.AdminHex, fmt.Sprintf("signatures[%d].admin", i)); err != nil {
			return nil, err
		}
		raw, err := hex.DecodeString(s.SignatureHex)
		if err != nil {
			return nil, fmt.Errorf("signatures[%d].signature: %w", i, err)
		}
		sig.Signature = raw
		a.Signatures = append(a.Signatures, sig)
	}
	return a, nil
}

func decodeHexInto(dst []byte, s string, name string) error {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	if len(raw) != len(dst) {
		return fmt.Errorf("%s: expected %d bytes, got %d", name, len(dst), len(raw))
	}
	copy(dst, raw)
	return nil
}
