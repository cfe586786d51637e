package program

import (
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
)

const (
	PUBKEY_BYTES = 33

	// TREASURY_STATE_BYTES is nav u64 | claim key 33 | supply u64 | last update u64.
	TREASURY_STATE_BYTES = 8 + PUBKEY_BYTES + 8 + 8
)

// TreasuryState is the single record held in the treasury state account.
type TreasuryState struct {
	NavSats          uint64
	TreasuryClaimKey [PUBKEY_BYTES]byte
	TotalSupply      uint64
	LastNavUpdate    uint64
}

func (s TreasuryState) Encode() []byte {
	out := make([]byte, 0, TREASURY_STATE_BYTES)
	out = appendU64le(out, s.NavSats)
	out = append(out, s.TreasuryClaimKey[:]...)
	out = appendU64le(out, s.TotalSupply)
	out = appendU64le(out, s.LastNavUpdate)
	return out
}

func DecodeTreasuryState(b []byte) (TreasuryState, error) {
	var s TreasuryState
	if len(b) != TREASURY_STATE_BYTES {
		return s, perr(ERR_INVALID_ACCOUNT_DATA, fmt.Sprintf("treasury state: %d bytes, want %d", len(b), TREASURY_STATE_BYTES))
	}
	off := 0
	var err error
	if s.NavSats, err = readU64le(b, &off); err != nil {
		return s, perr(ERR_INVALID_ACCOUNT_DATA, err.Error())
	}
	key, err := readBytes(b, &off, PUBKEY_BYTES)
	if err != nil {
		return s, perr(ERR_INVALID_ACCOUNT_DATA, err.Error())
	}
	copy(s.TreasuryClaimKey[:], key)
	if s.TotalSupply, err = readU64le(b, &off); err != nil {
		return s, perr(ERR_INVALID_ACCOUNT_DATA, err.Error())
	}
	if s.LastNavUpdate, err = readU64le(b, &off); err != nil {
		return s, perr(ERR_INVALID_ACCOUNT_DATA, err.Error())
	}
	return s, nil
}

// TreasuryPubKey parses the stored claim key as a compressed secp256k1 key.
func (s TreasuryState) TreasuryPubKey() (*btcec.PublicKey, error) {
	pub, err := btcec.ParsePubKey(s.TreasuryClaimKey[:])
	if err != nil {
		return nil, perr(ERR_INVALID_TREASURY_KEY, err.Error())
	}
	return pub, nil
}
