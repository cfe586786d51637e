package program

import (
	"encoding/hex"
	"fmt"
)

type AccountKey [32]byte

// SystemProgramID is the storage allocator identity. Unallocated accounts are
// owned by it.
var SystemProgramID AccountKey

func (k AccountKey) String() string { return hex.EncodeToString(k[:]) }

func ParseAccountKey(s string) (AccountKey, error) {
	var k AccountKey
	raw, err := hex.DecodeString(s)
	if err != nil {
		return k, fmt.Errorf("account key: %w", err)
	}
	if len(raw) != len(k) {
		return k, fmt.Errorf("account key must decode to %d bytes (got %d)", len(k), len(raw))
	}
	copy(k[:], raw)
	return k, nil
}

// Account is the stored form of an account.
type Account struct {
	Key   AccountKey
	Owner AccountKey
	Data  []byte
}

// AccountMeta names an account for one invocation and the flags the caller
// grants it.
type AccountMeta struct {
	Key        AccountKey
	IsSigner   bool
	IsWritable bool
}

// AccountInfo is what the program sees for each positional account.
type AccountInfo struct {
	Key        AccountKey
	Owner      AccountKey
	IsSigner   bool
	IsWritable bool
	Data       []byte
}

func (a AccountInfo) Initialized(programID AccountKey) bool {
	return a.Owner == programID && len(a.Data) > 0
}
