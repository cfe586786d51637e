package program

import (
	"bytes"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"

	"ovt.dev/treasury/crypto"
)

const (
	ADMIN_COUNT         = 5
	SIGNATURE_THRESHOLD = 3

	MAX_ACTION_TYPE_BYTES = 64
	MAX_DESCRIPTION_BYTES = 256

	ADMIN_SET_BYTES = ADMIN_COUNT * PUBKEY_BYTES
)

const actionDigestTag = "OVT/action/v1"

// AdminAccountKey is the account identity an admin signs instructions with.
func AdminAccountKey(p crypto.CryptoProvider, pub [PUBKEY_BYTES]byte) AccountKey {
	return AccountKey(p.SHA3_256(pub[:]))
}

// AdminSet is the fixed membership of signers. Order is preserved from
// creation and is part of the stored encoding.
type AdminSet struct {
	keys     [ADMIN_COUNT][PUBKEY_BYTES]byte
	accounts [ADMIN_COUNT]AccountKey
}

func NewAdminSet(p crypto.CryptoProvider, keys [][PUBKEY_BYTES]byte) (*AdminSet, error) {
	if len(keys) != ADMIN_COUNT {
		return nil, perr(ERR_INVALID_ACCOUNT_DATA, fmt.Sprintf("admin set must have %d keys (got %d)", ADMIN_COUNT, len(keys)))
	}
	s := &AdminSet{}
	for i, k := range keys {
		if _, err := btcec.ParsePubKey(k[:]); err != nil {
			return nil, perr(ERR_INVALID_ACCOUNT_DATA, fmt.Sprintf("admin %d: %v", i, err))
		}
		for j := 0; j < i; j++ {
			if s.keys[j] == k {
				return nil, perr(ERR_INVALID_ACCOUNT_DATA, fmt.Sprintf("admin %d duplicates admin %d", i, j))
			}
		}
		s.keys[i] = k
		s.accounts[i] = AdminAccountKey(p, k)
	}
	return s, nil
}

func DecodeAdminSet(p crypto.CryptoProvider, b []byte) (*AdminSet, error) {
	if len(b) != ADMIN_SET_BYTES {
		return nil, perr(ERR_INVALID_ACCOUNT_DATA, fmt.Sprintf("admin set: %d bytes, want %d", len(b), ADMIN_SET_BYTES))
	}
	keys := make([][PUBKEY_BYTES]byte, ADMIN_COUNT)
	for i := range keys {
		copy(keys[i][:], b[i*PUBKEY_BYTES:(i+1)*PUBKEY_BYTES])
	}
	return NewAdminSet(p, keys)
}

func (s *AdminSet) Encode() []byte {
	out := make([]byte, 0, ADMIN_SET_BYTES)
	for _, k := range s.keys {
		out = append(out, k[:]...)
	}
	return out
}

func (s *AdminSet) Keys() [][PUBKEY_BYTES]byte {
	out := make([][PUBKEY_BYTES]byte, ADMIN_COUNT)
	copy(out, s.keys[:])
	return out
}

func (s *AdminSet) Contains(pub [PUBKEY_BYTES]byte) bool {
	for _, k := range s.keys {
		if k == pub {
			return true
		}
	}
	return false
}

func (s *AdminSet) IsAdminAccount(key AccountKey) bool {
	for _, a := range s.accounts {
		if a == key {
			return true
		}
	}
	return false
}

// ActionDigest is the message each admin signs:
// SHA3-256(tag | cs(len) action_type | cs(len) description | payload_digest).
func ActionDigest(p crypto.CryptoProvider, actionType, description string, payloadDigest [32]byte) [32]byte {
	buf := make([]byte, 0, len(actionDigestTag)+18+len(actionType)+len(description)+32)
	buf = append(buf, actionDigestTag...)
	buf = appendVarBytes(buf, []byte(actionType))
	buf = appendVarBytes(buf, []byte(description))
	buf = append(buf, payloadDigest[:]...)
	return p.SHA3_256(buf)
}

// PayloadDigest binds an action to the exact instruction bytes it authorizes.
func PayloadDigest(p crypto.CryptoProvider, instruction []byte) [32]byte {
	return p.SHA3_256(instruction)
}

type AdminSignature struct {
	Admin     [PUBKEY_BYTES]byte
	Signature []byte
}

// PendingAction accumulates admin signatures for one action label.
type PendingAction struct {
	ActionType    string
	Description   string
	PayloadDigest [32]byte
	Signatures    []AdminSignature
	Consumed      bool
}

func (a *PendingAction) Clone() *PendingAction {
	if a == nil {
		return nil
	}
	out := *a
	out.Signatures = make([]AdminSignature, len(a.Signatures))
	for i, s := range a.Signatures {
		out.Signatures[i] = AdminSignature{Admin: s.Admin, Signature: append([]byte(nil), s.Signature...)}
	}
	return &out
}

func (a *PendingAction) SignedBy(admin [PUBKEY_BYTES]byte) bool {
	for _, s := range a.Signatures {
		if s.Admin == admin {
			return true
		}
	}
	return false
}

// IsAuthorized reports whether provided names at least SIGNATURE_THRESHOLD
// distinct admins' recorded signatures. Every provided signature must be one
// that was recorded. A consumed action is never authorized.
func (a *PendingAction) IsAuthorized(provided [][]byte) bool {
	if a == nil || a.Consumed || len(provided) < SIGNATURE_THRESHOLD {
		return false
	}
	seen := make(map[[PUBKEY_BYTES]byte]struct{}, len(provided))
	for _, sig := range provided {
		found := false
		for _, rec := range a.Signatures {
			if bytes.Equal(rec.Signature, sig) {
				seen[rec.Admin] = struct{}{}
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return len(seen) >= SIGNATURE_THRESHOLD
}

// Approval is the authorization a caller presents with a privileged
// instruction.
type Approval struct {
	ActionType string
	Signatures [][]byte
}

// RecordedSignatures returns every signature recorded for the action, in
// signing order; enough for an Approval once the threshold is reached.
func (a *PendingAction) RecordedSignatures() [][]byte {
	out := make([][]byte, 0, len(a.Signatures))
	for _, s := range a.Signatures {
		out = append(out, s.Signature)
	}
	return out
}

type SignatureRequest struct {
	Admin         [PUBKEY_BYTES]byte
	ActionType    string
	Description   string
	PayloadDigest [32]byte
	Signature     []byte
}

// RecordSignature validates req against current (nil for a label that has no
// signatures yet) and returns the updated action. current is not modified.
func RecordSignature(p crypto.CryptoProvider, admins *AdminSet, current *PendingAction, req SignatureRequest) (*PendingAction, error) {
	if req.ActionType == "" || len(req.ActionType) > MAX_ACTION_TYPE_BYTES {
		return nil, perr(ERR_MALFORMED_INSTRUCTION, fmt.Sprintf("action_type must be 1..%d bytes", MAX_ACTION_TYPE_BYTES))
	}
	if len(req.Description) > MAX_DESCRIPTION_BYTES {
		return nil, perr(ERR_MALFORMED_INSTRUCTION, fmt.Sprintf("description exceeds %d bytes", MAX_DESCRIPTION_BYTES))
	}
	if admins == nil || !admins.Contains(req.Admin) {
		return nil, perr(ERR_NOT_AN_ADMIN, fmt.Sprintf("%x is not an admin", req.Admin))
	}
	if current != nil {
		if current.ActionType != req.ActionType {
			return nil, perr(ERR_ACTION_MISMATCH, fmt.Sprintf("action %q recorded under %q", req.ActionType, current.ActionType))
		}
		if current.Consumed {
			return nil, perr(ERR_ACTION_CONSUMED, fmt.Sprintf("action %q already executed", req.ActionType))
		}
		if current.SignedBy(req.Admin) {
			return nil, perr(ERR_DUPLICATE_SIGNATURE, fmt.Sprintf("admin %x already signed %q", req.Admin, req.ActionType))
		}
		if current.Description != req.Description || current.PayloadDigest != req.PayloadDigest {
			return nil, perr(ERR_ACTION_MISMATCH, fmt.Sprintf("signature for %q covers a different description or payload", req.ActionType))
		}
	}
	digest := ActionDigest(p, req.ActionType, req.Description, req.PayloadDigest)
	if !p.VerifyECDSA(req.Admin[:], req.Signature, digest) {
		return nil, perr(ERR_INVALID_SIGNATURE, fmt.Sprintf("bad signature from admin %x", req.Admin))
	}

	next := current.Clone()
	if next == nil {
		next = &PendingAction{
			ActionType:    req.ActionType,
			Description:   req.Description,
			PayloadDigest: req.PayloadDigest,
		}
	}
	next.Signatures = append(next.Signatures, AdminSignature{Admin: req.Admin, Signature: append([]byte(nil), req.Signature...)})
	return next, nil
}

// ActionStore persists pending actions by label. GetAction returns nil for an
// unknown label.
type ActionStore interface {
	GetAction(actionType string) (*PendingAction, error)
	PutAction(a *PendingAction) error
}

// Authorizer records admin signatures and consumes executed actions against
// an ActionStore.
type Authorizer struct {
	p      crypto.CryptoProvider
	admins *AdminSet
	store  ActionStore
}

func NewAuthorizer(p crypto.CryptoProvider, admins *AdminSet, store ActionStore) *Authorizer {
	return &Authorizer{p: p, admins: admins, store: store}
}

// RecordSignature returns the action's signature count after recording. A
// rejected signature leaves the stored action unchanged.
func (a *Authorizer) RecordSignature(req SignatureRequest) (int, error) {
	current, err := a.store.GetAction(req.ActionType)
	if err != nil {
		return 0, err
	}
	next, err := RecordSignature(a.p, a.admins, current, req)
	if err != nil {
		return 0, err
	}
	if err := a.store.PutAction(next); err != nil {
		return 0, err
	}
	return len(next.Signatures), nil
}

// Action returns a copy of the pending action, or nil.
func (a *Authorizer) Action(actionType string) (*PendingAction, error) {
	act, err := a.store.GetAction(actionType)
	if err != nil {
		return nil, err
	}
	return act.Clone(), nil
}

func (a *Authorizer) MarkConsumed(actionType string) error {
	act, err := a.store.GetAction(actionType)
	if err != nil {
		return err
	}
	if act == nil {
		return perr(ERR_INSUFFICIENT_SIGNATURES, fmt.Sprintf("no pending action %q", actionType))
	}
	if act.Consumed {
		return perr(ERR_ACTION_CONSUMED, fmt.Sprintf("action %q already executed", actionType))
	}
	act.Consumed = true
	return a.store.PutAction(act)
}
