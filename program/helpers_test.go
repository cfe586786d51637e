package program

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/davecgh/go-spew/spew"

	"ovt.dev/treasury/crypto"
)

var testProvider = crypto.StdCryptoProvider{}

func mustCode(t *testing.T, err error) ErrorCode {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error")
	}
	code, ok := CodeOf(err)
	if !ok {
		t.Fatalf("expected *ProgramError, got %T: %v", err, err)
	}
	return code
}

func testPrivKey(seed byte) *btcec.PrivateKey {
	priv, _ := btcec.PrivKeyFromBytes(bytes.Repeat([]byte{seed}, 32))
	return priv
}

func testPubKey(t *testing.T, seed byte) [PUBKEY_BYTES]byte {
	t.Helper()
	return crypto.CompressedPubKey(testPrivKey(seed))
}

// testAdmins returns an admin set built from seeds 1..5 and the matching
// private keys in the same order.
func testAdmins(t *testing.T) (*AdminSet, []*btcec.PrivateKey) {
	t.Helper()
	privs := make([]*btcec.PrivateKey, ADMIN_COUNT)
	keys := make([][PUBKEY_BYTES]byte, ADMIN_COUNT)
	for i := range privs {
		privs[i] = testPrivKey(byte(i + 1))
		keys[i] = crypto.CompressedPubKey(privs[i])
	}
	admins, err := NewAdminSet(testProvider, keys)
	if err != nil {
		t.Fatalf("NewAdminSet: %v", err)
	}
	return admins, privs
}

func signRequest(priv *btcec.PrivateKey, actionType, description string, payload [32]byte) SignatureRequest {
	digest := ActionDigest(testProvider, actionType, description, payload)
	return SignatureRequest{
		Admin:         crypto.CompressedPubKey(priv),
		ActionType:    actionType,
		Description:   description,
		PayloadDigest: payload,
		Signature:     crypto.SignECDSA(priv, digest),
	}
}

// memActions is an in-memory ActionStore.
type memActions map[string]*PendingAction

func (m memActions) GetAction(actionType string) (*PendingAction, error) {
	return m[actionType].Clone(), nil
}

func (m memActions) PutAction(a *PendingAction) error {
	m[a.ActionType] = a.Clone()
	return nil
}

// harness plays the host: it owns accounts and pending actions and applies
// outcomes only on success.
type harness struct {
	t         *testing.T
	proc      *Processor
	admins    *AdminSet
	privs     []*btcec.PrivateKey
	auth      *Authorizer
	programID AccountKey
	stateKey  AccountKey
	accounts  map[AccountKey]Account
	clock     uint64
	seq       int
	// baseline is the persisted NAV baseline for stateKey.
	baseline  uint64
}

func newHarness(t *testing.T, cfg ProcessorConfig) *harness {
	t.Helper()
	admins, privs := testAdmins(t)
	h := &harness{
		t:         t,
		proc:      NewProcessor(testProvider, cfg, nil),
		admins:    admins,
		privs:     privs,
		auth:      NewAuthorizer(testProvider, admins, make(memActions)),
		programID: AccountKey(testProvider.SHA3_256([]byte("program"))),
		stateKey:  AccountKey(testProvider.SHA3_256([]byte("state"))),
		accounts:  make(map[AccountKey]Account),
		clock:     1_700_000_000,
	}
	return h
}

// approve records signatures from the given admins over ix under a fresh
// action label and returns the matching approval.
func (h *harness) approve(ix Instruction, signers ...int) Approval {
	h.t.Helper()
	h.seq++
	label := fmt.Sprintf("%s-%d", ix.Opcode(), h.seq)
	payload := PayloadDigest(testProvider, ix.Encode())
	for _, i := range signers {
		if _, err := h.auth.RecordSignature(signRequest(h.privs[i], label, "test", payload)); err != nil {
			h.t.Fatalf("RecordSignature(%d): %v", i, err)
		}
	}
	act := pendingAction(h.t, h.auth, label)
	if act == nil {
		return Approval{ActionType: label}
	}
	return Approval{ActionType: label, Signatures: act.RecordedSignatures()}
}

func (h *harness) authority() AccountInfo {
	pub := crypto.CompressedPubKey(h.privs[0])
	return AccountInfo{Key: AdminAccountKey(testProvider, pub), IsSigner: true}
}

func (h *harness) stateInfo() AccountInfo {
	a := h.accounts[h.stateKey]
	return AccountInfo{Key: h.stateKey, Owner: a.Owner, IsWritable: true, Data: a.Data}
}

func (h *harness) invocation(ix Instruction, aux *AccountInfo, approval Approval) *Invocation {
	accounts := []AccountInfo{h.stateInfo(), h.authority()}
	if aux != nil {
		accounts = append(accounts, *aux)
	}
	return &Invocation{
		ProgramID:       h.programID,
		Accounts:        accounts,
		Data:            ix.Encode(),
		Admins:          h.admins,
		Approval:        approval,
		Action:          pendingAction(h.t, h.auth, approval.ActionType),
		BaselineNAVSats: h.baseline,
		Clock:           h.clock,
	}
}

func (h *harness) run(inv *Invocation) (*Outcome, error) {
	h.t.Helper()
	out, err := h.proc.Process(inv)
	if err != nil {
		return nil, err
	}
	for _, w := range out.Writes {
		h.accounts[w.Key] = Account{Key: w.Key, Owner: w.Owner, Data: append([]byte(nil), w.Data...)}
	}
	if out.BaselineNAVSats != 0 {
		h.baseline = out.BaselineNAVSats
	}
	if err := h.auth.MarkConsumed(out.ConsumedAction); err != nil {
		h.t.Fatalf("MarkConsumed: %v", err)
	}
	return out, nil
}

// exec approves ix with admins 0..2 and runs it.
func (h *harness) exec(ix Instruction, aux *AccountInfo) (*Outcome, error) {
	h.t.Helper()
	return h.run(h.invocation(ix, aux, h.approve(ix, 0, 1, 2)))
}

func (h *harness) allocator() *AccountInfo {
	return &AccountInfo{Key: SystemProgramID}
}

// seedState stores s as the state account. A seeded nonzero NAV is taken as
// the baseline unless one was set already.
func (h *harness) seedState(s TreasuryState) {
	h.accounts[h.stateKey] = Account{Key: h.stateKey, Owner: h.programID, Data: s.Encode()}
	if h.baseline == 0 {
		h.baseline = s.NavSats
	}
}

func (h *harness) state() TreasuryState {
	h.t.Helper()
	s, err := DecodeTreasuryState(h.accounts[h.stateKey].Data)
	if err != nil {
		h.t.Fatalf("state: %v", err)
	}
	return s
}

func (h *harness) requireState(want TreasuryState) {
	h.t.Helper()
	if got := h.state(); got != want {
		h.t.Fatalf("state mismatch:\n got: %s\nwant: %s", spew.Sdump(got), spew.Sdump(want))
	}
}
