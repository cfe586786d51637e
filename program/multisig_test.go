package program

import (
	"bytes"
	"testing"
)

func TestNewAdminSetValidation(t *testing.T) {
	admins, _ := testAdmins(t)
	keys := admins.Keys()

	if _, err := NewAdminSet(testProvider, keys[:4]); mustCode(t, err) != ERR_INVALID_ACCOUNT_DATA {
		t.Fatalf("4 keys must be rejected")
	}
	six := append(append([][PUBKEY_BYTES]byte(nil), keys...), testPubKey(t, 9))
	if _, err := NewAdminSet(testProvider, six); mustCode(t, err) != ERR_INVALID_ACCOUNT_DATA {
		t.Fatalf("6 keys must be rejected")
	}
	dup := append([][PUBKEY_BYTES]byte(nil), keys...)
	dup[4] = dup[1]
	if _, err := NewAdminSet(testProvider, dup); mustCode(t, err) != ERR_INVALID_ACCOUNT_DATA {
		t.Fatalf("duplicate key must be rejected")
	}
	bad := append([][PUBKEY_BYTES]byte(nil), keys...)
	bad[2] = [PUBKEY_BYTES]byte{}
	if _, err := NewAdminSet(testProvider, bad); mustCode(t, err) != ERR_INVALID_ACCOUNT_DATA {
		t.Fatalf("invalid key must be rejected")
	}
}

func TestAdminSetEncodeDecode(t *testing.T) {
	admins, privs := testAdmins(t)
	enc := admins.Encode()
	if len(enc) != ADMIN_SET_BYTES {
		t.Fatalf("len=%d", len(enc))
	}
	dec, err := DecodeAdminSet(testProvider, enc)
	if err != nil {
		t.Fatalf("DecodeAdminSet: %v", err)
	}
	if !bytes.Equal(dec.Encode(), enc) {
		t.Fatalf("re-encode mismatch")
	}
	for _, priv := range privs {
		var pub [PUBKEY_BYTES]byte
		copy(pub[:], priv.PubKey().SerializeCompressed())
		if !dec.Contains(pub) || !dec.IsAdminAccount(AdminAccountKey(testProvider, pub)) {
			t.Fatalf("admin %x missing", pub)
		}
	}
	if dec.Contains(testPubKey(t, 9)) {
		t.Fatalf("non-admin reported as admin")
	}
	if _, err := DecodeAdminSet(testProvider, enc[:ADMIN_SET_BYTES-1]); mustCode(t, err) != ERR_INVALID_ACCOUNT_DATA {
		t.Fatalf("short admin set must be rejected")
	}
}

func TestActionDigestBindsEveryField(t *testing.T) {
	var payload [32]byte
	base := ActionDigest(testProvider, "update_nav", "q3", payload)
	other := payload
	other[0] = 1
	variants := [][32]byte{
		ActionDigest(testProvider, "update_nav2", "q3", payload),
		ActionDigest(testProvider, "update_nav", "q4", payload),
		ActionDigest(testProvider, "update_nav", "q3", other),
		// Length prefixes keep the field boundary unambiguous.
		ActionDigest(testProvider, "update_na", "vq3", payload),
	}
	for i, v := range variants {
		if v == base {
			t.Fatalf("variant %d collides with base digest", i)
		}
	}
}

func authorized(t *testing.T, auth *Authorizer, actionType string, sigs [][]byte) bool {
	t.Helper()
	return pendingAction(t, auth, actionType).IsAuthorized(sigs)
}

func pendingAction(t *testing.T, auth *Authorizer, actionType string) *PendingAction {
	t.Helper()
	act, err := auth.Action(actionType)
	if err != nil {
		t.Fatalf("Action(%s): %v", actionType, err)
	}
	return act
}

func TestAuthorizerThreshold(t *testing.T) {
	admins, privs := testAdmins(t)
	auth := NewAuthorizer(testProvider, admins, make(memActions))
	payload := PayloadDigest(testProvider, []byte("ix"))

	var sigs [][]byte
	for i := 0; i < 2; i++ {
		req := signRequest(privs[i], "nav-1", "raise nav", payload)
		n, err := auth.RecordSignature(req)
		if err != nil {
			t.Fatalf("RecordSignature(%d): %v", i, err)
		}
		if n != i+1 {
			t.Fatalf("count=%d want %d", n, i+1)
		}
		sigs = append(sigs, req.Signature)
	}
	if authorized(t, auth, "nav-1", sigs) {
		t.Fatalf("2 signatures must not authorize")
	}
	// Repeating a signature does not make it count twice.
	if authorized(t, auth, "nav-1", [][]byte{sigs[0], sigs[1], sigs[0]}) {
		t.Fatalf("repeated signature counted twice")
	}

	req := signRequest(privs[4], "nav-1", "raise nav", payload)
	if n, err := auth.RecordSignature(req); err != nil || n != 3 {
		t.Fatalf("third signature: n=%d err=%v", n, err)
	}
	sigs = append(sigs, req.Signature)
	if !authorized(t, auth, "nav-1", sigs) {
		t.Fatalf("3 signatures must authorize")
	}
	if authorized(t, auth, "nav-2", sigs) {
		t.Fatalf("signatures authorize only their own action")
	}
	forged := append(append([][]byte(nil), sigs...), []byte{0x30, 0x01})
	if authorized(t, auth, "nav-1", forged) {
		t.Fatalf("unrecorded signature accepted")
	}
}

func TestAuthorizerRejections(t *testing.T) {
	admins, privs := testAdmins(t)
	auth := NewAuthorizer(testProvider, admins, make(memActions))
	payload := PayloadDigest(testProvider, []byte("ix"))

	if _, err := auth.RecordSignature(signRequest(privs[0], "burn-1", "buyback", payload)); err != nil {
		t.Fatalf("first signature: %v", err)
	}

	_, err := auth.RecordSignature(signRequest(privs[0], "burn-1", "buyback", payload))
	if got := mustCode(t, err); got != ERR_DUPLICATE_SIGNATURE {
		t.Fatalf("duplicate: code=%s", got)
	}
	if n := len(pendingAction(t, auth, "burn-1").Signatures); n != 1 {
		t.Fatalf("duplicate changed count to %d", n)
	}

	_, err = auth.RecordSignature(signRequest(testPrivKey(9), "burn-1", "buyback", payload))
	if got := mustCode(t, err); got != ERR_NOT_AN_ADMIN {
		t.Fatalf("outsider: code=%s", got)
	}

	_, err = auth.RecordSignature(signRequest(privs[1], "burn-1", "something else", payload))
	if got := mustCode(t, err); got != ERR_ACTION_MISMATCH {
		t.Fatalf("description mismatch: code=%s", got)
	}

	req := signRequest(privs[1], "burn-1", "buyback", payload)
	req.Signature = signRequest(privs[1], "burn-2", "buyback", payload).Signature
	_, err = auth.RecordSignature(req)
	if got := mustCode(t, err); got != ERR_INVALID_SIGNATURE {
		t.Fatalf("wrong digest: code=%s", got)
	}

	_, err = auth.RecordSignature(signRequest(privs[1], "", "buyback", payload))
	if got := mustCode(t, err); got != ERR_MALFORMED_INSTRUCTION {
		t.Fatalf("empty label: code=%s", got)
	}
	if n := len(pendingAction(t, auth, "burn-1").Signatures); n != 1 {
		t.Fatalf("rejections changed count to %d", n)
	}
}

func TestAuthorizerConsumedAction(t *testing.T) {
	admins, privs := testAdmins(t)
	auth := NewAuthorizer(testProvider, admins, make(memActions))
	payload := PayloadDigest(testProvider, []byte("ix"))
	for i := 0; i < 3; i++ {
		if _, err := auth.RecordSignature(signRequest(privs[i], "init", "", payload)); err != nil {
			t.Fatalf("RecordSignature(%d): %v", i, err)
		}
	}
	sigs := pendingAction(t, auth, "init").RecordedSignatures()
	if !authorized(t, auth, "init", sigs) {
		t.Fatalf("expected authorized")
	}
	if err := auth.MarkConsumed("init"); err != nil {
		t.Fatalf("MarkConsumed: %v", err)
	}
	if authorized(t, auth, "init", sigs) {
		t.Fatalf("consumed action still authorized")
	}
	if err := auth.MarkConsumed("init"); mustCode(t, err) != ERR_ACTION_CONSUMED {
		t.Fatalf("double consume must fail")
	}
	_, err := auth.RecordSignature(signRequest(privs[3], "init", "", payload))
	if got := mustCode(t, err); got != ERR_ACTION_CONSUMED {
		t.Fatalf("sign consumed: code=%s", got)
	}
}

func TestRecordSignatureDoesNotMutateCurrent(t *testing.T) {
	admins, privs := testAdmins(t)
	payload := PayloadDigest(testProvider, []byte("ix"))
	first, err := RecordSignature(testProvider, admins, nil, signRequest(privs[0], "a", "", payload))
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	second, err := RecordSignature(testProvider, admins, first, signRequest(privs[1], "a", "", payload))
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if len(first.Signatures) != 1 || len(second.Signatures) != 2 {
		t.Fatalf("first=%d second=%d", len(first.Signatures), len(second.Signatures))
	}
}
