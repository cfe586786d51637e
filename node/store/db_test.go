package store

import (
	"bytes"
	"errors"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/stretchr/testify/require"

	"ovt.dev/treasury/crypto"
	"ovt.dev/treasury/program"
)

var testProgramID = program.AccountKey{0x0b, 0x71}

func openTestDB(t *testing.T, datadir string) *DB {
	t.Helper()
	db, err := Open(datadir, testProgramID)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func testAdminSet(t *testing.T) *program.AdminSet {
	t.Helper()
	keys := make([][33]byte, program.ADMIN_COUNT)
	for i := range keys {
		priv, _ := btcec.PrivKeyFromBytes(bytes.Repeat([]byte{byte(i + 1)}, 32))
		keys[i] = crypto.CompressedPubKey(priv)
	}
	s, err := program.NewAdminSet(crypto.StdCryptoProvider{}, keys)
	require.NoError(t, err)
	return s
}

func TestDB_AccountRoundTrip(t *testing.T) {
	db := openTestDB(t, t.TempDir())
	key := program.AccountKey{0x01}
	state := program.TreasuryState{NavSats: 7, TotalSupply: 9}

	err := db.View(func(tx *Tx) error {
		a, ok, err := tx.GetAccount(key)
		require.NoError(t, err)
		require.False(t, ok)
		require.Equal(t, key, a.Key)
		require.Equal(t, program.SystemProgramID, a.Owner)
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, db.Update(func(tx *Tx) error {
		return tx.PutAccount(program.Account{Key: key, Owner: testProgramID, Data: state.Encode()})
	}))

	require.NoError(t, db.View(func(tx *Tx) error {
		a, ok, err := tx.GetAccount(key)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, testProgramID, a.Owner)
		got, err := program.DecodeTreasuryState(a.Data)
		require.NoError(t, err)
		require.Equal(t, state, got)
		return nil
	}))

	all, err := db.LoadAccounts()
	require.NoError(t, err)
	require.Len(t, all, 1)
}

func TestDB_UpdateRollsBackOnError(t *testing.T) {
	db := openTestDB(t, t.TempDir())
	boom := errors.New("boom")
	err := db.Update(func(tx *Tx) error {
		require.NoError(t, tx.PutAccount(program.Account{Key: program.AccountKey{0x02}, Owner: testProgramID, Data: []byte{1}}))
		return boom
	})
	require.ErrorIs(t, err, boom)

	all, err := db.LoadAccounts()
	require.NoError(t, err)
	require.Empty(t, all)
}

func TestDB_ActionRoundTrip(t *testing.T) {
	db := openTestDB(t, t.TempDir())
	act := &program.PendingAction{
		ActionType:    "update_nav-q3",
		Description:   "quarterly nav",
		PayloadDigest: [32]byte{0xaa},
		Signatures: []program.AdminSignature{
			{Admin: [33]byte{0x02, 0x01}, Signature: []byte{0x30, 0x44}},
		},
	}
	require.NoError(t, db.Update(func(tx *Tx) error { return tx.PutAction(act) }))

	require.NoError(t, db.View(func(tx *Tx) error {
		got, err := tx.GetAction(act.ActionType)
		require.NoError(t, err)
		require.Equal(t, act, got)
		missing, err := tx.GetAction("nope")
		require.NoError(t, err)
		require.Nil(t, missing)
		return nil
	}))

	require.Error(t, db.Update(func(tx *Tx) error { return tx.PutAction(&program.PendingAction{}) }))

	acts, err := db.LoadActions()
	require.NoError(t, err)
	require.Len(t, acts, 1)
}

func TestDB_AdminSetIsWriteOnce(t *testing.T) {
	db := openTestDB(t, t.TempDir())
	p := crypto.StdCryptoProvider{}
	s := testAdminSet(t)

	require.NoError(t, db.View(func(tx *Tx) error {
		got, err := tx.AdminSet(p)
		require.NoError(t, err)
		require.Nil(t, got)
		return nil
	}))
	require.NoError(t, db.Update(func(tx *Tx) error { return tx.PutAdminSet(s) }))
	err := db.Update(func(tx *Tx) error { return tx.PutAdminSet(s) })
	require.ErrorIs(t, err, ErrAdminSetExists)

	require.NoError(t, db.View(func(tx *Tx) error {
		got, err := tx.AdminSet(p)
		require.NoError(t, err)
		require.Equal(t, s.Encode(), got.Encode())
		return nil
	}))
}

func TestOpen_ManifestPinsProgram(t *testing.T) {
	datadir := t.TempDir()
	db, err := Open(datadir, testProgramID)
	require.NoError(t, err)
	require.Equal(t, SchemaVersionV1, db.Manifest().SchemaVersion)
	require.Equal(t, testProgramID.String(), db.Manifest().ProgramIDHex)
	dir := db.Dir()
	require.NoError(t, db.Close())

	db, err = Open(datadir, testProgramID)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	require.NoError(t, writeManifestAtomic(dir, &Manifest{SchemaVersion: SchemaVersionV1 + 1, ProgramIDHex: testProgramID.String()}))
	_, err = Open(datadir, testProgramID)
	require.ErrorContains(t, err, "schema_version")

	_, err = Open("", testProgramID)
	require.Error(t, err)
}

func TestNAVBaselineIsWriteOnce(t *testing.T) {
	db := openTestDB(t, t.TempDir())
	state := program.AccountKey{7}
	other := program.AccountKey{8}

	require.NoError(t, db.View(func(tx *Tx) error {
		_, ok, err := tx.NAVBaseline(state)
		require.NoError(t, err)
		require.False(t, ok)
		return nil
	}))

	require.NoError(t, db.Update(func(tx *Tx) error { return tx.PutNAVBaseline(state, 50_000_000) }))
	err := db.Update(func(tx *Tx) error { return tx.PutNAVBaseline(state, 45_000_000) })
	require.ErrorIs(t, err, ErrNAVBaselineExists)
	require.Error(t, db.Update(func(tx *Tx) error { return tx.PutNAVBaseline(other, 0) }))

	require.NoError(t, db.View(func(tx *Tx) error {
		v, ok, err := tx.NAVBaseline(state)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, uint64(50_000_000), v)

		_, ok, err = tx.NAVBaseline(other)
		require.NoError(t, err)
		require.False(t, ok)
		return nil
	}))
}

func TestTx_BacksAuthorizer(t *testing.T) {
	db := openTestDB(t, t.TempDir())
	p := crypto.StdCryptoProvider{}
	admins := testAdminSet(t)
	payload := program.PayloadDigest(p, []byte("ix"))
	sign := func(seed byte) program.SignatureRequest {
		priv, _ := btcec.PrivKeyFromBytes(bytes.Repeat([]byte{seed}, 32))
		return program.SignatureRequest{
			Admin:         crypto.CompressedPubKey(priv),
			ActionType:    "nav-1",
			Description:   "raise nav",
			PayloadDigest: payload,
			Signature:     crypto.SignECDSA(priv, program.ActionDigest(p, "nav-1", "raise nav", payload)),
		}
	}

	for i := byte(1); i <= 3; i++ {
		require.NoError(t, db.Update(func(tx *Tx) error {
			n, err := program.NewAuthorizer(p, admins, tx).RecordSignature(sign(i))
			require.Equal(t, int(i), n)
			return err
		}))
	}
	// A rejected signature inside the transaction leaves the action as stored.
	err := db.Update(func(tx *Tx) error {
		_, err := program.NewAuthorizer(p, admins, tx).RecordSignature(sign(1))
		return err
	})
	code, ok := program.CodeOf(err)
	require.True(t, ok)
	require.Equal(t, program.ERR_DUPLICATE_SIGNATURE, code)

	require.NoError(t, db.Update(func(tx *Tx) error {
		return program.NewAuthorizer(p, admins, tx).MarkConsumed("nav-1")
	}))
	err = db.Update(func(tx *Tx) error {
		return program.NewAuthorizer(p, admins, tx).MarkConsumed("nav-1")
	})
	code, _ = program.CodeOf(err)
	require.Equal(t, program.ERR_ACTION_CONSUMED, code)

	acts, err := db.LoadActions()
	require.NoError(t, err)
	require.Len(t, acts, 1)
	require.Len(t, acts[0].Signatures, 3)
	require.True(t, acts[0].Consumed)
}

func TestDecodeAccountRejectsTruncated(t *testing.T) {
	_, err := decodeAccount(make([]byte, 32), make([]byte, 31))
	require.Error(t, err)
	_, err = decodeAccount(make([]byte, 31), make([]byte, 32))
	require.Error(t, err)
	a, err := decodeAccount(make([]byte, 32), make([]byte, 32))
	require.NoError(t, err)
	require.Nil(t, a.Data)
}
