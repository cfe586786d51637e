package store

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"ovt.dev/treasury/crypto"
	"ovt.dev/treasury/program"
)

var (
	bucketAccounts = []byte("accounts")
	bucketActions  = []byte("actions")
	bucketMeta     = []byte("meta")

	metaAdminSet       = []byte("admin_set")
	metaNAVBaselinePfx = []byte("nav_baseline/")
)

var (
	ErrAdminSetExists    = errors.New("admin set already recorded")
	ErrNAVBaselineExists = errors.New("nav baseline already recorded")
)

type DB struct {
	dir      string
	db       *bolt.DB
	manifest *Manifest
}

// Open opens (creating if needed) the database for programID.
func Open(datadir string, programID program.AccountKey) (*DB, error) {
	if datadir == "" {
		return nil, fmt.Errorf("datadir required")
	}
	dir := ProgramDir(datadir, programID.String())
	if err := ensureDir(filepath.Join(dir, "db")); err != nil {
		return nil, err
	}

	bdb, err := bolt.Open(filepath.Join(dir, "db", "kv.db"), 0o600, &bolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("open bbolt: %w", err)
	}
	d := &DB{dir: dir, db: bdb}

	if err := d.db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketAccounts, bucketActions, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("create bucket %s: %w", string(b), err)
			}
		}
		return nil
	}); err != nil {
		_ = bdb.Close()
		return nil, err
	}

	m, err := readManifest(dir)
	switch {
	case os.IsNotExist(err):
		m = &Manifest{SchemaVersion: SchemaVersionV1, ProgramIDHex: programID.String()}
		if err := writeManifestAtomic(dir, m); err != nil {
			_ = bdb.Close()
			return nil, err
		}
	case err != nil:
		_ = bdb.Close()
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	if m.SchemaVersion > SchemaVersionV1 {
		_ = bdb.Close()
		return nil, fmt.Errorf("manifest schema_version %d > supported %d", m.SchemaVersion, SchemaVersionV1)
	}
	if m.ProgramIDHex != programID.String() {
		_ = bdb.Close()
		return nil, fmt.Errorf("manifest program_id %s does not match %s", m.ProgramIDHex, programID)
	}
	d.manifest = m
	return d, nil
}

func (d *DB) Close() error {
	if d == nil || d.db == nil {
		return nil
	}
	return d.db.Close()
}

func (d *DB) Dir() string { return d.dir }

func (d *DB) Manifest() *Manifest {
	if d == nil {
		return nil
	}
	return d.manifest
}

// Tx is one bbolt transaction over the program's buckets. Writes through a Tx
// obtained from View fail.
type Tx struct {
	tx *bolt.Tx
}

var _ program.ActionStore = (*Tx)(nil)

// Update runs fn in a read-write transaction; any error rolls back every write
// fn made.
func (d *DB) Update(fn func(*Tx) error) error {
	return d.db.Update(func(tx *bolt.Tx) error { return fn(&Tx{tx: tx}) })
}

func (d *DB) View(fn func(*Tx) error) error {
	return d.db.View(func(tx *bolt.Tx) error { return fn(&Tx{tx: tx}) })
}

func (t *Tx) GetAccount(key program.AccountKey) (program.Account, bool, error) {
	v := t.tx.Bucket(bucketAccounts).Get(key[:])
	if v == nil {
		return program.Account{Key: key}, false, nil
	}
	a, err := decodeAccount(key[:], v)
	if err != nil {
		return program.Account{}, false, err
	}
	return a, true, nil
}

func (t *Tx) PutAccount(a program.Account) error {
	return t.tx.Bucket(bucketAccounts).Put(a.Key[:], encodeAccount(a))
}

func (t *Tx) GetAction(actionType string) (*program.PendingAction, error) {
	v := t.tx.Bucket(bucketActions).Get([]byte(actionType))
	if v == nil {
		return nil, nil
	}
	return decodeAction(v)
}

func (t *Tx) PutAction(a *program.PendingAction) error {
	if a == nil || a.ActionType == "" {
		return fmt.Errorf("action: label required")
	}
	v, err := encodeAction(a)
	if err != nil {
		return err
	}
	return t.tx.Bucket(bucketActions).Put([]byte(a.ActionType), v)
}

// AdminSet returns the recorded admin set, or nil if none has been recorded.
func (t *Tx) AdminSet(p crypto.CryptoProvider) (*program.AdminSet, error) {
	v := t.tx.Bucket(bucketMeta).Get(metaAdminSet)
	if v == nil {
		return nil, nil
	}
	return program.DecodeAdminSet(p, v)
}

// PutAdminSet records the admin set once; membership is fixed afterwards.
func (t *Tx) PutAdminSet(s *program.AdminSet) error {
	b := t.tx.Bucket(bucketMeta)
	if b.Get(metaAdminSet) != nil {
		return ErrAdminSetExists
	}
	return b.Put(metaAdminSet, s.Encode())
}

func navBaselineKey(state program.AccountKey) []byte {
	return append(append([]byte(nil), metaNAVBaselinePfx...), state[:]...)
}

// NAVBaseline returns the NAV baseline recorded for a state account.
func (t *Tx) NAVBaseline(state program.AccountKey) (uint64, bool, error) {
	v := t.tx.Bucket(bucketMeta).Get(navBaselineKey(state))
	if v == nil {
		return 0, false, nil
	}
	if len(v) != 8 {
		return 0, false, fmt.Errorf("nav baseline %s: %d bytes", state, len(v))
	}
	return binary.LittleEndian.Uint64(v), true, nil
}

// PutNAVBaseline records the baseline once per state account.
func (t *Tx) PutNAVBaseline(state program.AccountKey, navSats uint64) error {
	if navSats == 0 {
		return fmt.Errorf("nav baseline %s: zero", state)
	}
	b := t.tx.Bucket(bucketMeta)
	key := navBaselineKey(state)
	if b.Get(key) != nil {
		return ErrNAVBaselineExists
	}
	return b.Put(key, binary.LittleEndian.AppendUint64(nil, navSats))
}
