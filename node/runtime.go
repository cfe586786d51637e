package node

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"ovt.dev/treasury/crypto"
	"ovt.dev/treasury/node/store"
	"ovt.dev/treasury/program"
)

var ErrNoAdminSet = errors.New("admin set not recorded")

// Runtime hosts the program over a bbolt store. Each call runs in a single
// read-write transaction, so instructions against the same database are
// serialized and either fully committed or not at all.
type Runtime struct {
	db        *store.DB
	p         crypto.CryptoProvider
	proc      *program.Processor
	programID program.AccountKey
	log       *zap.Logger
	now       func() time.Time
}

func NewRuntime(db *store.DB, p crypto.CryptoProvider, programID program.AccountKey, cfg program.ProcessorConfig, log *zap.Logger) *Runtime {
	if log == nil {
		log = zap.NewNop()
	}
	return &Runtime{
		db:        db,
		p:         p,
		proc:      program.NewProcessor(p, cfg, log.Named("program")),
		programID: programID,
		log:       log,
		now:       time.Now,
	}
}

func (r *Runtime) ProgramID() program.AccountKey { return r.programID }

// DefaultStateKey derives the treasury state account for a program.
func DefaultStateKey(p crypto.CryptoProvider, programID program.AccountKey) program.AccountKey {
	return program.AccountKey(p.SHA3_256(append([]byte("OVT/state/v1"), programID[:]...)))
}

// Submission is one instruction as presented to the host.
type Submission struct {
	Instruction []byte
	Accounts    []program.AccountMeta
	Approval    program.Approval
	// Ephemeral supplies data for read-only accounts that exist only for this
	// call, such as a UTXO claim. It is never persisted.
	Ephemeral map[program.AccountKey][]byte
}

func (r *Runtime) SetAdmins(ctx context.Context, keys [][program.PUBKEY_BYTES]byte) (*program.AdminSet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s, err := program.NewAdminSet(r.p, keys)
	if err != nil {
		return nil, err
	}
	if err := r.db.Update(func(tx *store.Tx) error { return tx.PutAdminSet(s) }); err != nil {
		return nil, fmt.Errorf("record admin set: %w", err)
	}
	r.log.Info("admin set recorded", zap.Int("admins", program.ADMIN_COUNT))
	return s, nil
}

func (r *Runtime) Admins(ctx context.Context) (*program.AdminSet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out *program.AdminSet
	err := r.db.View(func(tx *store.Tx) error {
		s, err := tx.AdminSet(r.p)
		out = s
		return err
	})
	if err != nil {
		return nil, err
	}
	if out == nil {
		return nil, ErrNoAdminSet
	}
	return out, nil
}

// RecordSignature adds one admin signature to the named action and returns
// the action's signature count.
func (r *Runtime) RecordSignature(ctx context.Context, req program.SignatureRequest) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	var count int
	err := r.db.Update(func(tx *store.Tx) error {
		admins, err := tx.AdminSet(r.p)
		if err != nil {
			return err
		}
		if admins == nil {
			return ErrNoAdminSet
		}
		count, err = program.NewAuthorizer(r.p, admins, tx).RecordSignature(req)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("record signature: %w", err)
	}
	r.log.Info("signature recorded",
		zap.String("action", req.ActionType),
		zap.String("admin", fmt.Sprintf("%x", req.Admin)),
		zap.Int("count", count))
	return count, nil
}

func (r *Runtime) Action(ctx context.Context, actionType string) (*program.PendingAction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out *program.PendingAction
	err := r.db.View(func(tx *store.Tx) error {
		a, err := program.NewAuthorizer(r.p, nil, tx).Action(actionType)
		out = a
		return err
	})
	return out, err
}

// Execute runs one instruction. The program's writes and the consumption of
// its approval are committed together; a rejection commits nothing.
func (r *Runtime) Execute(ctx context.Context, sub Submission) (*program.Outcome, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out *program.Outcome
	err := r.db.Update(func(tx *store.Tx) error {
		admins, err := tx.AdminSet(r.p)
		if err != nil {
			return err
		}
		if admins == nil {
			return ErrNoAdminSet
		}
		infos := make([]program.AccountInfo, 0, len(sub.Accounts))
		for _, m := range sub.Accounts {
			info := program.AccountInfo{Key: m.Key, IsSigner: m.IsSigner, IsWritable: m.IsWritable}
			if data, ok := sub.Ephemeral[m.Key]; ok {
				if m.IsWritable {
					return fmt.Errorf("ephemeral account %s must be read-only", m.Key)
				}
				info.Data = data
			} else {
				a, _, err := tx.GetAccount(m.Key)
				if err != nil {
					return err
				}
				info.Owner = a.Owner
				info.Data = a.Data
			}
			infos = append(infos, info)
		}
		auth := program.NewAuthorizer(r.p, admins, tx)
		var action *program.PendingAction
		if sub.Approval.ActionType != "" {
			if action, err = auth.Action(sub.Approval.ActionType); err != nil {
				return err
			}
		}
		var (
			stateKey program.AccountKey
			baseline uint64
		)
		if len(sub.Accounts) > program.ACCOUNT_STATE {
			stateKey = sub.Accounts[program.ACCOUNT_STATE].Key
			if baseline, _, err = tx.NAVBaseline(stateKey); err != nil {
				return err
			}
		}

		res, err := r.proc.Process(&program.Invocation{
			ProgramID:       r.programID,
			Accounts:        infos,
			Data:            sub.Instruction,
			Admins:          admins,
			Approval:        sub.Approval,
			Action:          action,
			BaselineNAVSats: baseline,
			Clock:           uint64(r.now().Unix()), // #nosec G115 -- wall clock is after 1970.
		})
		if err != nil {
			return err
		}
		for _, w := range res.Writes {
			if !declaredWritable(sub.Accounts, w.Key) {
				return fmt.Errorf("program wrote undeclared account %s", w.Key)
			}
			if err := tx.PutAccount(program.Account{Key: w.Key, Owner: w.Owner, Data: w.Data}); err != nil {
				return err
			}
		}
		if res.BaselineNAVSats != 0 {
			if err := tx.PutNAVBaseline(stateKey, res.BaselineNAVSats); err != nil {
				return err
			}
		}
		if err := auth.MarkConsumed(res.ConsumedAction); err != nil {
			return err
		}
		out = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	r.log.Info("instruction executed",
		zap.Stringer("opcode", out.Instruction.Opcode()),
		zap.String("action", out.ConsumedAction),
		zap.Uint64("nav_sats", out.State.NavSats),
		zap.Uint64("total_supply", out.State.TotalSupply),
		zap.Bool("nav_flagged", out.NAVFlagged))
	if out.BaselineNAVSats != 0 {
		r.log.Info("nav baseline recorded", zap.Uint64("baseline", out.BaselineNAVSats))
	}
	return out, nil
}

// NAVBaseline returns the NAV baseline recorded for a state account; ok is
// false until its first UpdateNAV commits.
func (r *Runtime) NAVBaseline(ctx context.Context, key program.AccountKey) (uint64, bool, error) {
	if err := ctx.Err(); err != nil {
		return 0, false, err
	}
	var (
		v  uint64
		ok bool
	)
	err := r.db.View(func(tx *store.Tx) error {
		var err error
		v, ok, err = tx.NAVBaseline(key)
		return err
	})
	return v, ok, err
}

func declaredWritable(metas []program.AccountMeta, key program.AccountKey) bool {
	for _, m := range metas {
		if m.Key == key && m.IsWritable {
			return true
		}
	}
	return false
}

// State reads and decodes a treasury state account.
func (r *Runtime) State(ctx context.Context, key program.AccountKey) (program.TreasuryState, error) {
	if err := ctx.Err(); err != nil {
		return program.TreasuryState{}, err
	}
	var out program.TreasuryState
	err := r.db.View(func(tx *store.Tx) error {
		a, ok, err := tx.GetAccount(key)
		if err != nil {
			return err
		}
		if !ok || a.Owner != r.programID {
			return fmt.Errorf("state %s: %w", key, &program.ProgramError{Code: program.ERR_ACCOUNT_NOT_FOUND, Msg: "not initialized"})
		}
		out, err = program.DecodeTreasuryState(a.Data)
		return err
	})
	return out, err
}
