package program

import (
	"fmt"

	"go.uber.org/zap"

	"ovt.dev/treasury/crypto"
)

// Positional accounts.
const (
	ACCOUNT_STATE     = 0
	ACCOUNT_AUTHORITY = 1
	ACCOUNT_AUX       = 2 // allocator for Initialize, utxo claim for BuybackBurn
)

type ProcessorConfig struct {
	NAVPolicy        NAVPolicy
	MinConfirmations uint32
}

func DefaultProcessorConfig() ProcessorConfig {
	return ProcessorConfig{
		NAVPolicy:        DefaultNAVPolicy,
		MinConfirmations: DEFAULT_MIN_CONFIRMATIONS,
	}
}

// Invocation is everything the host hands the program for one instruction.
type Invocation struct {
	ProgramID AccountKey
	Accounts  []AccountInfo
	Data      []byte

	Admins   *AdminSet
	Approval Approval
	// Action is the pending action named by Approval.ActionType, or nil if the
	// host has none recorded.
	Action *PendingAction

	// BaselineNAVSats is the NAV recorded by the first accepted UpdateNAV for
	// this state account; zero until then.
	BaselineNAVSats uint64

	// Clock is the host's current unix time in seconds.
	Clock uint64
}

type AccountWrite struct {
	Key   AccountKey
	Owner AccountKey
	Data  []byte
}

// Outcome is the full effect of a successful instruction. The host applies
// Writes and marks ConsumedAction in one commit.
type Outcome struct {
	Instruction    Instruction
	Writes         []AccountWrite
	ConsumedAction string
	State          TreasuryState

	NAVFlagged      bool
	// BaselineNAVSats is set only when this instruction established the NAV
	// baseline. The host persists it alongside Writes.
	BaselineNAVSats uint64
	Burned          uint64
	Payment         *BitcoinPayment
}

type Processor struct {
	p   crypto.CryptoProvider
	cfg ProcessorConfig
	log *zap.Logger
}

func NewProcessor(p crypto.CryptoProvider, cfg ProcessorConfig, log *zap.Logger) *Processor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Processor{p: p, cfg: cfg, log: log}
}

// Process validates and executes one instruction. Nothing in inv is
// modified; on error there is no outcome and therefore nothing to commit.
func (pr *Processor) Process(inv *Invocation) (*Outcome, error) {
	out, err := pr.process(inv)
	if err != nil {
		code, _ := CodeOf(err)
		pr.log.Debug("instruction rejected", zap.String("code", string(code)), zap.Error(err))
		return nil, err
	}
	return out, nil
}

func (pr *Processor) process(inv *Invocation) (*Outcome, error) {
	ix, err := DecodeInstruction(inv.Data)
	if err != nil {
		return nil, err
	}
	need := 2
	if ix.Opcode() != OP_UPDATE_NAV {
		need = 3
	}
	if len(inv.Accounts) < need {
		return nil, perr(ERR_ACCOUNT_NOT_FOUND, fmt.Sprintf("%s needs %d accounts (got %d)", ix.Opcode(), need, len(inv.Accounts)))
	}
	authority := inv.Accounts[ACCOUNT_AUTHORITY]
	if !authority.IsSigner {
		return nil, perr(ERR_MISSING_REQUIRED_SIGNATURE, fmt.Sprintf("authority %s did not sign", authority.Key))
	}
	if err := pr.authorize(inv, authority); err != nil {
		return nil, err
	}

	var out *Outcome
	switch ix := ix.(type) {
	case *Initialize:
		out, err = pr.initialize(inv, ix)
	case *UpdateNAV:
		out, err = pr.updateNAV(inv, ix)
	case *BuybackBurn:
		out, err = pr.buybackBurn(inv, ix)
	default:
		return nil, perr(ERR_MALFORMED_INSTRUCTION, fmt.Sprintf("unhandled opcode %s", ix.Opcode()))
	}
	if err != nil {
		return nil, err
	}
	out.Instruction = ix
	out.ConsumedAction = inv.Approval.ActionType
	return out, nil
}

// authorize checks that the authority is an admin and that the approval names
// an unconsumed action, signed by the threshold, over these exact bytes.
func (pr *Processor) authorize(inv *Invocation, authority AccountInfo) error {
	if inv.Admins == nil || !inv.Admins.IsAdminAccount(authority.Key) {
		return perr(ERR_NOT_AN_ADMIN, fmt.Sprintf("authority %s is not an admin", authority.Key))
	}
	act := inv.Action
	if act == nil || act.ActionType != inv.Approval.ActionType {
		return perr(ERR_INSUFFICIENT_SIGNATURES, fmt.Sprintf("no pending action %q", inv.Approval.ActionType))
	}
	if act.Consumed {
		return perr(ERR_ACTION_CONSUMED, fmt.Sprintf("action %q already executed", act.ActionType))
	}
	if act.PayloadDigest != PayloadDigest(pr.p, inv.Data) {
		return perr(ERR_ACTION_MISMATCH, fmt.Sprintf("action %q authorizes a different instruction", act.ActionType))
	}
	if !act.IsAuthorized(inv.Approval.Signatures) {
		return perr(ERR_INSUFFICIENT_SIGNATURES, fmt.Sprintf("action %q: need %d of %d admin signatures", act.ActionType, SIGNATURE_THRESHOLD, ADMIN_COUNT))
	}
	return nil
}

func (pr *Processor) initialize(inv *Invocation, ix *Initialize) (*Outcome, error) {
	st := inv.Accounts[ACCOUNT_STATE]
	allocator := inv.Accounts[ACCOUNT_AUX]
	if allocator.Key != SystemProgramID {
		return nil, perr(ERR_INVALID_ACCOUNT_DATA, fmt.Sprintf("allocator %s is not the system program", allocator.Key))
	}
	if !st.IsWritable {
		return nil, perr(ERR_INVALID_ACCOUNT_DATA, fmt.Sprintf("state %s is not writable", st.Key))
	}
	if st.Owner == inv.ProgramID {
		return nil, perr(ERR_ACCOUNT_ALREADY_INITIALIZED, fmt.Sprintf("state %s already initialized", st.Key))
	}
	if st.Owner != SystemProgramID || len(st.Data) != 0 {
		return nil, perr(ERR_INVALID_ACCOUNT_DATA, fmt.Sprintf("state %s is not an unallocated account", st.Key))
	}

	state := TreasuryState{TreasuryClaimKey: ix.TreasuryKey}
	pr.log.Info("treasury initialized", zap.Stringer("state", st.Key), zap.String("treasury_key", fmt.Sprintf("%x", ix.TreasuryKey)))
	return &Outcome{
		Writes: []AccountWrite{{Key: st.Key, Owner: inv.ProgramID, Data: state.Encode()}},
		State:  state,
	}, nil
}

func (pr *Processor) updateNAV(inv *Invocation, ix *UpdateNAV) (*Outcome, error) {
	st, state, err := pr.loadState(inv)
	if err != nil {
		return nil, err
	}
	chk, err := pr.cfg.NAVPolicy.Validate(state.NavSats, ix.NewNavSats, inv.BaselineNAVSats)
	if err != nil {
		return nil, err
	}
	var baseline uint64
	if state.NavSats == 0 && inv.BaselineNAVSats == 0 && ix.NewNavSats > 0 {
		baseline = ix.NewNavSats
		pr.log.Info("nav baseline established", zap.Stringer("state", st.Key), zap.Uint64("baseline", baseline))
	}
	if chk.Flagged {
		pr.log.Warn("nav change outside monitoring band",
			zap.Uint64("current", state.NavSats),
			zap.Uint64("candidate", ix.NewNavSats),
			zap.String("ratio", Ratio(ix.NewNavSats, state.NavSats)))
	}
	last, err := bumpTimestamp(state.LastNavUpdate, inv.Clock)
	if err != nil {
		return nil, err
	}
	state.NavSats = ix.NewNavSats
	state.LastNavUpdate = last
	return &Outcome{
		Writes:     []AccountWrite{{Key: st.Key, Owner: inv.ProgramID, Data: state.Encode()}},
		State:           state,
		NAVFlagged:      chk.Flagged,
		BaselineNAVSats: baseline,
	}, nil
}

func (pr *Processor) buybackBurn(inv *Invocation, ix *BuybackBurn) (*Outcome, error) {
	st, state, err := pr.loadState(inv)
	if err != nil {
		return nil, err
	}
	if _, err := state.TreasuryPubKey(); err != nil {
		return nil, err
	}
	claim, err := DecodeUTXOClaim(inv.Accounts[ACCOUNT_AUX].Data)
	if err != nil {
		return nil, err
	}
	txid, err := ParsePaymentTxid(ix.PaymentTxid)
	if err != nil {
		return nil, err
	}
	if claim.Txid != txid {
		return nil, perr(ERR_INVALID_BITCOIN_PAYMENT, fmt.Sprintf("claim txid %s does not match payment %s", claim.Txid, txid))
	}
	payment, err := PaymentVerifier{MinConfirmations: pr.cfg.MinConfirmations}.Verify(claim, ix.PaymentAmountSats, state.TreasuryClaimKey)
	if err != nil {
		return nil, err
	}
	burn, err := ComputeBurn(ix.PaymentAmountSats, state.TotalSupply, state.NavSats)
	if err != nil {
		return nil, err
	}
	if err := ValidateSupplyChange(state.TotalSupply, burn.NewSupply); err != nil {
		return nil, err
	}
	state.TotalSupply = burn.NewSupply
	pr.log.Info("buyback burn",
		zap.Stringer("txid", payment.Txid),
		zap.Uint64("payment_sats", ix.PaymentAmountSats),
		zap.Uint64("burned", burn.Burned),
		zap.Uint64("new_supply", burn.NewSupply))
	return &Outcome{
		Writes:  []AccountWrite{{Key: st.Key, Owner: inv.ProgramID, Data: state.Encode()}},
		State:   state,
		Burned:  burn.Burned,
		Payment: &payment,
	}, nil
}

func (pr *Processor) loadState(inv *Invocation) (AccountInfo, TreasuryState, error) {
	st := inv.Accounts[ACCOUNT_STATE]
	if !st.IsWritable {
		return st, TreasuryState{}, perr(ERR_INVALID_ACCOUNT_DATA, fmt.Sprintf("state %s is not writable", st.Key))
	}
	if !st.Initialized(inv.ProgramID) {
		return st, TreasuryState{}, perr(ERR_INVALID_ACCOUNT_DATA, fmt.Sprintf("state %s is not an initialized program account", st.Key))
	}
	state, err := DecodeTreasuryState(st.Data)
	if err != nil {
		return st, TreasuryState{}, err
	}
	return st, state, nil
}
