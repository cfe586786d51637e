package main

import (
	"encoding/hex"
	"fmt"
	"math"
	"sort"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/urfave/cli/v2"

	"ovt.dev/treasury/crypto"
	"ovt.dev/treasury/node"
	"ovt.dev/treasury/program"
)

var configCmd = &cli.Command{
	Name:  "config",
	Usage: "Print the effective config",
	Action: func(c *cli.Context) error {
		cfg, err := loadConfig(c)
		if err != nil {
			return err
		}
		return writeJSON(c.App.Writer, cfg)
	},
}

var keygenCmd = &cli.Command{
	Name:  "keygen",
	Usage: "Generate an admin signing key into a wrapped keystore",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "out", Usage: "keystore output path", Required: true},
		kekFlag,
	},
	Action: func(c *cli.Context) error {
		kek, err := decodeHexFlag(c, kekFlag.Name)
		if err != nil {
			return err
		}
		priv, err := btcec.NewPrivateKey()
		if err != nil {
			return fmt.Errorf("generate key: %w", err)
		}
		ks, err := crypto.SealKey(crypto.StdCryptoProvider{}, priv, kek)
		if err != nil {
			return fmt.Errorf("seal key: %w", err)
		}
		if err := crypto.WriteKeyStore(c.String("out"), ks); err != nil {
			return fmt.Errorf("write keystore: %w", err)
		}
		_, err = fmt.Fprintf(c.App.Writer, "pubkey=%s account=%s\n", ks.PubkeyHex, ks.AccountHex)
		return err
	},
}

type adminView struct {
	PubkeyHex  string `json:"pubkey_hex"`
	AccountHex string `json:"account_hex"`
}

var adminsCmd = &cli.Command{
	Name:  "admins",
	Usage: "Manage the recorded admin set",
	Subcommands: []*cli.Command{
		{
			Name:  "set",
			Usage: "Record the five admin public keys (write-once)",
			Flags: []cli.Flag{
				&cli.StringSliceFlag{Name: "pubkey", Usage: "compressed admin pubkey (hex); repeat five times", Required: true},
			},
			Action: func(c *cli.Context) error {
				raw := c.StringSlice("pubkey")
				keys := make([][program.PUBKEY_BYTES]byte, 0, len(raw))
				for _, s := range raw {
					k, err := parsePubKey(s)
					if err != nil {
						return fmt.Errorf("--pubkey %q: %w", s, err)
					}
					keys = append(keys, k)
				}
				e, err := openEnv(c)
				if err != nil {
					return err
				}
				defer e.Close()
				set, err := e.rt.SetAdmins(c.Context, keys)
				if err != nil {
					return err
				}
				return writeJSON(c.App.Writer, adminViews(e, set))
			},
		},
		{
			Name:  "show",
			Usage: "Print the recorded admin set",
			Action: func(c *cli.Context) error {
				e, err := openEnv(c)
				if err != nil {
					return err
				}
				defer e.Close()
				set, err := e.rt.Admins(c.Context)
				if err != nil {
					return err
				}
				return writeJSON(c.App.Writer, adminViews(e, set))
			},
		},
	},
}

func adminViews(e *env, set *program.AdminSet) []adminView {
	out := make([]adminView, 0, program.ADMIN_COUNT)
	for _, k := range set.Keys() {
		out = append(out, adminView{
			PubkeyHex:  hex.EncodeToString(k[:]),
			AccountHex: program.AdminAccountKey(e.p, k).String(),
		})
	}
	return out
}

var encodeCmd = &cli.Command{
	Name:  "encode",
	Usage: "Encode instructions and UTXO claims as hex",
	Subcommands: []*cli.Command{
		{
			Name:  "initialize",
			Usage: "Initialize the treasury state",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "treasury-key", Usage: "compressed treasury claim pubkey (hex)", Required: true},
			},
			Action: func(c *cli.Context) error {
				k, err := parsePubKey(c.String("treasury-key"))
				if err != nil {
					return fmt.Errorf("--treasury-key: %w", err)
				}
				return printInstruction(c, &program.Initialize{TreasuryKey: k})
			},
		},
		{
			Name:  "update-nav",
			Usage: "Set a new NAV per token, in satoshis",
			Flags: []cli.Flag{
				&cli.Uint64Flag{Name: "nav-sats", Required: true},
			},
			Action: func(c *cli.Context) error {
				return printInstruction(c, &program.UpdateNAV{NewNavSats: c.Uint64("nav-sats")})
			},
		},
		{
			Name:  "buyback-burn",
			Usage: "Burn tokens against a confirmed bitcoin payment",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "txid", Usage: "payment txid (display hex)", Required: true},
				&cli.Uint64Flag{Name: "amount-sats", Required: true},
			},
			Action: func(c *cli.Context) error {
				return printInstruction(c, &program.BuybackBurn{
					PaymentTxid:       c.String("txid"),
					PaymentAmountSats: c.Uint64("amount-sats"),
				})
			},
		},
		{
			Name:  "claim",
			Usage: "Encode a UTXO claim for buyback-burn",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "txid", Usage: "payment txid (display hex)", Required: true},
				&cli.Uint64Flag{Name: "vout"},
				&cli.Uint64Flag{Name: "amount-sats", Required: true},
				&cli.StringFlag{Name: "owner-key", Usage: "compressed pubkey the output pays (hex)", Required: true},
				&cli.StringFlag{Name: "script-hex", Usage: "scriptPubKey (hex); empty skips the script check"},
				&cli.Uint64Flag{Name: "confirmations", Required: true},
			},
			Action: func(c *cli.Context) error {
				txid, err := program.ParsePaymentTxid(c.String("txid"))
				if err != nil {
					return err
				}
				owner, err := parsePubKey(c.String("owner-key"))
				if err != nil {
					return fmt.Errorf("--owner-key: %w", err)
				}
				script, err := decodeHexFlag(c, "script-hex")
				if err != nil {
					return err
				}
				vout, confs := c.Uint64("vout"), c.Uint64("confirmations")
				if vout > math.MaxUint32 || confs > math.MaxUint32 {
					return fmt.Errorf("vout and confirmations must fit in 32 bits")
				}
				claim := program.UTXOClaim{
					Txid:          txid,
					Vout:          uint32(vout),
					AmountSats:    c.Uint64("amount-sats"),
					OwnerKey:      owner,
					ScriptPubKey:  script,
					Confirmations: uint32(confs),
				}
				_, err = fmt.Fprintln(c.App.Writer, hex.EncodeToString(claim.Encode()))
				return err
			},
		},
	},
}

func printInstruction(c *cli.Context, ix program.Instruction) error {
	_, err := fmt.Fprintln(c.App.Writer, hex.EncodeToString(ix.Encode()))
	return err
}

var signCmd = &cli.Command{
	Name:  "sign",
	Usage: "Record one admin signature over an action and its instruction",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "keystore", Usage: "admin keystore path", Required: true},
		kekFlag,
		&cli.StringFlag{Name: "action", Usage: "action label", Required: true},
		&cli.StringFlag{Name: "description", Usage: "human-readable description bound into the signature"},
		&cli.StringFlag{Name: "ix-hex", Usage: "encoded instruction (hex)", Required: true},
	},
	Action: func(c *cli.Context) error {
		ixBytes, err := decodeHexFlag(c, "ix-hex")
		if err != nil {
			return err
		}
		if _, err := program.DecodeInstruction(ixBytes); err != nil {
			return err
		}
		e, err := openEnv(c)
		if err != nil {
			return err
		}
		defer e.Close()
		priv, err := openKeyStore(c, e, "keystore")
		if err != nil {
			return err
		}
		action, desc := c.String("action"), c.String("description")
		payload := program.PayloadDigest(e.p, ixBytes)
		sig := crypto.SignECDSA(priv, program.ActionDigest(e.p, action, desc, payload))
		count, err := e.rt.RecordSignature(c.Context, program.SignatureRequest{
			Admin:         crypto.CompressedPubKey(priv),
			ActionType:    action,
			Description:   desc,
			PayloadDigest: payload,
			Signature:     sig,
		})
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(c.App.Writer, "action=%s signatures=%d/%d\n", action, count, program.SIGNATURE_THRESHOLD)
		return err
	},
}

func openKeyStore(c *cli.Context, e *env, flag string) (*btcec.PrivateKey, error) {
	kek, err := decodeHexFlag(c, kekFlag.Name)
	if err != nil {
		return nil, err
	}
	ks, err := crypto.ReadKeyStore(c.String(flag))
	if err != nil {
		return nil, fmt.Errorf("read keystore: %w", err)
	}
	priv, err := ks.Open(e.p, kek)
	if err != nil {
		return nil, fmt.Errorf("open keystore: %w", err)
	}
	return priv, nil
}

type outcomeView struct {
	Opcode          string `json:"opcode"`
	ConsumedAction  string `json:"consumed_action"`
	NavSats         uint64 `json:"nav_sats"`
	TotalSupply     uint64 `json:"total_supply"`
	LastNavUpdate   uint64 `json:"last_nav_update"`
	NAVFlagged      bool   `json:"nav_flagged"`
	NavBaselineSats uint64 `json:"nav_baseline_sats,omitempty"`
	Burned          uint64 `json:"burned,omitempty"`
	PaymentTxid     string `json:"payment_txid,omitempty"`
}

var execCmd = &cli.Command{
	Name:  "exec",
	Usage: "Execute an approved instruction against the treasury state",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "ix-hex", Usage: "encoded instruction (hex)", Required: true},
		&cli.StringFlag{Name: "action", Usage: "action label whose recorded signatures approve the instruction", Required: true},
		&cli.StringFlag{Name: "authority-keystore", Usage: "keystore of the submitting admin", Required: true},
		kekFlag,
		stateFlag,
		&cli.StringFlag{Name: "claim-hex", Usage: "encoded UTXO claim (hex), required for buyback-burn"},
	},
	Action: func(c *cli.Context) error {
		ixBytes, err := decodeHexFlag(c, "ix-hex")
		if err != nil {
			return err
		}
		ix, err := program.DecodeInstruction(ixBytes)
		if err != nil {
			return err
		}
		e, err := openEnv(c)
		if err != nil {
			return err
		}
		defer e.Close()
		priv, err := openKeyStore(c, e, "authority-keystore")
		if err != nil {
			return err
		}
		stateKey, err := e.stateKey(c)
		if err != nil {
			return err
		}
		sub, err := buildSubmission(c, e, ix, ixBytes, stateKey, crypto.CompressedPubKey(priv))
		if err != nil {
			return err
		}
		out, err := e.rt.Execute(c.Context, sub)
		if err != nil {
			return err
		}
		view := outcomeView{
			Opcode:          out.Instruction.Opcode().String(),
			ConsumedAction:  out.ConsumedAction,
			NavSats:         out.State.NavSats,
			TotalSupply:     out.State.TotalSupply,
			LastNavUpdate:   out.State.LastNavUpdate,
			NAVFlagged:      out.NAVFlagged,
			NavBaselineSats: out.BaselineNAVSats,
			Burned:          out.Burned,
		}
		if out.Payment != nil {
			view.PaymentTxid = out.Payment.Txid.String()
		}
		return writeJSON(c.App.Writer, view)
	},
}

func buildSubmission(c *cli.Context, e *env, ix program.Instruction, ixBytes []byte, stateKey program.AccountKey, authority [program.PUBKEY_BYTES]byte) (node.Submission, error) {
	sub := node.Submission{
		Instruction: ixBytes,
		Accounts: []program.AccountMeta{
			{Key: stateKey, IsWritable: true},
			{Key: program.AdminAccountKey(e.p, authority), IsSigner: true},
		},
	}
	switch ix.(type) {
	case *program.Initialize:
		sub.Accounts = append(sub.Accounts, program.AccountMeta{Key: program.SystemProgramID})
	case *program.BuybackBurn:
		claim, err := decodeHexFlag(c, "claim-hex")
		if err != nil {
			return sub, err
		}
		if len(claim) == 0 {
			return sub, fmt.Errorf("--claim-hex is required for %s", ix.Opcode())
		}
		key := program.AccountKey(e.p.SHA3_256(claim))
		sub.Accounts = append(sub.Accounts, program.AccountMeta{Key: key})
		sub.Ephemeral = map[program.AccountKey][]byte{key: claim}
	}

	action := c.String("action")
	pending, err := e.rt.Action(c.Context, action)
	if err != nil {
		return sub, err
	}
	if pending == nil {
		return sub, fmt.Errorf("%w: %q", errNoSignatures, action)
	}
	sub.Approval = program.Approval{ActionType: action, Signatures: pending.RecordedSignatures()}
	return sub, nil
}

type stateView struct {
	StateAccount     string `json:"state_account"`
	NavSats          uint64 `json:"nav_sats"`
	Nav              string `json:"nav"`
	TreasuryClaimKey string `json:"treasury_claim_key"`
	TreasuryAddress  string `json:"treasury_address,omitempty"`
	TotalSupply      uint64 `json:"total_supply"`
	LastNavUpdate    uint64 `json:"last_nav_update"`
	NavBaselineSats  uint64 `json:"nav_baseline_sats,omitempty"`
}

var showCmd = &cli.Command{
	Name:  "show",
	Usage: "Print the treasury state",
	Flags: []cli.Flag{stateFlag},
	Action: func(c *cli.Context) error {
		e, err := openEnv(c)
		if err != nil {
			return err
		}
		defer e.Close()
		key, err := e.stateKey(c)
		if err != nil {
			return err
		}
		st, err := e.rt.State(c.Context, key)
		if err != nil {
			return err
		}
		baseline, _, err := e.rt.NAVBaseline(c.Context, key)
		if err != nil {
			return err
		}
		view := stateView{
			StateAccount:     key.String(),
			NavSats:          st.NavSats,
			Nav:              btcutil.Amount(int64(min(st.NavSats, math.MaxInt64))).String(), // #nosec G115 -- clamped.
			TreasuryClaimKey: hex.EncodeToString(st.TreasuryClaimKey[:]),
			TotalSupply:      st.TotalSupply,
			LastNavUpdate:    st.LastNavUpdate,
			NavBaselineSats:  baseline,
		}
		// A state initialized with an unusable key has no address.
		if addr, err := program.TreasuryAddress(st.TreasuryClaimKey, e.cfg.BitcoinParams()); err == nil {
			view.TreasuryAddress = addr
		}
		return writeJSON(c.App.Writer, view)
	},
}

type actionView struct {
	ActionType    string   `json:"action_type"`
	Description   string   `json:"description"`
	PayloadDigest string   `json:"payload_digest"`
	Signers       []string `json:"signers"`
	Authorized    bool     `json:"authorized"`
	Consumed      bool     `json:"consumed"`
}

func newActionView(act *program.PendingAction) actionView {
	signers := make([]string, 0, len(act.Signatures))
	for _, s := range act.Signatures {
		signers = append(signers, hex.EncodeToString(s.Admin[:]))
	}
	return actionView{
		ActionType:    act.ActionType,
		Description:   act.Description,
		PayloadDigest: hex.EncodeToString(act.PayloadDigest[:]),
		Signers:       signers,
		Authorized:    len(signers) >= program.SIGNATURE_THRESHOLD && !act.Consumed,
		Consumed:      act.Consumed,
	}
}

var actionCmd = &cli.Command{
	Name:  "action",
	Usage: "Print one pending action, or every recorded action when --action is omitted",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "action", Usage: "action label"},
	},
	Action: func(c *cli.Context) error {
		e, err := openEnv(c)
		if err != nil {
			return err
		}
		defer e.Close()
		if !c.IsSet("action") {
			acts, err := e.db.LoadActions()
			if err != nil {
				return err
			}
			views := make([]actionView, 0, len(acts))
			for _, act := range acts {
				views = append(views, newActionView(act))
			}
			return writeJSON(c.App.Writer, views)
		}
		act, err := e.rt.Action(c.Context, c.String("action"))
		if err != nil {
			return err
		}
		if act == nil {
			return fmt.Errorf("%w: %q", errNoSignatures, c.String("action"))
		}
		return writeJSON(c.App.Writer, newActionView(act))
	},
}

type accountView struct {
	Key          string `json:"key"`
	Owner        string `json:"owner"`
	DataLen      int    `json:"data_len"`
	ProgramOwned bool   `json:"program_owned"`
}

var accountsCmd = &cli.Command{
	Name:  "accounts",
	Usage: "List every stored account",
	Action: func(c *cli.Context) error {
		e, err := openEnv(c)
		if err != nil {
			return err
		}
		defer e.Close()
		all, err := e.db.LoadAccounts()
		if err != nil {
			return err
		}
		views := make([]accountView, 0, len(all))
		for _, a := range all {
			views = append(views, accountView{
				Key:          a.Key.String(),
				Owner:        a.Owner.String(),
				DataLen:      len(a.Data),
				ProgramOwned: a.Owner == e.programID,
			})
		}
		sort.Slice(views, func(i, j int) bool { return views[i].Key < views[j].Key })
		return writeJSON(c.App.Writer, views)
	},
}
