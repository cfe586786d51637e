package main

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"ovt.dev/treasury/crypto"
	"ovt.dev/treasury/node"
	"ovt.dev/treasury/node/store"
	"ovt.dev/treasury/program"
)

var (
	configFlag = &cli.StringFlag{
		Name:  "config",
		Usage: "path to a TOML config file",
	}
	dataDirFlag = &cli.StringFlag{
		Name:  "datadir",
		Usage: "data directory",
	}
	logLevelFlag = &cli.StringFlag{
		Name:  "log-level",
		Usage: "log level: debug|info|warn|error",
	}
	programIDFlag = &cli.StringFlag{
		Name:  "program-id",
		Usage: "program id (hex, 32 bytes)",
	}
	navPolicyFlag = &cli.StringFlag{
		Name:  "nav-policy",
		Usage: "NAV guard policy: " + node.NAVPolicyCanonical + " (hard 0.2x-5x step bound) or " +
			node.NAVPolicyCumulativeOnly + " (no step bound, only 0.05x-41x drift from the first NAV);" +
			" config file key: nav_policy = \"" + node.NAVPolicyCumulativeOnly + "\"",
	}
	networkFlag = &cli.StringFlag{
		Name:  "network",
		Usage: "bitcoin network for treasury addresses: mainnet|testnet|signet|regtest",
	}
	kekFlag = &cli.StringFlag{
		Name:     "kek-hex",
		Usage:    "keystore key-encryption key (hex, 16/24/32 bytes)",
		Required: true,
	}
	stateFlag = &cli.StringFlag{
		Name:  "state",
		Usage: "treasury state account (hex); defaults to the program's derived state account",
	}
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	app := newApp(stdout, stderr)
	if err := app.Run(append([]string{app.Name}, args...)); err != nil {
		_, _ = fmt.Fprintf(stderr, "%s: %v\n", app.Name, err)
		return 1
	}
	return 0
}

func newApp(stdout, stderr io.Writer) *cli.App {
	return &cli.App{
		Name:      "ovt",
		Usage:     "OVT treasury program host",
		Writer:    stdout,
		ErrWriter: stderr,
		// Errors are reported by run; never let the library call os.Exit.
		ExitErrHandler: func(*cli.Context, error) {},
		Flags: []cli.Flag{
			configFlag,
			dataDirFlag,
			logLevelFlag,
			programIDFlag,
			navPolicyFlag,
			networkFlag,
		},
		Commands: []*cli.Command{
			configCmd,
			keygenCmd,
			adminsCmd,
			encodeCmd,
			signCmd,
			execCmd,
			showCmd,
			actionCmd,
		},
	}
}

// loadConfig layers defaults, the optional config file and global flags.
func loadConfig(c *cli.Context) (node.Config, error) {
	cfg := node.DefaultConfig()
	if path := c.String(configFlag.Name); path != "" {
		var err error
		if cfg, err = node.LoadConfigFile(path, cfg); err != nil {
			return cfg, err
		}
	}
	if c.IsSet(dataDirFlag.Name) {
		cfg.DataDir = c.String(dataDirFlag.Name)
	}
	if c.IsSet(logLevelFlag.Name) {
		cfg.LogLevel = c.String(logLevelFlag.Name)
	}
	if c.IsSet(programIDFlag.Name) {
		cfg.ProgramID = c.String(programIDFlag.Name)
	}
	if c.IsSet(navPolicyFlag.Name) {
		cfg.NAVPolicy = c.String(navPolicyFlag.Name)
	}
	if c.IsSet(networkFlag.Name) {
		cfg.Network = c.String(networkFlag.Name)
	}
	if err := node.ValidateConfig(cfg); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// env is everything a state-touching command needs.
type env struct {
	cfg       node.Config
	log       *zap.Logger
	p         crypto.CryptoProvider
	db        *store.DB
	rt        *node.Runtime
	programID program.AccountKey
}

func openEnv(c *cli.Context) (*env, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}
	log, err := node.NewLogger(c.App.ErrWriter, cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	p, err := node.LoadCryptoProvider(cfg)
	if err != nil {
		return nil, fmt.Errorf("crypto provider: %w", err)
	}
	programID, err := cfg.ProgramKey()
	if err != nil {
		return nil, err
	}
	db, err := store.Open(cfg.DataDir, programID)
	if err != nil {
		return nil, fmt.Errorf("store open failed: %w", err)
	}
	return &env{
		cfg:       cfg,
		log:       log,
		p:         p,
		db:        db,
		rt:        node.NewRuntime(db, p, programID, cfg.ProcessorConfig(), log),
		programID: programID,
	}, nil
}

func (e *env) Close() {
	_ = e.db.Close()
	_ = e.log.Sync()
}

func (e *env) stateKey(c *cli.Context) (program.AccountKey, error) {
	if s := c.String(stateFlag.Name); s != "" {
		k, err := program.ParseAccountKey(s)
		if err != nil {
			return k, fmt.Errorf("--state: %w", err)
		}
		return k, nil
	}
	return node.DefaultStateKey(e.p, e.programID), nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func decodeHexFlag(c *cli.Context, name string) ([]byte, error) {
	raw := strings.TrimPrefix(strings.TrimSpace(c.String(name)), "0x")
	b, err := hex.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("--%s: %w", name, err)
	}
	return b, nil
}

func parsePubKey(s string) ([program.PUBKEY_BYTES]byte, error) {
	var out [program.PUBKEY_BYTES]byte
	b, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(s), "0x"))
	if err != nil {
		return out, err
	}
	if len(b) != len(out) {
		return out, fmt.Errorf("pubkey must be %d bytes (got %d)", len(out), len(b))
	}
	copy(out[:], b)
	return out, nil
}

var errNoSignatures = errors.New("no signatures recorded for action")
