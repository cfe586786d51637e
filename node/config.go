package node

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/pelletier/go-toml/v2"

	"ovt.dev/treasury/crypto"
	"ovt.dev/treasury/program"
)

const (
	NAVPolicyCanonical      = "canonical"
	NAVPolicyCumulativeOnly = "cumulative-only"
)

type Config struct {
	DataDir          string `toml:"data_dir" json:"data_dir"`
	LogLevel         string `toml:"log_level" json:"log_level"`
	ProgramID        string `toml:"program_id" json:"program_id"`
	MinConfirmations uint32 `toml:"min_confirmations" json:"min_confirmations"`
	NAVPolicy        string `toml:"nav_policy" json:"nav_policy"`
	SigCacheSize     int    `toml:"sig_cache_size" json:"sig_cache_size"`
	// Network selects the Bitcoin network used to render treasury addresses.
	Network string `toml:"network" json:"network"`
}

var allowedLogLevels = map[string]struct{}{
	"debug": {},
	"info":  {},
	"warn":  {},
	"error": {},
}

var navPolicies = map[string]program.NAVPolicy{
	NAVPolicyCanonical:      program.DefaultNAVPolicy,
	NAVPolicyCumulativeOnly: program.CumulativeOnlyNAVPolicy,
}

var networks = map[string]*chaincfg.Params{
	"mainnet": &chaincfg.MainNetParams,
	"testnet": &chaincfg.TestNet3Params,
	"signet":  &chaincfg.SigNetParams,
	"regtest": &chaincfg.RegressionNetParams,
}

func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return ".ovt"
	}
	return filepath.Join(home, ".ovt")
}

// DefaultProgramID is the program identity used when none is configured.
func DefaultProgramID() program.AccountKey {
	return program.AccountKey(crypto.StdCryptoProvider{}.SHA3_256([]byte("OVT/program/v1")))
}

func DefaultConfig() Config {
	return Config{
		DataDir:          DefaultDataDir(),
		LogLevel:         "info",
		ProgramID:        DefaultProgramID().String(),
		MinConfirmations: program.DEFAULT_MIN_CONFIRMATIONS,
		NAVPolicy:        NAVPolicyCanonical,
		SigCacheSize:     crypto.DefaultSigCacheSize,
		Network:          "mainnet",
	}
}

// LoadConfigFile overlays the TOML file at path onto base. Unknown keys are
// rejected.
func LoadConfigFile(path string, base Config) (Config, error) {
	raw, err := readFileByPath(path)
	if err != nil {
		return base, fmt.Errorf("read config: %w", err)
	}
	cfg := base
	dec := toml.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return base, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

func ValidateConfig(cfg Config) error {
	if strings.TrimSpace(cfg.DataDir) == "" {
		return errors.New("data_dir is required")
	}
	logLevel := strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	if _, ok := allowedLogLevels[logLevel]; !ok {
		return fmt.Errorf("invalid log_level %q", cfg.LogLevel)
	}
	id, err := program.ParseAccountKey(cfg.ProgramID)
	if err != nil {
		return fmt.Errorf("invalid program_id: %w", err)
	}
	if id == program.SystemProgramID {
		return errors.New("program_id must not be the system program")
	}
	if _, ok := navPolicies[cfg.NAVPolicy]; !ok {
		return fmt.Errorf("invalid nav_policy %q (want %s or %s)", cfg.NAVPolicy, NAVPolicyCanonical, NAVPolicyCumulativeOnly)
	}
	if cfg.SigCacheSize < 0 {
		return errors.New("sig_cache_size must be >= 0")
	}
	if _, ok := networks[cfg.Network]; !ok {
		return fmt.Errorf("invalid network %q", cfg.Network)
	}
	return nil
}

// ProcessorConfig maps a validated Config onto the program's settings.
func (c Config) ProcessorConfig() program.ProcessorConfig {
	return program.ProcessorConfig{
		NAVPolicy:        navPolicies[c.NAVPolicy],
		MinConfirmations: c.MinConfirmations,
	}
}

func (c Config) ProgramKey() (program.AccountKey, error) {
	return program.ParseAccountKey(c.ProgramID)
}

func (c Config) BitcoinParams() *chaincfg.Params {
	if p, ok := networks[c.Network]; ok {
		return p
	}
	return &chaincfg.MainNetParams
}

// LoadCryptoProvider returns the std provider behind a signature cache sized
// from cfg.
func LoadCryptoProvider(cfg Config) (crypto.CryptoProvider, error) {
	p, err := crypto.NewCachingProvider(crypto.StdCryptoProvider{}, cfg.SigCacheSize)
	if err != nil {
		return nil, err
	}
	return p, nil
}
