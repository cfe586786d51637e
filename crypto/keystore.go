package crypto

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
)

const (
	KeyStoreVersion = "OVKSv1"
	KeyStoreWrapAlg = "AES-256-KW"
)

// KeyStoreV1 holds one admin signing key wrapped under an operator KEK.
type KeyStoreV1 struct {
	Version      string `json:"version"`
	PubkeyHex    string `json:"pubkey_hex"`
	AccountHex   string `json:"account_hex"` // SHA3-256(pubkey)
	WrapAlg      string `json:"wrap_alg"`
	WrappedSKHex string `json:"wrapped_sk_hex"`
}

func SealKey(p CryptoProvider, priv *btcec.PrivateKey, kek []byte) (*KeyStoreV1, error) {
	if priv == nil {
		return nil, fmt.Errorf("keystore: nil private key")
	}
	wrapped, err := AESKeyWrapRFC3394(kek, priv.Serialize())
	if err != nil {
		return nil, err
	}
	pub := CompressedPubKey(priv)
	account := p.SHA3_256(pub[:])
	return &KeyStoreV1{
		Version:      KeyStoreVersion,
		PubkeyHex:    hex.EncodeToString(pub[:]),
		AccountHex:   hex.EncodeToString(account[:]),
		WrapAlg:      KeyStoreWrapAlg,
		WrappedSKHex: hex.EncodeToString(wrapped),
	}, nil
}

// Open unwraps the private key and checks it against the recorded public key
// and account identity.
func (ks *KeyStoreV1) Open(p CryptoProvider, kek []byte) (*btcec.PrivateKey, error) {
	wrapped, err := hex.DecodeString(ks.WrappedSKHex)
	if err != nil {
		return nil, fmt.Errorf("wrapped_sk_hex: %w", err)
	}
	raw, err := AESKeyUnwrapRFC3394(kek, wrapped)
	if err != nil {
		return nil, err
	}
	if len(raw) != btcec.PrivKeyBytesLen {
		return nil, fmt.Errorf("keystore: private key must be %d bytes (got %d)", btcec.PrivKeyBytesLen, len(raw))
	}
	priv, _ := btcec.PrivKeyFromBytes(raw)
	pub := CompressedPubKey(priv)
	if got := hex.EncodeToString(pub[:]); !strings.EqualFold(got, ks.PubkeyHex) {
		return nil, fmt.Errorf("keystore pubkey mismatch: embedded=%s computed=%s", ks.PubkeyHex, got)
	}
	account := p.SHA3_256(pub[:])
	if got := hex.EncodeToString(account[:]); ks.AccountHex != "" && !strings.EqualFold(got, ks.AccountHex) {
		return nil, fmt.Errorf("keystore account mismatch: embedded=%s computed=%s", ks.AccountHex, got)
	}
	return priv, nil
}

func (ks *KeyStoreV1) PubKey() ([33]byte, error) {
	var out [33]byte
	raw, err := hex.DecodeString(ks.PubkeyHex)
	if err != nil {
		return out, fmt.Errorf("pubkey_hex: %w", err)
	}
	if len(raw) != len(out) {
		return out, fmt.Errorf("pubkey_hex must decode to %d bytes (got %d)", len(out), len(raw))
	}
	copy(out[:], raw)
	return out, nil
}

func ReadKeyStore(path string) (*KeyStoreV1, error) {
	raw, err := os.ReadFile(path) // #nosec G304 -- operator-provided
	if err != nil {
		return nil, err
	}
	var ks KeyStoreV1
	if err := json.Unmarshal(raw, &ks); err != nil {
		return nil, err
	}
	if ks.Version != KeyStoreVersion {
		return nil, fmt.Errorf("unsupported keystore version: %q", ks.Version)
	}
	if strings.ToUpper(ks.WrapAlg) != KeyStoreWrapAlg {
		return nil, fmt.Errorf("unsupported wrap_alg: %q", ks.WrapAlg)
	}
	return &ks, nil
}

func WriteKeyStore(path string, ks *KeyStoreV1) error {
	b, err := json.Marshal(ks)
	if err != nil {
		return err
	}
	b = append(b, '\n')
	return os.WriteFile(path, b, 0o600)
}
