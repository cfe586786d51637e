package crypto

import (
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"golang.org/x/crypto/sha3"
)

// StdCryptoProvider is the in-process provider: SHA3 from x/crypto and
// secp256k1 ECDSA from btcec.
type StdCryptoProvider struct{}

func (StdCryptoProvider) SHA3_256(input []byte) [32]byte {
	return sha3.Sum256(input)
}

func (StdCryptoProvider) VerifyECDSA(pubkey []byte, sig []byte, digest32 [32]byte) bool {
	pub, err := btcec.ParsePubKey(pubkey)
	if err != nil {
		return false
	}
	s, err := ecdsa.ParseDERSignature(sig)
	if err != nil {
		return false
	}
	return s.Verify(digest32[:], pub)
}

// SignECDSA produces a deterministic (RFC 6979) DER signature over digest32.
func SignECDSA(priv *btcec.PrivateKey, digest32 [32]byte) []byte {
	return ecdsa.Sign(priv, digest32[:]).Serialize()
}

// CompressedPubKey returns the 33-byte SEC encoding of priv's public key.
func CompressedPubKey(priv *btcec.PrivateKey) [33]byte {
	var out [33]byte
	copy(out[:], priv.PubKey().SerializeCompressed())
	return out
}
