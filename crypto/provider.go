package crypto

// CryptoProvider is the narrow crypto interface used by the treasury program.
type CryptoProvider interface {
	SHA3_256(input []byte) [32]byte
	// VerifyECDSA checks a DER-encoded secp256k1 signature over digest32
	// against a compressed or uncompressed public key.
	VerifyECDSA(pubkey []byte, sig []byte, digest32 [32]byte) bool
}
