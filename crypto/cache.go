package crypto

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

const DefaultSigCacheSize = 4096

// CachingProvider remembers successful signature verifications. Failures are
// never cached, so a cache hit can only repeat a true result.
type CachingProvider struct {
	CryptoProvider
	cache *lru.Cache[[32]byte, struct{}]
}

func NewCachingProvider(inner CryptoProvider, size int) (*CachingProvider, error) {
	if size <= 0 {
		size = DefaultSigCacheSize
	}
	c, err := lru.New[[32]byte, struct{}](size)
	if err != nil {
		return nil, err
	}
	return &CachingProvider{CryptoProvider: inner, cache: c}, nil
}

func (c *CachingProvider) VerifyECDSA(pubkey []byte, sig []byte, digest32 [32]byte) bool {
	if len(pubkey) > 0xff || len(sig) > 0xff {
		return c.CryptoProvider.VerifyECDSA(pubkey, sig, digest32)
	}
	key := c.entryKey(pubkey, sig, digest32)
	if c.cache.Contains(key) {
		return true
	}
	if !c.CryptoProvider.VerifyECDSA(pubkey, sig, digest32) {
		return false
	}
	c.cache.Add(key, struct{}{})
	return true
}

func (c *CachingProvider) Len() int { return c.cache.Len() }

func (c *CachingProvider) entryKey(pubkey, sig []byte, digest32 [32]byte) [32]byte {
	buf := make([]byte, 0, 2+len(pubkey)+len(sig)+32)
	buf = append(buf, byte(len(pubkey)))
	buf = append(buf, pubkey...)
	buf = append(buf, byte(len(sig)))
	buf = append(buf, sig...)
	buf = append(buf, digest32[:]...)
	return c.SHA3_256(buf)
}
