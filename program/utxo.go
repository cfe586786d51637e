package program

import (
	"bytes"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
)

const DEFAULT_MIN_CONFIRMATIONS uint32 = 6

// UTXOClaim is externally supplied evidence of a Bitcoin output paying the
// treasury. It arrives as the data of a read-only account and is never stored.
type UTXOClaim struct {
	Txid          chainhash.Hash
	Vout          uint32
	AmountSats    uint64
	OwnerKey      [PUBKEY_BYTES]byte
	ScriptPubKey  []byte
	Confirmations uint32
}

type BitcoinPayment struct {
	Txid       chainhash.Hash
	AmountSats uint64
	UTXO       UTXOClaim
}

// Layout: txid 32 | vout u32le | amount u64le | owner 33 | confirmations u32le | script (CompactSize-prefixed).
func (c UTXOClaim) Encode() []byte {
	out := make([]byte, 0, chainhash.HashSize+4+8+PUBKEY_BYTES+4+9+len(c.ScriptPubKey))
	out = append(out, c.Txid[:]...)
	out = appendU32le(out, c.Vout)
	out = appendU64le(out, c.AmountSats)
	out = append(out, c.OwnerKey[:]...)
	out = appendU32le(out, c.Confirmations)
	return appendVarBytes(out, c.ScriptPubKey)
}

func DecodeUTXOClaim(b []byte) (UTXOClaim, error) {
	var c UTXOClaim
	fail := func(err error) (UTXOClaim, error) {
		return UTXOClaim{}, perr(ERR_INVALID_ACCOUNT_DATA, "utxo claim: "+err.Error())
	}
	off := 0
	txid, err := readBytes(b, &off, chainhash.HashSize)
	if err != nil {
		return fail(err)
	}
	copy(c.Txid[:], txid)
	if c.Vout, err = readU32le(b, &off); err != nil {
		return fail(err)
	}
	if c.AmountSats, err = readU64le(b, &off); err != nil {
		return fail(err)
	}
	owner, err := readBytes(b, &off, PUBKEY_BYTES)
	if err != nil {
		return fail(err)
	}
	copy(c.OwnerKey[:], owner)
	if c.Confirmations, err = readU32le(b, &off); err != nil {
		return fail(err)
	}
	script, err := readVarBytes(b, &off, txscript.MaxScriptSize, "script_pubkey")
	if err != nil {
		return fail(err)
	}
	if len(script) > 0 {
		c.ScriptPubKey = append([]byte(nil), script...)
	}
	if off != len(b) {
		return fail(fmt.Errorf("%d trailing bytes", len(b)-off))
	}
	return c, nil
}

// ParsePaymentTxid parses a txid in the usual byte-reversed hex display form.
// Exactly 64 hex characters are required; short input is not zero-padded.
func ParsePaymentTxid(s string) (chainhash.Hash, error) {
	if len(s) != chainhash.MaxHashStringSize {
		return chainhash.Hash{}, perr(ERR_INVALID_BITCOIN_PAYMENT,
			fmt.Sprintf("payment txid %q: want %d hex characters, got %d", s, chainhash.MaxHashStringSize, len(s)))
	}
	h, err := chainhash.NewHashFromStr(s)
	if err != nil {
		return chainhash.Hash{}, perr(ERR_INVALID_BITCOIN_PAYMENT, fmt.Sprintf("payment txid %q: %v", s, err))
	}
	return *h, nil
}

// TreasuryScripts returns the output scripts accepted as paying key: P2PK and
// P2WPKH.
func TreasuryScripts(key [PUBKEY_BYTES]byte) ([][]byte, error) {
	p2pk, err := txscript.NewScriptBuilder().AddData(key[:]).AddOp(txscript.OP_CHECKSIG).Script()
	if err != nil {
		return nil, err
	}
	// Script bytes do not depend on the network; mainnet params only satisfy
	// the address constructor.
	addr, err := btcutil.NewAddressWitnessPubKeyHash(btcutil.Hash160(key[:]), &chaincfg.MainNetParams)
	if err != nil {
		return nil, err
	}
	p2wpkh, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return nil, err
	}
	return [][]byte{p2pk, p2wpkh}, nil
}

// TreasuryAddress renders the P2WPKH address for key on the given network.
func TreasuryAddress(key [PUBKEY_BYTES]byte, net *chaincfg.Params) (string, error) {
	addr, err := btcutil.NewAddressWitnessPubKeyHash(btcutil.Hash160(key[:]), net)
	if err != nil {
		return "", err
	}
	return addr.EncodeAddress(), nil
}

type PaymentVerifier struct {
	MinConfirmations uint32
}

// Verify checks, in order: ownership, output script, confirmations, amount.
// It never mutates anything.
func (v PaymentVerifier) Verify(claim UTXOClaim, expectedMinAmount uint64, treasuryKey [PUBKEY_BYTES]byte) (BitcoinPayment, error) {
	if claim.OwnerKey != treasuryKey {
		return BitcoinPayment{}, perr(ERR_INVALID_BITCOIN_PAYMENT, "claim owner is not the treasury key")
	}
	if len(claim.ScriptPubKey) > 0 {
		scripts, err := TreasuryScripts(treasuryKey)
		if err != nil {
			return BitcoinPayment{}, perr(ERR_INVALID_BITCOIN_PAYMENT, err.Error())
		}
		matched := false
		for _, s := range scripts {
			if bytes.Equal(s, claim.ScriptPubKey) {
				matched = true
				break
			}
		}
		if !matched {
			class := txscript.GetScriptClass(claim.ScriptPubKey)
			return BitcoinPayment{}, perr(ERR_INVALID_BITCOIN_PAYMENT, fmt.Sprintf("%s script does not pay the treasury key", class))
		}
	}
	if claim.Confirmations < v.MinConfirmations {
		return BitcoinPayment{}, perr(ERR_INSUFFICIENT_CONFIRMATIONS, fmt.Sprintf("%d confirmations, need %d", claim.Confirmations, v.MinConfirmations))
	}
	if claim.AmountSats < expectedMinAmount {
		return BitcoinPayment{}, perr(ERR_INSUFFICIENT_FUNDS, fmt.Sprintf("claim pays %d sats, need %d", claim.AmountSats, expectedMinAmount))
	}
	return BitcoinPayment{Txid: claim.Txid, AmountSats: claim.AmountSats, UTXO: claim}, nil
}
