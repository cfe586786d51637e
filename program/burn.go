package program

import (
	"github.com/holiman/uint256"
)

type BurnResult struct {
	Burned    uint64
	NewSupply uint64
}

// ComputeBurn converts a payment into the number of tokens retired at the
// current NAV: floor(payment * supply / nav), evaluated in 256 bits. The new
// supply is returned unguarded; callers pass it through ValidateSupplyChange.
func ComputeBurn(paymentSats, totalSupply, navSats uint64) (BurnResult, error) {
	if navSats == 0 {
		return BurnResult{}, perr(ERR_INVALID_NAV_UPDATE, "nav is zero")
	}
	q := new(uint256.Int).Mul(uint256.NewInt(paymentSats), uint256.NewInt(totalSupply))
	q.Div(q, uint256.NewInt(navSats))
	if !q.IsUint64() {
		return BurnResult{}, perr(ERR_INVALID_SUPPLY_CHANGE, "burn amount overflows u64")
	}
	burned := q.Uint64()
	newSupply, err := subU64(totalSupply, burned)
	if err != nil {
		return BurnResult{}, perr(ERR_INVALID_SUPPLY_CHANGE, "burn exceeds supply")
	}
	return BurnResult{Burned: burned, NewSupply: newSupply}, nil
}
