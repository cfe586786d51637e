package program

import "testing"

func TestComputeBurnConservation(t *testing.T) {
	r, err := ComputeBurn(100_000, 1_000_000, 1_000_000)
	if err != nil {
		t.Fatalf("ComputeBurn: %v", err)
	}
	if r.Burned != 100_000 || r.NewSupply != 900_000 {
		t.Fatalf("got %+v", r)
	}
	if err := ValidateSupplyChange(1_000_000, r.NewSupply); err != nil {
		t.Fatalf("-10%% exactly must be accepted: %v", err)
	}
}

func TestComputeBurnFloors(t *testing.T) {
	r, err := ComputeBurn(1, 10, 3)
	if err != nil {
		t.Fatalf("ComputeBurn: %v", err)
	}
	if r.Burned != 3 || r.NewSupply != 7 {
		t.Fatalf("got %+v", r)
	}
}

func TestComputeBurnWideIntermediate(t *testing.T) {
	max := ^uint64(0)
	// payment*supply overflows u64 but the quotient fits.
	r, err := ComputeBurn(max, max, max)
	if err != nil {
		t.Fatalf("ComputeBurn: %v", err)
	}
	if r.Burned != max || r.NewSupply != 0 {
		t.Fatalf("got %+v", r)
	}
}

func TestComputeBurnRejects(t *testing.T) {
	max := ^uint64(0)
	cases := []struct {
		name                 string
		payment, supply, nav uint64
		code                 ErrorCode
	}{
		{"zero_nav", 1, 1, 0, ERR_INVALID_NAV_UPDATE},
		{"quotient_overflows", max, max, 1, ERR_INVALID_SUPPLY_CHANGE},
		{"burn_exceeds_supply", 3, 10, 2, ERR_INVALID_SUPPLY_CHANGE},
	}
	for _, tc := range cases {
		_, err := ComputeBurn(tc.payment, tc.supply, tc.nav)
		if got := mustCode(t, err); got != tc.code {
			t.Fatalf("%s: code=%s want %s", tc.name, got, tc.code)
		}
	}
}

func TestCheckedArithmetic(t *testing.T) {
	if _, err := addU64(^uint64(0), 1); mustCode(t, err) != ERR_OVERFLOW {
		t.Fatalf("expected overflow")
	}
	if v, err := addU64(2, 3); err != nil || v != 5 {
		t.Fatalf("addU64: %d %v", v, err)
	}
	if _, err := subU64(1, 2); mustCode(t, err) != ERR_OVERFLOW {
		t.Fatalf("expected underflow")
	}
	if v, err := bumpTimestamp(10, 20); err != nil || v != 20 {
		t.Fatalf("bump forward: %d %v", v, err)
	}
	if v, err := bumpTimestamp(10, 5); err != nil || v != 11 {
		t.Fatalf("bump stale clock: %d %v", v, err)
	}
	if _, err := bumpTimestamp(^uint64(0), 0); mustCode(t, err) != ERR_OVERFLOW {
		t.Fatalf("expected overflow")
	}
}
