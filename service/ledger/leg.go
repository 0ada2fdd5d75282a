package ledger

import (
	"errors"
	"fmt"
)

var (
	// ErrNoReferenceAccount means none of the accounts is held in the
	// reference currency. Nothing can be reconciled without one.
	ErrNoReferenceAccount = errors.New("no reference currency account")

	// ErrNoReferenceAccountLeg means a multi-leg transaction has no leg in
	// the reference currency.
	ErrNoReferenceAccountLeg = errors.New("no reference account leg")
)

// SelectLeg returns the leg of legs that belongs to the reference currency
// account. A single leg is returned as is.
func SelectLeg(legs []Leg, currency string) (Leg, error) {
	if len(legs) == 1 {
		return legs[0], nil
	}
	for _, leg := range legs {
		if leg.Currency == currency {
			return leg, nil
		}
	}
	return Leg{}, fmt.Errorf("%w: %d legs, none in %s", ErrNoReferenceAccountLeg, len(legs), currency)
}

// ReferenceAccount picks the first account held in currency.
func ReferenceAccount(accounts []Account, currency string) (Account, error) {
	for _, acc := range accounts {
		if acc.Currency == currency {
			return acc, nil
		}
	}
	return Account{}, fmt.Errorf("%w: no %s account among %d accounts", ErrNoReferenceAccount, currency, len(accounts))
}

// foreignLegs returns the legs not held in the reference currency.
func foreignLegs(legs []Leg, currency string) []Leg {
	var out []Leg
	for _, leg := range legs {
		if leg.Currency != currency {
			out = append(out, leg)
		}
	}
	return out
}
