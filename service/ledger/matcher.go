package ledger

import (
	"github.com/shopspring/decimal"
)

// DefaultSearchBudget bounds the number of candidates the combined search
// visits for a single exchange.
const DefaultSearchBudget = 1_000_000

// Strategy records how an exchange was reconciled.
type Strategy string

const (
	StrategyNone     Strategy = "none"
	StrategySingle   Strategy = "single"
	StrategyCombined Strategy = "combined"
)

// Match is the outcome of reconciling one exchange against the buffer.
type Match struct {
	Strategy Strategy
	// Transaction is the synthesized copy of the exchange. Its only leg is
	// the reference leg, annotated with the funding transaction(s).
	Transaction Transaction
	// Contributors are the buffered transactions consumed by the match,
	// in buffer order.
	Contributors []Transaction
	// Remaining is the buffer with contributors removed. On a miss it is
	// the buffer that was passed in.
	Remaining   []Transaction
	Diagnostics []Diagnostic
}

// Matched reports whether the exchange was reconciled.
func (m Match) Matched() bool {
	return m.Strategy != StrategyNone
}

type matchOptions struct {
	budget int
}

// MatchOption configures MatchExchange.
type MatchOption func(*matchOptions)

// WithSearchBudget overrides DefaultSearchBudget. Values below one are ignored.
func WithSearchBudget(steps int) MatchOption {
	return func(o *matchOptions) {
		if steps > 0 {
			o.budget = steps
		}
	}
}

// MatchExchange reconciles the exchange ex against buffer, the earlier
// foreign transactions in chronological order. It never modifies buffer.
//
// A single buffered transaction whose amount equals the foreign amount owed
// is preferred. Otherwise the first subset in buffer order whose amounts sum
// to it exactly is consumed.
func MatchExchange(ex Transaction, buffer []Transaction, currency string, opts ...MatchOption) Match {
	o := matchOptions{budget: DefaultSearchBudget}
	for _, opt := range opts {
		opt(&o)
	}

	m := Match{Strategy: StrategyNone, Remaining: buffer}

	refLeg, err := SelectLeg(ex.Legs, currency)
	if err != nil {
		m.Diagnostics = append(m.Diagnostics, noReferenceLeg(ex, currency))
		return m
	}

	foreign := foreignLegs(ex.Legs, currency)
	switch len(foreign) {
	case 0:
		m.Diagnostics = append(m.Diagnostics, noForeignLegs(ex), unmatchedExchange(ex, Leg{}))
		return m
	case 1:
	default:
		m.Diagnostics = append(m.Diagnostics, multipleForeignLegs(ex, foreign))
	}
	foreignLeg := foreign[0]
	owed := foreignLeg.Amount.Neg()

	// Positions in buffer of transactions settled in the foreign currency.
	var candidates []int
	for i, tx := range buffer {
		if len(tx.Legs) > 0 && tx.Legs[0].Currency == foreignLeg.Currency {
			candidates = append(candidates, i)
		}
	}

	for _, i := range candidates {
		if buffer[i].Legs[0].Amount.Equal(owed) {
			matched := buffer[i]
			m.Strategy = StrategySingle
			m.Contributors = []Transaction{matched}
			m.Remaining = without(buffer, []int{i})
			m.Transaction = synthesize(ex, refLeg,
				matched.Reference,
				fxAnnotation(matched.Legs[0].Description, foreignLeg.Currency, owed))
			return m
		}
	}

	picked, exhausted := combine(buffer, candidates, owed, o.budget)
	if exhausted {
		m.Diagnostics = append(m.Diagnostics, searchExhausted(ex, foreignLeg, o.budget))
	}
	if picked == nil {
		m.Diagnostics = append(m.Diagnostics, unmatchedExchange(ex, foreignLeg))
		return m
	}

	refs := make([]string, 0, len(picked))
	descs := make([]string, 0, len(picked))
	for _, i := range picked {
		m.Contributors = append(m.Contributors, buffer[i])
		refs = append(refs, buffer[i].Reference)
		descs = append(descs, buffer[i].Legs[0].Description)
	}
	m.Strategy = StrategyCombined
	m.Remaining = without(buffer, picked)
	m.Transaction = synthesize(ex, refLeg,
		joinUnique(refs),
		fxAnnotation(joinUnique(descs), foreignLeg.Currency, owed))
	return m
}

func synthesize(ex Transaction, refLeg Leg, reference, description string) Transaction {
	leg := refLeg
	leg.Description = description
	return Transaction{
		ID:          ex.ID,
		Type:        ex.Type,
		State:       ex.State,
		CompletedAt: ex.CompletedAt,
		Reference:   reference,
		Legs:        []Leg{leg},
	}
}

// without returns a new slice holding buffer minus the given ascending positions.
func without(buffer []Transaction, positions []int) []Transaction {
	out := make([]Transaction, 0, len(buffer)-len(positions))
	next := 0
	for i, tx := range buffer {
		if next < len(positions) && positions[next] == i {
			next++
			continue
		}
		out = append(out, tx)
	}
	return out
}

// combine searches candidates (ascending buffer positions) for the first
// subset, in buffer order, whose amounts sum to target. Amounts greater
// than what remains are never considered.
func combine(buffer []Transaction, candidates []int, target decimal.Decimal, budget int) (picked []int, exhausted bool) {
	if target.IsZero() {
		return nil, false
	}

	amounts := make([]decimal.Decimal, len(candidates))
	for k, i := range candidates {
		amounts[k] = buffer[i].Legs[0].Amount
	}

	s := &subsetSearch{amounts: amounts, budget: budget}
	found := s.find(0, target, nil)
	if found == nil {
		return nil, s.exhausted
	}
	picked = make([]int, len(found))
	for k, idx := range found {
		picked[k] = candidates[idx]
	}
	return picked, false
}

type subsetSearch struct {
	amounts   []decimal.Decimal
	budget    int
	steps     int
	exhausted bool
}

func (s *subsetSearch) find(start int, remaining decimal.Decimal, chosen []int) []int {
	for i := start; i < len(s.amounts); i++ {
		if s.steps >= s.budget {
			s.exhausted = true
			return nil
		}
		s.steps++

		amt := s.amounts[i]
		if amt.GreaterThan(remaining) {
			continue
		}
		next := remaining.Sub(amt)
		path := append(chosen[:len(chosen):len(chosen)], i)
		if next.IsZero() {
			return path
		}
		if found := s.find(i+1, next, path); found != nil {
			return found
		}
		if s.exhausted {
			return nil
		}
	}
	return nil
}
