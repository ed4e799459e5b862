package engine

import (
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
)

// MergeMode controls how two contributions landing on the same target
// key combine during propagation.
type MergeMode int

const (
	// Overwrite keeps only the last contribution per target key
	// (stage 1, cost pool → tower). Spend rows are processed in
	// sorted key order so the result is still deterministic, but
	// colliding spend rows shadow each other rather than summing.
	Overwrite MergeMode = iota
	// Accumulate sums all contributions per target key (stage 2+).
	Accumulate
)

func (m MergeMode) String() string {
	if m == Overwrite {
		return "overwrite"
	}
	return "accumulate"
}

// SpendRow is an amount sitting at a source node, keyed by a
// stage-specific composite key (see JoinKey).
type SpendRow struct {
	Key    string
	Amount decimal.Decimal
}

// RuleRow fans a source key out to a target key at a percentage.
type RuleRow struct {
	SourceKey string
	TargetKey string
	Percent   float64
}

// Propagate runs one stage of weighted redistribution: for each spend
// row, every rule matching its key contributes amount × percent to
// the rule's target key. Spend rows with no matching rule are
// returned as unmatched; the caller decides whether to warn.
//
// The operation is a pure reduction: deterministic, and in Accumulate
// mode associative regardless of input order.
func Propagate(spend []SpendRow, rules []RuleRow, mode MergeMode) (map[string]decimal.Decimal, []SpendRow, error) {
	for _, r := range rules {
		if r.Percent < 0 || r.Percent > 1 {
			return nil, nil, eris.Errorf("engine: rule %s -> %s has percent %v outside [0,1]",
				r.SourceKey, r.TargetKey, r.Percent)
		}
	}

	bySource := make(map[string][]RuleRow, len(rules))
	for _, r := range rules {
		bySource[r.SourceKey] = append(bySource[r.SourceKey], r)
	}

	ordered := make([]SpendRow, len(spend))
	copy(ordered, spend)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Key < ordered[j].Key })

	out := make(map[string]decimal.Decimal)
	var unmatched []SpendRow
	for _, s := range ordered {
		matches := bySource[s.Key]
		if len(matches) == 0 {
			unmatched = append(unmatched, s)
			continue
		}
		for _, r := range matches {
			contribution := s.Amount.Mul(decimal.NewFromFloat(r.Percent))
			if mode == Accumulate {
				out[r.TargetKey] = out[r.TargetKey].Add(contribution)
			} else {
				out[r.TargetKey] = contribution
			}
		}
	}
	return out, unmatched, nil
}

// JoinKey builds a composite node key from parts. Parts must not
// contain the separator.
func JoinKey(parts ...string) string {
	return strings.Join(parts, "|")
}

// SplitKey is the inverse of JoinKey.
func SplitKey(key string) []string {
	return strings.Split(key, "|")
}

// SortedKeys returns the map's keys in ascending order, for
// deterministic persistence of stage output.
func SortedKeys(m map[string]decimal.Decimal) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// SumValues totals all values of a stage output map.
func SumValues(m map[string]decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, k := range SortedKeys(m) {
		total = total.Add(m[k])
	}
	return total
}
