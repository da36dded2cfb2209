package fulfillment

import (
	"strings"

	"golang.org/x/text/cases"
)

// Strategy names one rung of the matching cascade.
type Strategy string

const (
	// StrategyPartID matches on the catalog part identifier.
	StrategyPartID Strategy = "part_id"
	// StrategySourceBucket matches the issue's stock bucket against the PO
	// line's part identifier.
	StrategySourceBucket Strategy = "source_bucket"
	// StrategyName matches on folded, trimmed display name.
	StrategyName Strategy = "name"
	// StrategyNumber matches on folded, trimmed part number.
	StrategyNumber Strategy = "number"
	// StrategyHSN matches on the HSN tax classification code.
	StrategyHSN Strategy = "hsn"
)

type strategyFunc func(line IssueLine, cand POLine) bool

// Strategies are tried in order; stronger identifiers win over weaker,
// ambiguous ones. The order is load-bearing.
var strategies = []struct {
	Name  Strategy
	Match strategyFunc
}{
	{StrategyPartID, func(line IssueLine, cand POLine) bool {
		return line.Ref.PartID != 0 && line.Ref.PartID == cand.Ref.PartID
	}},
	{StrategySourceBucket, func(line IssueLine, cand POLine) bool {
		return line.SourceBucketID != 0 && line.SourceBucketID == cand.Ref.PartID
	}},
	{StrategyName, func(line IssueLine, cand POLine) bool {
		return foldEqual(line.Ref.Name, cand.Ref.Name)
	}},
	{StrategyNumber, func(line IssueLine, cand POLine) bool {
		return foldEqual(line.Ref.Number, cand.Ref.Number)
	}},
	{StrategyHSN, func(line IssueLine, cand POLine) bool {
		return line.Ref.HSN != "" && strings.TrimSpace(line.Ref.HSN) == strings.TrimSpace(cand.Ref.HSN)
	}},
}

// Match resolves the PO line an issue line fulfills. Returns ok=false when no
// strategy matches; such lines still deduct stock but do not count toward any
// order's fulfillment. Pure: identical inputs always yield identical output.
func Match(line IssueLine, candidates []POLine) (POLine, Strategy, bool) {
	for _, strat := range strategies {
		for _, cand := range candidates {
			if strat.Match(line, cand) {
				return cand, strat.Name, true
			}
		}
	}
	return POLine{}, "", false
}

func foldEqual(a, b string) bool {
	a = strings.TrimSpace(a)
	b = strings.TrimSpace(b)
	if a == "" || b == "" {
		return false
	}
	caser := cases.Fold()
	return caser.String(a) == caser.String(b)
}
