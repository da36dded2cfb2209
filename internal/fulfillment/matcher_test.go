package fulfillment

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func poLines() []POLine {
	return []POLine{
		{ID: 1, Ref: PartReference{PartID: 10, Name: "Brake Pad Set", Number: "BRK-100", HSN: "8708"}, Requested: 4},
		{ID: 2, Ref: PartReference{PartID: 11, Name: "Oil Filter", Number: "FLT-200", HSN: "8421"}, Requested: 2},
	}
}

func TestMatchPartIDWinsOverWeakerIdentifiers(t *testing.T) {
	// Conflicting name points at line 2; the id must win.
	line := IssueLine{Ref: PartReference{PartID: 10, Name: "Oil Filter"}}

	got, strategy, ok := Match(line, poLines())
	require.True(t, ok)
	require.Equal(t, StrategyPartID, strategy)
	require.Equal(t, int64(1), got.ID)
}

func TestMatchSourceBucketFallback(t *testing.T) {
	line := IssueLine{SourceBucketID: 11}

	got, strategy, ok := Match(line, poLines())
	require.True(t, ok)
	require.Equal(t, StrategySourceBucket, strategy)
	require.Equal(t, int64(2), got.ID)
}

func TestMatchNameIsCaseAndSpaceInsensitive(t *testing.T) {
	line := IssueLine{Ref: PartReference{Name: "  brake pad SET "}}

	got, strategy, ok := Match(line, poLines())
	require.True(t, ok)
	require.Equal(t, StrategyName, strategy)
	require.Equal(t, int64(1), got.ID)
}

func TestMatchNumberBeforeHSN(t *testing.T) {
	// HSN 8708 also matches line 1 but number must be tried first.
	line := IssueLine{Ref: PartReference{Number: "flt-200", HSN: "8708"}}

	got, strategy, ok := Match(line, poLines())
	require.True(t, ok)
	require.Equal(t, StrategyNumber, strategy)
	require.Equal(t, int64(2), got.ID)
}

func TestMatchHSNLastResort(t *testing.T) {
	line := IssueLine{Ref: PartReference{HSN: "8421"}}

	got, strategy, ok := Match(line, poLines())
	require.True(t, ok)
	require.Equal(t, StrategyHSN, strategy)
	require.Equal(t, int64(2), got.ID)
}

func TestMatchEmptyIdentifiersNeverMatch(t *testing.T) {
	_, _, ok := Match(IssueLine{}, poLines())
	require.False(t, ok)

	// Empty strings on both sides must not be treated as equal.
	candidates := []POLine{{ID: 3, Ref: PartReference{}}}
	_, _, ok = Match(IssueLine{Ref: PartReference{Name: ""}}, candidates)
	require.False(t, ok)
}

func TestMatchIsDeterministic(t *testing.T) {
	line := IssueLine{Ref: PartReference{Name: "Oil Filter"}}
	first, strategy1, ok1 := Match(line, poLines())
	for i := 0; i < 10; i++ {
		got, strategy, ok := Match(line, poLines())
		require.Equal(t, ok1, ok)
		require.Equal(t, strategy1, strategy)
		require.Equal(t, first.ID, got.ID)
	}
}
