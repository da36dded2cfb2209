package fulfillment

import "strings"

// ClosingMarkerSuffix is the sub-order id convention that declares a shipment
// leg terminal: no further dispatches will occur even if quantity remains.
// Advisory flag, not a hard invariant.
const ClosingMarkerSuffix = "-CLOSED"

// IsClosingSubOrder reports whether a sub-order id carries the closing marker.
func IsClosingSubOrder(id string) bool {
	return strings.HasSuffix(strings.ToUpper(strings.TrimSpace(id)), ClosingMarkerSuffix)
}

// LineFulfillment is the derived state of one PO line.
type LineFulfillment struct {
	Issued    int64 `json:"issued"`
	Remaining int64 `json:"remaining"`
	Closed    bool  `json:"closed"`
}

// AggregateStatus summarises a whole order's fulfillment.
type AggregateStatus string

const (
	// AggregateFulfilled means every line is either fully issued or closed.
	AggregateFulfilled AggregateStatus = "FULFILLED"
	// AggregatePartial means at least one line has issued quantity but the
	// order as a whole is still open.
	AggregatePartial AggregateStatus = "PARTIALLY_FULFILLED"
	// AggregateOpen means nothing has been issued yet.
	AggregateOpen AggregateStatus = "OPEN"
)

// Snapshot aggregates issued and remaining quantities per PO line from the
// related issues. Read-only over committed data; safe to run concurrently
// with anything.
func Snapshot(lines []POLine, issues []Issue) map[int64]LineFulfillment {
	result := make(map[int64]LineFulfillment, len(lines))
	for _, line := range lines {
		result[line.ID] = LineFulfillment{Issued: 0, Remaining: line.Requested, Closed: false}
	}

	for _, issue := range issues {
		for _, issueLine := range issue.Lines {
			target, _, ok := Match(issueLine, lines)
			if !ok {
				continue
			}
			current := result[target.ID]
			current.Issued += issuedQty(issueLine)
			if lineClosed(issueLine) {
				current.Closed = true
			}
			result[target.ID] = current
		}
	}

	for _, line := range lines {
		current := result[line.ID]
		remaining := line.Requested - current.Issued
		if remaining < 0 {
			remaining = 0
		}
		current.Remaining = remaining
		result[line.ID] = current
	}
	return result
}

// issuedQty sums dispatch records when present; the legacy scalar field is a
// fallback only and must never be added on top of them.
func issuedQty(line IssueLine) int64 {
	if len(line.Dispatches) == 0 {
		return line.LegacyIssuedQty
	}
	var total int64
	for _, d := range line.Dispatches {
		total += d.Qty
	}
	return total
}

func lineClosed(line IssueLine) bool {
	if IsClosingSubOrder(line.SubOrderID) {
		return true
	}
	for _, d := range line.Dispatches {
		if IsClosingSubOrder(d.SubOrderID) {
			return true
		}
	}
	return false
}

// Aggregate derives the order-level status from a snapshot.
func Aggregate(lines []POLine, snap map[int64]LineFulfillment) AggregateStatus {
	if len(lines) == 0 {
		return AggregateOpen
	}
	allSettled := true
	anyIssued := false
	for _, line := range lines {
		lf := snap[line.ID]
		if lf.Issued > 0 {
			anyIssued = true
		}
		if lf.Remaining > 0 && !lf.Closed {
			allSettled = false
		}
	}
	switch {
	case allSettled:
		return AggregateFulfilled
	case anyIssued:
		return AggregatePartial
	default:
		return AggregateOpen
	}
}
