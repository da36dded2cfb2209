package issue

import (
	"context"

	"github.com/partsflow/partsflow/internal/fulfillment"
)

// FulfillmentAdapter exposes issues in the neutral shape the fulfillment
// calculator consumes. Procurement depends on this, not on the issue service,
// so the two workflows stay decoupled.
type FulfillmentAdapter struct {
	repo RepositoryPort
}

// NewFulfillmentAdapter constructs the adapter.
func NewFulfillmentAdapter(repo RepositoryPort) *FulfillmentAdapter {
	return &FulfillmentAdapter{repo: repo}
}

// ListForPO returns all issues linked to the purchase order, converted to the
// calculator's view. Only issues that reached ISSUED count: pending and
// rejected requests never affect fulfillment.
func (a *FulfillmentAdapter) ListForPO(ctx context.Context, poID int64) ([]fulfillment.Issue, error) {
	reqs, err := a.repo.ListForPO(ctx, poID)
	if err != nil {
		return nil, err
	}
	out := make([]fulfillment.Issue, 0, len(reqs))
	for _, req := range reqs {
		if req.Status != StatusIssued {
			continue
		}
		out = append(out, req.FulfillmentView())
	}
	return out, nil
}

// FulfillmentView converts the request to the calculator's neutral shape.
func (r Request) FulfillmentView() fulfillment.Issue {
	issue := fulfillment.Issue{ID: r.ID, Lines: make([]fulfillment.IssueLine, 0, len(r.Lines))}
	for _, line := range r.Lines {
		fl := fulfillment.IssueLine{
			Ref:             line.Ref,
			SourceBucketID:  line.SourceBucketID,
			Requested:       line.Requested,
			LegacyIssuedQty: line.IssuedQty,
			SubOrderID:      line.SubOrderID,
		}
		for _, d := range line.Dispatches {
			fl.Dispatches = append(fl.Dispatches, fulfillment.Dispatch{
				Qty:        d.Qty,
				SubOrderID: d.SubOrderID,
				Carrier:    d.Carrier,
				At:         d.DispatchedAt,
			})
		}
		issue.Lines = append(issue.Lines, fl)
	}
	return issue
}
