// Package fulfillment reconciles parts-issue line items back to purchase
// order line items and derives how much of each order line remains open.
package fulfillment

import "time"

// PartReference carries every identifier a document may use for a part.
// Upstream systems are inconsistent: some send the catalog id, some only a
// name, number or HSN code, so the matcher works through them in order of
// strength.
type PartReference struct {
	PartID int64  `json:"part_id,omitempty"`
	Name   string `json:"name,omitempty"`
	Number string `json:"number,omitempty"`
	HSN    string `json:"hsn,omitempty"`
}

// POLine is the purchase-order side of the reconciliation.
type POLine struct {
	ID        int64
	Ref       PartReference
	Requested int64
}

// Dispatch is one physical shipment against an issue line. Where dispatch
// records exist they are the authoritative issued quantity.
type Dispatch struct {
	Qty        int64
	SubOrderID string
	Carrier    string
	At         time.Time
}

// IssueLine is the parts-issue side of the reconciliation. LegacyIssuedQty is
// consulted only when no dispatch records are present.
type IssueLine struct {
	Ref             PartReference
	SourceBucketID  int64
	Requested       int64
	LegacyIssuedQty int64
	SubOrderID      string
	Dispatches      []Dispatch
}

// Issue groups the lines of one parts-issue request.
type Issue struct {
	ID    int64
	Lines []IssueLine
}
