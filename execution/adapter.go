package execution

import (
	"github.com/web3guy0/gatekeeper/storage"
	"github.com/web3guy0/gatekeeper/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// ADAPTER - OrderRecord <-> storage row
// ═══════════════════════════════════════════════════════════════════════════════

// toRow converts an order record to its persisted form
func toRow(rec *types.OrderRecord) *storage.Order {
	return &storage.Order{
		ID:              rec.ID,
		Symbol:          rec.Symbol,
		Side:            string(rec.Side),
		Exchange:        rec.Exchange,
		Source:          rec.Source,
		SubmittedAt:     rec.SubmittedAt,
		Approved:        rec.Approved,
		RejectionReason: rec.RejectionReason,
		Quantity:        rec.Quantity,
		Price:           rec.Price,
		CorrelationID:   rec.CorrelationID,
		Confirmed:       rec.Confirmed,
		FilledQuantity:  rec.FilledQuantity,
		FilledPrice:     rec.FilledPrice,
		ConfirmedAt:     rec.ConfirmedAt,
		Ghost:           rec.Ghost,
		GhostedAt:       rec.GhostedAt,
	}
}

// fromRow converts a persisted order back to a record
func fromRow(o *storage.Order) types.OrderRecord {
	return types.OrderRecord{
		ID:              o.ID,
		Symbol:          o.Symbol,
		Side:            types.Side(o.Side),
		Exchange:        o.Exchange,
		Source:          o.Source,
		SubmittedAt:     o.SubmittedAt,
		Approved:        o.Approved,
		RejectionReason: o.RejectionReason,
		Quantity:        o.Quantity,
		Price:           o.Price,
		CorrelationID:   o.CorrelationID,
		Confirmed:       o.Confirmed,
		FilledQuantity:  o.FilledQuantity,
		FilledPrice:     o.FilledPrice,
		ConfirmedAt:     o.ConfirmedAt,
		Ghost:           o.Ghost,
		GhostedAt:       o.GhostedAt,
	}
}
