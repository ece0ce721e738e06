package provenance

import (
	"context"
	"errors"
	"slices"

	"pharmatrace/internal/custody/domain/handoff"
	"pharmatrace/internal/custody/domain/receipt"
	"pharmatrace/internal/custody/domain/shared"
	"pharmatrace/internal/custody/ports"
	id "pharmatrace/pkg/domain"
	dErrors "pharmatrace/pkg/domain-errors"
	"pharmatrace/pkg/platform/sentinel"
)

// membership decides which documents belong to a unit's journey.
//
// A transfer with a unit list belongs when the list contains the token.
// A legacy transfer without one belongs when its batch or production record
// matches. A receipt belongs when its originating transfer does; only when
// that transfer cannot be found does the receipt's own batch or production
// record decide.
type membership struct {
	token     id.TokenID
	batch     shared.BatchNumber
	recordIDs []id.ProductionRecordID
}

func (m membership) transfer(t *handoff.Transfer) bool {
	if t.HasUnitList() {
		return t.Contains(m.token)
	}
	return m.legacy(t.Batch, t.ProductionRecordID)
}

func (m membership) legacy(batch shared.BatchNumber, recordID *id.ProductionRecordID) bool {
	if !batch.IsZero() && batch == m.batch {
		return true
	}
	return recordID != nil && slices.Contains(m.recordIDs, *recordID)
}

func (m membership) transfers(ts []*handoff.Transfer) []*handoff.Transfer {
	var out []*handoff.Transfer
	for _, t := range ts {
		if m.transfer(t) {
			out = append(out, t)
		}
	}
	return out
}

// receipts filters candidate receipts. known are the transfers already
// loaded; any other originating transfer is fetched from repo.
func (m membership) receipts(ctx context.Context, rs []*receipt.Receipt, known []*handoff.Transfer, repo ports.TransferRepository) ([]*receipt.Receipt, error) {
	byID := make(map[id.TransferID]*handoff.Transfer, len(known))
	for _, t := range known {
		byID[t.ID] = t
	}
	var out []*receipt.Receipt
	for _, r := range rs {
		t, ok := byID[r.OriginatingTransferID]
		if !ok && !r.OriginatingTransferID.IsNil() {
			found, err := repo.FindByID(ctx, r.OriginatingTransferID)
			switch {
			case err == nil:
				byID[found.ID] = found
				t, ok = found, true
			case !errors.Is(err, sentinel.ErrNotFound):
				return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load originating transfer")
			}
		}
		var belongs bool
		if ok {
			belongs = m.transfer(t)
		} else {
			belongs = m.legacy(r.Batch, r.ProductionRecordID)
		}
		if belongs {
			out = append(out, r)
		}
	}
	return out, nil
}
