package provenance

import (
	"time"

	"pharmatrace/internal/custody/ports"
	id "pharmatrace/pkg/domain"
)

// StageKind names one step of the custody journey, in journey order.
type StageKind string

const (
	StageManufacturing             StageKind = "manufacturing"
	StageManufacturerToDistributor StageKind = "manufacturer_to_distributor"
	StageDistributorReceived       StageKind = "distributor_received"
	StageDistributorToPharmacy     StageKind = "distributor_to_pharmacy"
	StagePharmacyReceived          StageKind = "pharmacy_received"
)

// Stage is the representative document of one journey step. MatchCount is
// the number of documents of that type that matched; only the most recent
// is shown.
type Stage struct {
	Kind           StageKind  `json:"kind"`
	DocumentID     string     `json:"document_id"`
	DocumentNumber string     `json:"document_number,omitempty"`
	FromParty      id.PartyID `json:"from_party,omitempty"`
	ToParty        id.PartyID `json:"to_party,omitempty"`
	Status         string     `json:"status"`
	OccurredAt     time.Time  `json:"occurred_at"`
	LedgerTx       string     `json:"ledger_tx,omitempty"`
	MatchCount     int        `json:"match_count"`
}

// UnitSummary is the public view of the queried unit.
type UnitSummary struct {
	TokenID        id.TokenID   `json:"token_id"`
	Serial         string       `json:"serial"`
	ProductID      id.ProductID `json:"product_id"`
	Batch          string       `json:"batch"`
	Status         string       `json:"status"`
	ManufacturedAt time.Time    `json:"manufactured_at"`
	ExpiresAt      *time.Time   `json:"expires_at,omitempty"`
	ContentHash    string       `json:"content_hash,omitempty"`
	ContentURL     string       `json:"content_url,omitempty"`
	LedgerTx       string       `json:"ledger_tx,omitempty"`
}

type HolderSummary struct {
	PartyID id.PartyID `json:"party_id"`
	Name    string     `json:"name,omitempty"`
	Role    string     `json:"role,omitempty"`
	Since   time.Time  `json:"since"`
}

// MetadataStatus reports the off-chain metadata check.
type MetadataStatus struct {
	Verified bool   `json:"verified"`
	Bytes    int    `json:"bytes,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Provenance is the reconstructed history of one unit. Journey is identical
// for every unit that travelled with the queried one.
type Provenance struct {
	Unit            UnitSummary         `json:"unit"`
	BatchNumber     string              `json:"batch_number"`
	Journey         []Stage             `json:"journey"`
	CurrentHolder   *HolderSummary      `json:"current_holder,omitempty"`
	Siblings        int                 `json:"siblings"`
	DataQuality     []string            `json:"data_quality,omitempty"`
	LedgerEvents    []ports.LedgerEvent `json:"ledger_events,omitempty"`
	LedgerError     string              `json:"ledger_error,omitempty"`
	Metadata        *MetadataStatus     `json:"metadata,omitempty"`
	ReconstructedAt time.Time           `json:"reconstructed_at"`
}

// StageKinds returns the kinds of the journey, in order.
func (p *Provenance) StageKinds() []StageKind {
	out := make([]StageKind, len(p.Journey))
	for i, s := range p.Journey {
		out[i] = s.Kind
	}
	return out
}
