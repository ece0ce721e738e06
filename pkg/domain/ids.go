// Package domain holds the typed identifiers shared by every custody context.
//
// Party, product and token identifiers are opaque strings minted elsewhere
// (identity provider, catalog, ledger). Aggregate identifiers are UUIDs minted
// by this service. Distinct types keep a TransferID from being passed where a
// ReceiptID is expected.
package domain

import (
	"strings"
	"unicode"

	"github.com/google/uuid"

	dErrors "pharmatrace/pkg/domain-errors"
)

const maxOpaqueIDLength = 128

type (
	PartyID   string
	ProductID string
	// TokenID is the ledger-assigned identifier of one Unit.
	TokenID string
)

type (
	ProductionRecordID uuid.UUID
	TransferID         uuid.UUID
	ReceiptID          uuid.UUID
)

func (id PartyID) String() string   { return string(id) }
func (id ProductID) String() string { return string(id) }
func (id TokenID) String() string   { return string(id) }

func (id ProductionRecordID) String() string { return uuid.UUID(id).String() }
func (id TransferID) String() string         { return uuid.UUID(id).String() }
func (id ReceiptID) String() string          { return uuid.UUID(id).String() }

func (id ProductionRecordID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id TransferID) IsNil() bool         { return uuid.UUID(id) == uuid.Nil }
func (id ReceiptID) IsNil() bool          { return uuid.UUID(id) == uuid.Nil }

func (id ProductionRecordID) MarshalText() ([]byte, error) { return uuid.UUID(id).MarshalText() }
func (id TransferID) MarshalText() ([]byte, error)         { return uuid.UUID(id).MarshalText() }
func (id ReceiptID) MarshalText() ([]byte, error)          { return uuid.UUID(id).MarshalText() }

func (id *ProductionRecordID) UnmarshalText(b []byte) error {
	return (*uuid.UUID)(id).UnmarshalText(b)
}

func (id *TransferID) UnmarshalText(b []byte) error {
	return (*uuid.UUID)(id).UnmarshalText(b)
}

func (id *ReceiptID) UnmarshalText(b []byte) error {
	return (*uuid.UUID)(id).UnmarshalText(b)
}

func NewProductionRecordID() ProductionRecordID { return ProductionRecordID(uuid.New()) }
func NewTransferID() TransferID                 { return TransferID(uuid.New()) }
func NewReceiptID() ReceiptID                   { return ReceiptID(uuid.New()) }

func ParsePartyID(s string) (PartyID, error) {
	v, err := parseOpaque("party id", s)
	return PartyID(v), err
}

func ParseProductID(s string) (ProductID, error) {
	v, err := parseOpaque("product id", s)
	return ProductID(v), err
}

func ParseTokenID(s string) (TokenID, error) {
	v, err := parseOpaque("token id", s)
	return TokenID(v), err
}

func ParseProductionRecordID(s string) (ProductionRecordID, error) {
	u, err := parseUUID("production record id", s)
	return ProductionRecordID(u), err
}

func ParseTransferID(s string) (TransferID, error) {
	u, err := parseUUID("transfer id", s)
	return TransferID(u), err
}

func ParseReceiptID(s string) (ReceiptID, error) {
	u, err := parseUUID("receipt id", s)
	return ReceiptID(u), err
}

// ParseTokenIDs parses every element, failing on the first invalid one.
func ParseTokenIDs(values []string) ([]TokenID, error) {
	out := make([]TokenID, 0, len(values))
	for _, v := range values {
		id, err := ParseTokenID(v)
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, nil
}

// TokenIDStrings is the inverse of ParseTokenIDs, used at storage and wire boundaries.
func TokenIDStrings(ids []TokenID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}

func parseOpaque(kind, s string) (string, error) {
	v := strings.TrimSpace(s)
	if v == "" {
		return "", dErrors.Newf(dErrors.CodeValidation, "%s is required", kind)
	}
	if len(v) > maxOpaqueIDLength {
		return "", dErrors.Newf(dErrors.CodeValidation, "%s exceeds %d characters", kind, maxOpaqueIDLength)
	}
	for _, r := range v {
		if unicode.IsControl(r) || unicode.IsSpace(r) || r == '\u200B' {
			return "", dErrors.Newf(dErrors.CodeValidation, "%s contains invalid characters", kind)
		}
	}
	return v, nil
}

func parseUUID(kind, s string) (uuid.UUID, error) {
	if strings.TrimSpace(s) == "" {
		return uuid.Nil, dErrors.Newf(dErrors.CodeValidation, "%s is required", kind)
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.Newf(dErrors.CodeValidation, "invalid %s", kind)
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.Newf(dErrors.CodeValidation, "%s cannot be nil", kind)
	}
	return u, nil
}
