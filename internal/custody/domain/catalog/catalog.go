// Package catalog holds the reference data the custody use cases resolve:
// products and the parties that make, move and dispense them.
package catalog

import (
	"pharmatrace/internal/custody/domain/shared"
	id "pharmatrace/pkg/domain"
	dErrors "pharmatrace/pkg/domain-errors"
)

type Role string

const (
	RoleManufacturer Role = "manufacturer"
	RoleDistributor  Role = "distributor"
	RolePharmacy     Role = "pharmacy"
)

func ParseRole(s string) (Role, error) {
	switch r := Role(s); r {
	case RoleManufacturer, RoleDistributor, RolePharmacy:
		return r, nil
	}
	return "", dErrors.Newf(dErrors.CodeValidation, "unknown party role %q", s)
}

type Product struct {
	ID           id.ProductID `json:"id"`
	Name         string       `json:"name"`
	Manufacturer id.PartyID   `json:"manufacturer"`
}

// OwnedBy reports whether the party manufactures the product.
func (p *Product) OwnedBy(party id.PartyID) bool {
	return p.Manufacturer == party
}

type Party struct {
	ID            id.PartyID           `json:"id"`
	Name          string               `json:"name"`
	Role          Role                 `json:"role"`
	LedgerAddress shared.LedgerAddress `json:"ledger_address"`
}

// HasLedgerAccount is false for parties not yet onboarded to the ledger.
func (p *Party) HasLedgerAccount() bool {
	return !p.LedgerAddress.IsZero()
}
