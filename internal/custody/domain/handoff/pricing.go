package handoff

import (
	"github.com/shopspring/decimal"

	"pharmatrace/internal/custody/domain/shared"
	dErrors "pharmatrace/pkg/domain-errors"
)

// Pricing is the optional billing breakdown of a transfer.
type Pricing struct {
	UnitPrice   shared.MonetaryAmount `json:"unit_price"`
	Subtotal    shared.MonetaryAmount `json:"subtotal"`
	TaxRate     decimal.Decimal       `json:"tax_rate"`
	TaxAmount   shared.MonetaryAmount `json:"tax_amount"`
	FinalAmount shared.MonetaryAmount `json:"final_amount"`
}

// NewPricing derives subtotal, tax and total from a unit price. taxRate is a
// fraction (0.2 for 20%).
func NewPricing(unitPrice shared.MonetaryAmount, quantity int, taxRate decimal.Decimal) (*Pricing, error) {
	if unitPrice.IsZero() {
		return nil, dErrors.New(dErrors.CodeValidation, "unit price is required")
	}
	if quantity <= 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "pricing quantity must be positive")
	}
	if taxRate.IsNegative() || taxRate.GreaterThan(decimal.NewFromInt(1)) {
		return nil, dErrors.Newf(dErrors.CodeValidation, "tax rate %s must be between 0 and 1", taxRate)
	}
	subtotal, err := unitPrice.Mul(decimal.NewFromInt(int64(quantity)))
	if err != nil {
		return nil, err
	}
	tax, err := subtotal.Mul(taxRate)
	if err != nil {
		return nil, err
	}
	total, err := subtotal.Add(tax)
	if err != nil {
		return nil, err
	}
	return &Pricing{
		UnitPrice:   unitPrice,
		Subtotal:    subtotal,
		TaxRate:     taxRate,
		TaxAmount:   tax,
		FinalAmount: total,
	}, nil
}
