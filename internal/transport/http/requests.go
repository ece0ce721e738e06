package httptransport

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"pharmatrace/internal/custody/domain/receipt"
	id "pharmatrace/pkg/domain"
	dErrors "pharmatrace/pkg/domain-errors"
)

const maxUnitsPerRequest = 10000

// MintRequest is the body of POST /v1/mints.
type MintRequest struct {
	ProductID      string    `json:"product_id"`
	TokenIDs       []string  `json:"token_ids"`
	Batch          string    `json:"batch_number"`
	Quantity       *int      `json:"quantity,omitempty"`
	ManufacturedAt time.Time `json:"manufactured_at"`
	ExpiresAt      time.Time `json:"expires_at"`
	ContentHash    string    `json:"content_hash"`
	ContentURL     string    `json:"content_url"`
	LedgerTx       string    `json:"ledger_tx,omitempty"`

	productID id.ProductID
	tokenIDs  []id.TokenID
}

func (r *MintRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	if len(r.TokenIDs) == 0 {
		return dErrors.New(dErrors.CodeValidation, "token_ids is required")
	}
	if len(r.TokenIDs) > maxUnitsPerRequest {
		return dErrors.Newf(dErrors.CodeValidation, "token_ids must list at most %d units", maxUnitsPerRequest)
	}
	product, err := id.ParseProductID(r.ProductID)
	if err != nil {
		return err
	}
	tokens, err := id.ParseTokenIDs(r.TokenIDs)
	if err != nil {
		return err
	}
	r.productID = product
	r.tokenIDs = tokens
	r.Batch = strings.TrimSpace(r.Batch)
	return nil
}

// TransferRequest is the body of POST /v1/transfers.
type TransferRequest struct {
	Recipient      string           `json:"recipient"`
	ProductID      string           `json:"product_id"`
	UnitIDs        []string         `json:"unit_ids"`
	DocumentNumber string           `json:"document_number,omitempty"`
	Quantity       *int             `json:"quantity,omitempty"`
	IssueDate      time.Time        `json:"issue_date"`
	UnitPrice      *decimal.Decimal `json:"unit_price,omitempty"`
	Currency       string           `json:"currency,omitempty"`
	TaxRate        decimal.Decimal  `json:"tax_rate"`
	LedgerTx       string           `json:"ledger_tx,omitempty"`
	Notes          string           `json:"notes,omitempty"`

	recipient id.PartyID
	productID id.ProductID
	unitIDs   []id.TokenID
}

func (r *TransferRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	if len(r.UnitIDs) == 0 {
		return dErrors.New(dErrors.CodeValidation, "unit_ids is required")
	}
	if len(r.UnitIDs) > maxUnitsPerRequest {
		return dErrors.Newf(dErrors.CodeValidation, "unit_ids must list at most %d units", maxUnitsPerRequest)
	}
	recipient, err := id.ParsePartyID(r.Recipient)
	if err != nil {
		return err
	}
	product, err := id.ParseProductID(r.ProductID)
	if err != nil {
		return err
	}
	units, err := id.ParseTokenIDs(r.UnitIDs)
	if err != nil {
		return err
	}
	r.recipient = recipient
	r.productID = product
	r.unitIDs = units
	r.Currency = strings.ToUpper(strings.TrimSpace(r.Currency))
	return nil
}

// ConfirmRequest is the body of POST /v1/transfers/{id}/receipt. Every field
// is optional; an empty object confirms the full quantity.
type ConfirmRequest struct {
	ReceivedQuantity *int                  `json:"received_quantity,omitempty"`
	ReceiptDate      time.Time             `json:"receipt_date"`
	ReceivedBy       string                `json:"received_by,omitempty"`
	ReceiptAddress   string                `json:"receipt_address,omitempty"`
	QualityCheck     *receipt.QualityCheck `json:"quality_check,omitempty"`
	Notes            string                `json:"notes,omitempty"`
	LedgerTx         string                `json:"ledger_tx,omitempty"`
}

func (r *ConfirmRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	if r.ReceivedQuantity != nil && *r.ReceivedQuantity <= 0 {
		return dErrors.New(dErrors.CodeValidation, "received_quantity must be positive")
	}
	r.ReceivedBy = strings.TrimSpace(r.ReceivedBy)
	r.ReceiptAddress = strings.TrimSpace(r.ReceiptAddress)
	return nil
}

type SaleRequest struct {
	LedgerTx string `json:"ledger_tx,omitempty"`
}

func (r *SaleRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	r.LedgerTx = strings.TrimSpace(r.LedgerTx)
	return nil
}

// SettlementRequest is the ledger gateway callback body.
type SettlementRequest struct {
	TxRef string `json:"tx_ref"`
}

func (r *SettlementRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	r.TxRef = strings.TrimSpace(r.TxRef)
	if r.TxRef == "" {
		return dErrors.New(dErrors.CodeValidation, "tx_ref is required")
	}
	return nil
}
