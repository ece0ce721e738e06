package service

import (
	"crypto/rand"
	"encoding/base32"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"pharmatrace/internal/custody/domain/handoff"
	"pharmatrace/internal/custody/domain/receipt"
	id "pharmatrace/pkg/domain"
)

// MintRequest asks to mint one Unit per token id for a new batch.
type MintRequest struct {
	Manufacturer id.PartyID
	ProductID    id.ProductID
	TokenIDs     []id.TokenID
	Batch        string
	// Quantity, when set, must equal len(TokenIDs).
	Quantity       *int
	ManufacturedAt time.Time
	ExpiresAt      time.Time
	ContentHash    string
	ContentURL     string
	LedgerTx       string
}

type MintResult struct {
	ProductionRecordID id.ProductionRecordID `json:"production_record_id"`
	BatchNumber        string                `json:"batch_number"`
	UnitSerials        []string              `json:"unit_ids"`
	TokenIDs           []id.TokenID          `json:"token_ids"`
}

// TransferRequest asks to hand units to the next party in the chain.
type TransferRequest struct {
	InitiatingParty id.PartyID
	Recipient       id.PartyID
	ProductID       id.ProductID
	UnitIDs         []id.TokenID
	// DocumentNumber is generated when empty.
	DocumentNumber string
	Quantity       *int
	IssueDate      time.Time
	UnitPrice      *decimal.Decimal
	Currency       string
	TaxRate        decimal.Decimal
	LedgerTx       string
	Notes          string
}

type TransferResult struct {
	TransferID     id.TransferID  `json:"transfer_id"`
	Kind           handoff.Kind   `json:"kind"`
	DocumentNumber string         `json:"document_number"`
	Status         handoff.Status `json:"status"`
	UnitIDs        []id.TokenID   `json:"unit_ids"`
}

// Settlement outcomes reported by dispatch and retry.
const (
	OutcomeSettled       = "settled"
	OutcomeLedgerPending = "ledger_pending"
)

type DispatchResult struct {
	TransferID    id.TransferID  `json:"transfer_id"`
	Status        handoff.Status `json:"status"`
	Outcome       string         `json:"outcome"`
	LedgerTx      string         `json:"ledger_tx,omitempty"`
	LedgerPending bool           `json:"ledger_pending"`
	// LedgerError explains a pending outcome.
	LedgerError string `json:"ledger_error,omitempty"`
}

// ConfirmRequest carries the receiving party's confirmation details.
type ConfirmRequest struct {
	TransferID       id.TransferID
	ConfirmingParty  id.PartyID
	ReceivedQuantity *int
	ReceiptDate      time.Time
	ReceivedBy       string
	ReceiptAddress   string
	QualityCheck     *receipt.QualityCheck
	Notes            string
	LedgerTx         string
}

type ConfirmResult struct {
	ReceiptID   id.ReceiptID   `json:"receipt_id"`
	Status      receipt.Status `json:"status"`
	BatchNumber string         `json:"batch_number"`
	// AlreadyConfirmed is true when an existing confirmed receipt was returned unchanged.
	AlreadyConfirmed bool `json:"already_confirmed"`
}

type RecallResult struct {
	BatchNumber string       `json:"batch_number"`
	Recalled    []id.TokenID `json:"recalled"`
	Skipped     []id.TokenID `json:"skipped"`
}

var docEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// generateDocumentNumber returns PREFIX-YYYYMMDD-XXXXXXXX.
func generateDocumentNumber(prefix string) string {
	var b [5]byte
	_, _ = rand.Read(b[:])
	return prefix + "-" + time.Now().UTC().Format("20060102") + "-" + strings.ToUpper(docEncoding.EncodeToString(b[:]))
}
