// Package shared contains the immutable value objects used by every custody aggregate.
//
// Each value object validates at construction and is compared by value. Zero values
// represent "absent" and report IsZero; constructors never return a zero value
// together with a nil error.
package shared

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/sha3"

	dErrors "pharmatrace/pkg/domain-errors"
)

var (
	ErrInvalidBatchNumber    = errors.New("invalid batch number")
	ErrInvalidDocumentNumber = errors.New("invalid document number")
	ErrNegativeQuantity      = errors.New("quantity cannot be negative")
	ErrUnitMismatch          = errors.New("quantity units differ")
	ErrInsufficientQuantity  = errors.New("insufficient quantity")
	ErrInvalidCurrency       = errors.New("invalid currency code")
	ErrCurrencyMismatch      = errors.New("currencies differ")
	ErrNegativeAmount        = errors.New("amount cannot be negative")
	ErrInvalidTransactionRef = errors.New("invalid transaction reference")
	ErrInvalidContentRef     = errors.New("invalid content reference")
	ErrInvalidLedgerAddress  = errors.New("invalid ledger address")
	ErrLedgerAddressChecksum = errors.New("ledger address checksum mismatch")
)

func invalid(sentinel error, format string, args ...any) error {
	return dErrors.Wrap(sentinel, dErrors.CodeValidation, fmt.Sprintf(format, args...))
}

var (
	batchPattern    = regexp.MustCompile(`^[A-Z0-9][A-Z0-9\-_.]{0,63}$`)
	documentPattern = regexp.MustCompile(`^[A-Z0-9][A-Z0-9\-/_.]{0,63}$`)
	currencyPattern = regexp.MustCompile(`^[A-Z]{3}$`)
	txPattern       = regexp.MustCompile(`^0x[0-9a-f]{64}$`)
	addressPattern  = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)
	sha256Pattern   = regexp.MustCompile(`^sha256:[0-9a-f]{64}$`)
	cidPattern      = regexp.MustCompile(`^(Qm[1-9A-HJ-NP-Za-km-z]{44}|b[a-z2-7]{58,})$`)
)

// -----------------------------------------------------------------------------
// BatchNumber
// -----------------------------------------------------------------------------

// BatchNumber groups the Units of one production run. Stored upper-cased.
type BatchNumber struct {
	value string
}

func NewBatchNumber(s string) (BatchNumber, error) {
	v := strings.ToUpper(strings.TrimSpace(s))
	if v == "" {
		return BatchNumber{}, invalid(ErrInvalidBatchNumber, "batch number is required")
	}
	if !batchPattern.MatchString(v) {
		return BatchNumber{}, invalid(ErrInvalidBatchNumber, "batch number %q has invalid format", s)
	}
	return BatchNumber{value: v}, nil
}

func MustBatchNumber(s string) BatchNumber {
	b, err := NewBatchNumber(s)
	if err != nil {
		panic(err)
	}
	return b
}

func (b BatchNumber) String() string { return b.value }
func (b BatchNumber) IsZero() bool   { return b.value == "" }

func (b BatchNumber) MarshalText() ([]byte, error) { return []byte(b.value), nil }

func (b *BatchNumber) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*b = BatchNumber{}
		return nil
	}
	v, err := NewBatchNumber(string(text))
	if err != nil {
		return err
	}
	*b = v
	return nil
}

// -----------------------------------------------------------------------------
// DocumentNumber
// -----------------------------------------------------------------------------

// DocumentNumber identifies an invoice or receipt; unique per issuing party.
type DocumentNumber struct {
	value string
}

func NewDocumentNumber(s string) (DocumentNumber, error) {
	v := strings.ToUpper(strings.TrimSpace(s))
	if v == "" {
		return DocumentNumber{}, invalid(ErrInvalidDocumentNumber, "document number is required")
	}
	if !documentPattern.MatchString(v) {
		return DocumentNumber{}, invalid(ErrInvalidDocumentNumber, "document number %q has invalid format", s)
	}
	return DocumentNumber{value: v}, nil
}

func MustDocumentNumber(s string) DocumentNumber {
	d, err := NewDocumentNumber(s)
	if err != nil {
		panic(err)
	}
	return d
}

func (d DocumentNumber) String() string { return d.value }
func (d DocumentNumber) IsZero() bool   { return d.value == "" }

func (d DocumentNumber) MarshalText() ([]byte, error) { return []byte(d.value), nil }

func (d *DocumentNumber) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*d = DocumentNumber{}
		return nil
	}
	v, err := NewDocumentNumber(string(text))
	if err != nil {
		return err
	}
	*d = v
	return nil
}

// -----------------------------------------------------------------------------
// Quantity
// -----------------------------------------------------------------------------

// Quantity is a non-negative amount with an optional unit label ("units", "boxes").
// An empty label is compatible with any label.
type Quantity struct {
	amount decimal.Decimal
	unit   string
}

func NewQuantity(amount decimal.Decimal, unit string) (Quantity, error) {
	if amount.IsNegative() {
		return Quantity{}, invalid(ErrNegativeQuantity, "quantity %s cannot be negative", amount)
	}
	return Quantity{amount: amount, unit: strings.ToLower(strings.TrimSpace(unit))}, nil
}

// CountOf builds a whole-unit quantity.
func CountOf(n int, unit string) (Quantity, error) {
	return NewQuantity(decimal.NewFromInt(int64(n)), unit)
}

func MustCount(n int, unit string) Quantity {
	q, err := CountOf(n, unit)
	if err != nil {
		panic(err)
	}
	return q
}

func (q Quantity) Amount() decimal.Decimal { return q.amount }
func (q Quantity) Unit() string            { return q.unit }
func (q Quantity) IsZero() bool            { return q.amount.IsZero() }

// Int returns the whole part of the amount.
func (q Quantity) Int() int { return int(q.amount.IntPart()) }

func (q Quantity) Equal(other Quantity) bool {
	return q.amount.Equal(other.amount) && q.unit == other.unit
}

func (q Quantity) compatible(other Quantity) (string, error) {
	switch {
	case q.unit == other.unit:
		return q.unit, nil
	case q.unit == "":
		return other.unit, nil
	case other.unit == "":
		return q.unit, nil
	}
	return "", invalid(ErrUnitMismatch, "cannot combine %q with %q", q.unit, other.unit)
}

func (q Quantity) Add(other Quantity) (Quantity, error) {
	unit, err := q.compatible(other)
	if err != nil {
		return Quantity{}, err
	}
	return Quantity{amount: q.amount.Add(other.amount), unit: unit}, nil
}

func (q Quantity) Sub(other Quantity) (Quantity, error) {
	unit, err := q.compatible(other)
	if err != nil {
		return Quantity{}, err
	}
	if q.amount.LessThan(other.amount) {
		return Quantity{}, invalid(ErrInsufficientQuantity, "cannot subtract %s from %s", other.amount, q.amount)
	}
	return Quantity{amount: q.amount.Sub(other.amount), unit: unit}, nil
}

func (q Quantity) String() string {
	if q.unit == "" {
		return q.amount.String()
	}
	return q.amount.String() + " " + q.unit
}

type quantityJSON struct {
	Amount decimal.Decimal `json:"amount"`
	Unit   string          `json:"unit,omitempty"`
}

func (q Quantity) MarshalJSON() ([]byte, error) {
	return json.Marshal(quantityJSON{Amount: q.amount, Unit: q.unit})
}

func (q *Quantity) UnmarshalJSON(b []byte) error {
	var raw quantityJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	v, err := NewQuantity(raw.Amount, raw.Unit)
	if err != nil {
		return err
	}
	*q = v
	return nil
}

// -----------------------------------------------------------------------------
// MonetaryAmount
// -----------------------------------------------------------------------------

// MonetaryAmount is a non-negative amount in an ISO 4217 currency.
type MonetaryAmount struct {
	amount   decimal.Decimal
	currency string
}

func NewMonetaryAmount(amount decimal.Decimal, currency string) (MonetaryAmount, error) {
	c := strings.ToUpper(strings.TrimSpace(currency))
	if !currencyPattern.MatchString(c) {
		return MonetaryAmount{}, invalid(ErrInvalidCurrency, "currency %q is not an ISO 4217 code", currency)
	}
	if amount.IsNegative() {
		return MonetaryAmount{}, invalid(ErrNegativeAmount, "amount %s cannot be negative", amount)
	}
	return MonetaryAmount{amount: amount, currency: c}, nil
}

func MustMoney(amount string, currency string) MonetaryAmount {
	m, err := NewMonetaryAmount(decimal.RequireFromString(amount), currency)
	if err != nil {
		panic(err)
	}
	return m
}

func (m MonetaryAmount) Amount() decimal.Decimal { return m.amount }
func (m MonetaryAmount) Currency() string        { return m.currency }
func (m MonetaryAmount) IsZero() bool            { return m.currency == "" }

func (m MonetaryAmount) Equal(other MonetaryAmount) bool {
	return m.currency == other.currency && m.amount.Equal(other.amount)
}

func (m MonetaryAmount) sameCurrency(other MonetaryAmount) error {
	if m.currency != other.currency {
		return invalid(ErrCurrencyMismatch, "cannot combine %s with %s", m.currency, other.currency)
	}
	return nil
}

func (m MonetaryAmount) Add(other MonetaryAmount) (MonetaryAmount, error) {
	if err := m.sameCurrency(other); err != nil {
		return MonetaryAmount{}, err
	}
	return MonetaryAmount{amount: m.amount.Add(other.amount), currency: m.currency}, nil
}

func (m MonetaryAmount) Sub(other MonetaryAmount) (MonetaryAmount, error) {
	if err := m.sameCurrency(other); err != nil {
		return MonetaryAmount{}, err
	}
	if m.amount.LessThan(other.amount) {
		return MonetaryAmount{}, invalid(ErrNegativeAmount, "%s minus %s is negative", m, other)
	}
	return MonetaryAmount{amount: m.amount.Sub(other.amount), currency: m.currency}, nil
}

// Mul scales the amount, rounding to two decimal places.
func (m MonetaryAmount) Mul(factor decimal.Decimal) (MonetaryAmount, error) {
	if factor.IsNegative() {
		return MonetaryAmount{}, invalid(ErrNegativeAmount, "factor %s cannot be negative", factor)
	}
	return MonetaryAmount{amount: m.amount.Mul(factor).Round(2), currency: m.currency}, nil
}

func (m MonetaryAmount) String() string {
	return m.amount.StringFixed(2) + " " + m.currency
}

type moneyJSON struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}

func (m MonetaryAmount) MarshalJSON() ([]byte, error) {
	return json.Marshal(moneyJSON{Amount: m.amount, Currency: m.currency})
}

func (m *MonetaryAmount) UnmarshalJSON(b []byte) error {
	var raw moneyJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	v, err := NewMonetaryAmount(raw.Amount, raw.Currency)
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// -----------------------------------------------------------------------------
// TransactionReference
// -----------------------------------------------------------------------------

// TransactionReference is an external ledger transaction hash: 0x + 64 hex.
type TransactionReference struct {
	value string
}

func NewTransactionReference(s string) (TransactionReference, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	if !txPattern.MatchString(v) {
		return TransactionReference{}, invalid(ErrInvalidTransactionRef, "transaction reference %q must be 0x followed by 64 hex characters", s)
	}
	return TransactionReference{value: v}, nil
}

func MustTransactionReference(s string) TransactionReference {
	t, err := NewTransactionReference(s)
	if err != nil {
		panic(err)
	}
	return t
}

// ParseOptionalTransactionReference returns nil for an empty string.
func ParseOptionalTransactionReference(s string) (*TransactionReference, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	t, err := NewTransactionReference(s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (t TransactionReference) String() string { return t.value }
func (t TransactionReference) IsZero() bool   { return t.value == "" }

func (t TransactionReference) MarshalText() ([]byte, error) { return []byte(t.value), nil }

func (t *TransactionReference) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*t = TransactionReference{}
		return nil
	}
	v, err := NewTransactionReference(string(text))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// -----------------------------------------------------------------------------
// ContentReference
// -----------------------------------------------------------------------------

// ContentReference points at off-chain metadata: a content hash plus a URL the
// hash can be resolved from.
type ContentReference struct {
	hash string
	url  string
}

func NewContentReference(hash, rawURL string) (ContentReference, error) {
	h := strings.TrimSpace(hash)
	if !sha256Pattern.MatchString(h) && !cidPattern.MatchString(h) {
		return ContentReference{}, invalid(ErrInvalidContentRef, "content hash %q must be sha256:<hex> or an IPFS CID", hash)
	}
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Scheme == "" {
		return ContentReference{}, invalid(ErrInvalidContentRef, "content url %q is not absolute", rawURL)
	}
	switch u.Scheme {
	case "https", "http", "ipfs", "s3":
	default:
		return ContentReference{}, invalid(ErrInvalidContentRef, "content url scheme %q is not supported", u.Scheme)
	}
	if u.Host == "" {
		return ContentReference{}, invalid(ErrInvalidContentRef, "content url %q has no host", rawURL)
	}
	return ContentReference{hash: h, url: u.String()}, nil
}

func (c ContentReference) Hash() string   { return c.hash }
func (c ContentReference) URL() string    { return c.url }
func (c ContentReference) IsZero() bool   { return c.hash == "" }
func (c ContentReference) String() string { return c.hash + "@" + c.url }

// SHA256Hex returns the hex digest when the hash is a sha256 reference.
func (c ContentReference) SHA256Hex() (string, bool) {
	if !strings.HasPrefix(c.hash, "sha256:") {
		return "", false
	}
	return strings.TrimPrefix(c.hash, "sha256:"), true
}

type contentJSON struct {
	Hash string `json:"hash"`
	URL  string `json:"url"`
}

func (c ContentReference) MarshalJSON() ([]byte, error) {
	if c.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(contentJSON{Hash: c.hash, URL: c.url})
}

func (c *ContentReference) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*c = ContentReference{}
		return nil
	}
	var raw contentJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	v, err := NewContentReference(raw.Hash, raw.URL)
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// -----------------------------------------------------------------------------
// LedgerAddress
// -----------------------------------------------------------------------------

// LedgerAddress is a party's account on the external ledger. Mixed-case input
// must carry a valid EIP-55 checksum; all-lower or all-upper input is accepted
// and normalised to the checksummed form.
type LedgerAddress struct {
	value string
}

func NewLedgerAddress(s string) (LedgerAddress, error) {
	v := strings.TrimSpace(s)
	if !addressPattern.MatchString(v) {
		return LedgerAddress{}, invalid(ErrInvalidLedgerAddress, "ledger address %q must be 0x followed by 40 hex characters", s)
	}
	body := v[2:]
	checksummed := checksumAddress(strings.ToLower(body))
	if body != strings.ToLower(body) && body != strings.ToUpper(body) && "0x"+body != checksummed {
		return LedgerAddress{}, invalid(ErrLedgerAddressChecksum, "ledger address %q fails checksum", s)
	}
	return LedgerAddress{value: checksummed}, nil
}

func MustLedgerAddress(s string) LedgerAddress {
	a, err := NewLedgerAddress(s)
	if err != nil {
		panic(err)
	}
	return a
}

func (a LedgerAddress) String() string { return a.value }
func (a LedgerAddress) IsZero() bool   { return a.value == "" }

func (a LedgerAddress) MarshalText() ([]byte, error) { return []byte(a.value), nil }

func (a *LedgerAddress) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*a = LedgerAddress{}
		return nil
	}
	v, err := NewLedgerAddress(string(text))
	if err != nil {
		return err
	}
	*a = v
	return nil
}

func checksumAddress(lowerHex string) string {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(lowerHex))
	digest := hex.EncodeToString(h.Sum(nil))

	out := make([]byte, len(lowerHex))
	for i := 0; i < len(lowerHex); i++ {
		c := lowerHex[i]
		if c >= 'a' && c <= 'f' && digest[i] >= '8' {
			c -= 'a' - 'A'
		}
		out[i] = c
	}
	return "0x" + string(out)
}
