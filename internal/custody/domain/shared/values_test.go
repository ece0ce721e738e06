package shared_test

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"

	"pharmatrace/internal/custody/domain/shared"
	dErrors "pharmatrace/pkg/domain-errors"
)

type ValueObjectsSuite struct {
	suite.Suite
}

func TestValueObjectsSuite(t *testing.T) {
	suite.Run(t, new(ValueObjectsSuite))
}

func (s *ValueObjectsSuite) TestBatchNumber() {
	s.Run("normalises case and whitespace", func() {
		b, err := shared.NewBatchNumber("  b001 ")
		s.Require().NoError(err)
		s.Equal("B001", b.String())
		s.Equal(shared.MustBatchNumber("B001"), b)
	})

	s.Run("rejects empty", func() {
		_, err := shared.NewBatchNumber("   ")
		s.Require().Error(err)
		s.ErrorIs(err, shared.ErrInvalidBatchNumber)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("rejects illegal characters", func() {
		_, err := shared.NewBatchNumber("B 001")
		s.ErrorIs(err, shared.ErrInvalidBatchNumber)
	})

	s.Run("zero value is zero", func() {
		var b shared.BatchNumber
		s.True(b.IsZero())
	})
}

func (s *ValueObjectsSuite) TestDocumentNumber() {
	s.Run("normalises", func() {
		d, err := shared.NewDocumentNumber("inv-1")
		s.Require().NoError(err)
		s.Equal("INV-1", d.String())
	})

	s.Run("allows slashes", func() {
		_, err := shared.NewDocumentNumber("CI/2024/001")
		s.NoError(err)
	})

	s.Run("rejects empty", func() {
		_, err := shared.NewDocumentNumber("")
		s.ErrorIs(err, shared.ErrInvalidDocumentNumber)
	})
}

func (s *ValueObjectsSuite) TestQuantity() {
	s.Run("rejects negative", func() {
		_, err := shared.NewQuantity(decimal.NewFromInt(-1), "units")
		s.ErrorIs(err, shared.ErrNegativeQuantity)
	})

	s.Run("adds compatible units", func() {
		sum, err := shared.MustCount(2, "units").Add(shared.MustCount(3, "UNITS"))
		s.Require().NoError(err)
		s.Equal(5, sum.Int())
		s.Equal("units", sum.Unit())
	})

	s.Run("unlabelled quantity adopts the other label", func() {
		sum, err := shared.MustCount(2, "").Add(shared.MustCount(3, "boxes"))
		s.Require().NoError(err)
		s.Equal("boxes", sum.Unit())
	})

	s.Run("rejects mismatched units", func() {
		_, err := shared.MustCount(2, "units").Add(shared.MustCount(3, "boxes"))
		s.ErrorIs(err, shared.ErrUnitMismatch)
	})

	s.Run("subtraction fails when insufficient", func() {
		_, err := shared.MustCount(2, "units").Sub(shared.MustCount(3, "units"))
		s.ErrorIs(err, shared.ErrInsufficientQuantity)
	})

	s.Run("subtracts", func() {
		left, err := shared.MustCount(5, "units").Sub(shared.MustCount(3, "units"))
		s.Require().NoError(err)
		s.True(left.Equal(shared.MustCount(2, "units")))
	})

	s.Run("json preserves amount and label", func() {
		raw, err := json.Marshal(shared.MustCount(7, "boxes"))
		s.Require().NoError(err)
		var q shared.Quantity
		s.Require().NoError(json.Unmarshal(raw, &q))
		s.True(q.Equal(shared.MustCount(7, "boxes")))
	})

	s.Run("json rejects negative amounts", func() {
		var q shared.Quantity
		err := json.Unmarshal([]byte(`{"amount":"-3"}`), &q)
		s.ErrorIs(err, shared.ErrNegativeQuantity)
	})
}

func (s *ValueObjectsSuite) TestMonetaryAmount() {
	s.Run("rejects bad currency", func() {
		_, err := shared.NewMonetaryAmount(decimal.NewFromInt(1), "EURO")
		s.ErrorIs(err, shared.ErrInvalidCurrency)
	})

	s.Run("rejects negative amount", func() {
		_, err := shared.NewMonetaryAmount(decimal.NewFromInt(-1), "EUR")
		s.ErrorIs(err, shared.ErrNegativeAmount)
	})

	s.Run("arithmetic requires matching currency", func() {
		_, err := shared.MustMoney("10", "EUR").Add(shared.MustMoney("1", "USD"))
		s.ErrorIs(err, shared.ErrCurrencyMismatch)
	})

	s.Run("adds and scales", func() {
		sum, err := shared.MustMoney("10.50", "eur").Add(shared.MustMoney("0.25", "EUR"))
		s.Require().NoError(err)
		s.Equal("10.75 EUR", sum.String())

		taxed, err := sum.Mul(decimal.RequireFromString("0.2"))
		s.Require().NoError(err)
		s.True(taxed.Equal(shared.MustMoney("2.15", "EUR")))
	})

	s.Run("subtraction cannot go negative", func() {
		_, err := shared.MustMoney("1", "EUR").Sub(shared.MustMoney("2", "EUR"))
		s.ErrorIs(err, shared.ErrNegativeAmount)
	})
}

func (s *ValueObjectsSuite) TestTransactionReference() {
	valid := "0xAB" + "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcd"

	s.Run("lower-cases valid hash", func() {
		ref, err := shared.NewTransactionReference(valid)
		s.Require().NoError(err)
		s.Equal("0xab0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcd", ref.String())
	})

	s.Run("rejects missing prefix", func() {
		_, err := shared.NewTransactionReference(valid[2:])
		s.ErrorIs(err, shared.ErrInvalidTransactionRef)
	})

	s.Run("rejects short hash", func() {
		_, err := shared.NewTransactionReference("0x1234")
		s.ErrorIs(err, shared.ErrInvalidTransactionRef)
	})

	s.Run("optional parse returns nil for blank", func() {
		ref, err := shared.ParseOptionalTransactionReference(" ")
		s.NoError(err)
		s.Nil(ref)
	})
}

func (s *ValueObjectsSuite) TestContentReference() {
	hash := "sha256:" + "9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08"

	s.Run("accepts sha256 with s3 url", func() {
		ref, err := shared.NewContentReference(hash, "s3://metadata/batches/b001.json")
		s.Require().NoError(err)
		hex, ok := ref.SHA256Hex()
		s.True(ok)
		s.Len(hex, 64)
	})

	s.Run("accepts ipfs cid", func() {
		_, err := shared.NewContentReference("QmYwAPJzv5CZsnA625s3Xf2nemtYgPpHdWEz79ojWnPbdG", "ipfs://gateway/QmYwAPJzv5CZsnA625s3Xf2nemtYgPpHdWEz79ojWnPbdG")
		s.NoError(err)
	})

	s.Run("rejects malformed hash", func() {
		_, err := shared.NewContentReference("md5:abc", "https://example.com/x")
		s.ErrorIs(err, shared.ErrInvalidContentRef)
	})

	s.Run("rejects relative url", func() {
		_, err := shared.NewContentReference(hash, "/batches/b001.json")
		s.ErrorIs(err, shared.ErrInvalidContentRef)
	})

	s.Run("rejects unsupported scheme", func() {
		_, err := shared.NewContentReference(hash, "ftp://host/file")
		s.ErrorIs(err, shared.ErrInvalidContentRef)
	})

	s.Run("zero value marshals as null", func() {
		raw, err := json.Marshal(shared.ContentReference{})
		s.Require().NoError(err)
		s.Equal("null", string(raw))
	})
}

func (s *ValueObjectsSuite) TestLedgerAddress() {
	// EIP-55 reference vector.
	const checksummed = "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"

	s.Run("accepts checksummed address", func() {
		a, err := shared.NewLedgerAddress(checksummed)
		s.Require().NoError(err)
		s.Equal(checksummed, a.String())
	})

	s.Run("normalises lower-case input to checksum form", func() {
		a, err := shared.NewLedgerAddress("0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed")
		s.Require().NoError(err)
		s.Equal(checksummed, a.String())
	})

	s.Run("rejects bad checksum", func() {
		_, err := shared.NewLedgerAddress("0x5AAeb6053F3E94C9b9A09f33669435E7Ef1BeAed")
		s.ErrorIs(err, shared.ErrLedgerAddressChecksum)
	})

	s.Run("rejects wrong length", func() {
		_, err := shared.NewLedgerAddress("0x1234")
		s.ErrorIs(err, shared.ErrInvalidLedgerAddress)
	})
}
