// Package extraction defines the seam to the optical text extraction
// provider. The engine treats the provider as opaque: it consumes the
// extracted fields and their 0-100 confidences without knowing how they
// were produced.
package extraction

import (
	"context"
	"time"

	"github.com/reckonlabs/reckon/internal/domain/matcher"
)

// ReceiptExtraction is the provider's output for one receipt: per-field
// guesses with independent confidences, plus the raw source text.
type ReceiptExtraction struct {
	Merchant           string    `json:"merchant"`
	MerchantConfidence int       `json:"merchant_confidence"` // 0-100
	Date               time.Time `json:"date"`
	DateConfidence     int       `json:"date_confidence"`
	Amount             float64   `json:"amount"`
	AmountConfidence   int       `json:"amount_confidence"`
	RawText            string    `json:"raw_text,omitempty"`
}

// Receipt converts the extraction into the matcher's input form.
func (e ReceiptExtraction) Receipt() matcher.Receipt {
	return matcher.Receipt{
		Merchant: e.Merchant,
		Date:     e.Date,
		Amount:   e.Amount,
	}
}

// Provider extracts receipt fields from an image or PDF.
type Provider interface {
	Extract(ctx context.Context, data []byte) (*ReceiptExtraction, error)
}

// StaticProvider returns a fixed extraction; used in tests and dry runs.
type StaticProvider struct {
	Result *ReceiptExtraction
	Err    error
}

// Extract returns the configured result regardless of input.
func (p *StaticProvider) Extract(_ context.Context, _ []byte) (*ReceiptExtraction, error) {
	if p.Err != nil {
		return nil, p.Err
	}
	return p.Result, nil
}

var _ Provider = (*StaticProvider)(nil)
