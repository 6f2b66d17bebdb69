/*

This file contains the external market collaborators the core consumes: the
spot price feed and the asset exchange. Both are plain interfaces so the pool
can run against a live adapter or the in-memory implementation below.

*/

package oracle

import (
	"errors"

	sdkmath "cosmossdk.io/math"
)

var (
	ErrRateInvalid             = errors.New("rate is invalid")
	ErrReceivedZeroFromExchange = errors.New("received zero from exchange")
	ErrQuoteTransferFailed     = errors.New("quote transfer failed")
)

// ExchangeParams bundles the market conversion parameters a single operation
// needs, fetched once so spot and fees are consistent within the call.
type ExchangeParams struct {
	SpotPrice        sdkmath.LegacyDec `json:"spot_price"`
	QuoteDenom       string            `json:"quote_denom"`
	BaseDenom        string            `json:"base_denom"`
	QuoteBaseFeeRate sdkmath.LegacyDec `json:"quote_base_fee_rate"`
	BaseQuoteFeeRate sdkmath.LegacyDec `json:"base_quote_fee_rate"`
}

// PriceFeed answers spot price queries. A stale or unset feed fails with
// ErrRateInvalid; callers must treat that as fatal, never as a zero price.
type PriceFeed interface {
	SpotPrice() (sdkmath.LegacyDec, error)
	Params() (ExchangeParams, error)
}

// Exchange converts between the quote and base assets at the feed rate minus
// fees. A conversion that would return zero fails with
// ErrReceivedZeroFromExchange.
type Exchange interface {
	QuoteForBase(quoteAmount sdkmath.LegacyDec) (sdkmath.LegacyDec, error)
	BaseForQuote(baseAmount sdkmath.LegacyDec) (sdkmath.LegacyDec, error)
}
