/*

This file contains the in-memory price feed and exchange used by simulation
mode and the test suites. The price is settable; exchanges convert at spot
minus the configured fee rate, with the same failure modes a live adapter has.

*/

package oracle

import (
	"sync"

	sdkmath "cosmossdk.io/math"
)

// Static is a settable in-memory PriceFeed and Exchange.
type Static struct {
	mu     sync.RWMutex
	params ExchangeParams
	valid  bool
}

// NewStatic returns a feed seeded with the given spot price and fee rates.
func NewStatic(spot sdkmath.LegacyDec, quoteDenom, baseDenom string, quoteBaseFee, baseQuoteFee sdkmath.LegacyDec) *Static {
	return &Static{
		params: ExchangeParams{
			SpotPrice:        spot,
			QuoteDenom:       quoteDenom,
			BaseDenom:        baseDenom,
			QuoteBaseFeeRate: quoteBaseFee,
			BaseQuoteFeeRate: baseQuoteFee,
		},
		valid: true,
	}
}

// SetSpot updates the spot price.
func (s *Static) SetSpot(spot sdkmath.LegacyDec) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.params.SpotPrice = spot
}

// SetFees updates the exchange fee rates.
func (s *Static) SetFees(quoteBaseFee, baseQuoteFee sdkmath.LegacyDec) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.params.QuoteBaseFeeRate = quoteBaseFee
	s.params.BaseQuoteFeeRate = baseQuoteFee
}

// Invalidate marks the feed stale; subsequent queries fail with ErrRateInvalid.
func (s *Static) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.valid = false
}

// Revalidate restores the feed after an Invalidate.
func (s *Static) Revalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.valid = true
}

func (s *Static) SpotPrice() (sdkmath.LegacyDec, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.valid || !s.params.SpotPrice.IsPositive() {
		return sdkmath.LegacyDec{}, ErrRateInvalid
	}
	return s.params.SpotPrice, nil
}

func (s *Static) Params() (ExchangeParams, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.valid || !s.params.SpotPrice.IsPositive() {
		return ExchangeParams{}, ErrRateInvalid
	}
	return s.params, nil
}

func (s *Static) QuoteForBase(quoteAmount sdkmath.LegacyDec) (sdkmath.LegacyDec, error) {
	p, err := s.Params()
	if err != nil {
		return sdkmath.LegacyDec{}, err
	}
	if !quoteAmount.IsPositive() {
		return sdkmath.LegacyDec{}, ErrReceivedZeroFromExchange
	}
	base := quoteAmount.Mul(sdkmath.LegacyOneDec().Sub(p.QuoteBaseFeeRate)).Quo(p.SpotPrice)
	if !base.IsPositive() {
		return sdkmath.LegacyDec{}, ErrReceivedZeroFromExchange
	}
	return base, nil
}

func (s *Static) BaseForQuote(baseAmount sdkmath.LegacyDec) (sdkmath.LegacyDec, error) {
	p, err := s.Params()
	if err != nil {
		return sdkmath.LegacyDec{}, err
	}
	if !baseAmount.IsPositive() {
		return sdkmath.LegacyDec{}, ErrReceivedZeroFromExchange
	}
	quote := baseAmount.Mul(p.SpotPrice).Mul(sdkmath.LegacyOneDec().Sub(p.BaseQuoteFeeRate))
	if !quote.IsPositive() {
		return sdkmath.LegacyDec{}, ErrReceivedZeroFromExchange
	}
	return quote, nil
}
