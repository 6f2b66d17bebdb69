/*

This file contains the option pricing collaborator. The accounting engines
only depend on the Model interface; BlackScholes is the default closed-form
implementation. Math runs in float64 and converts at the Dec boundary, the
same way the GWAV oracle handles its log-domain accumulation.

*/

package pricing

import (
	"errors"
	"fmt"
	"math"

	sdkmath "cosmossdk.io/math"

	"github.com/arcadia-markets/ovm/internal/utils"
)

var ErrInvalidPricingInput = errors.New("invalid pricing input")

// Model prices a european option and reports its delta. Implementations must
// tolerate zero time-to-expiry and zero volatility by degrading to intrinsic
// value.
type Model interface {
	// Price returns the option premium in quote units for one contract.
	Price(isCall bool, spot, strike, vol sdkmath.LegacyDec, tteYears float64, rate sdkmath.LegacyDec) (sdkmath.LegacyDec, error)
	// Delta returns the signed option delta in [-1, 1].
	Delta(isCall bool, spot, strike, vol sdkmath.LegacyDec, tteYears float64, rate sdkmath.LegacyDec) (sdkmath.LegacyDec, error)
}

// BlackScholes is the standard closed-form model.
type BlackScholes struct{}

func NewBlackScholes() *BlackScholes {
	return &BlackScholes{}
}

func (bs *BlackScholes) Price(isCall bool, spot, strike, vol sdkmath.LegacyDec, tteYears float64, rate sdkmath.LegacyDec) (sdkmath.LegacyDec, error) {
	s, k, sigma, r, err := toFloats(spot, strike, vol, rate)
	if err != nil {
		return sdkmath.LegacyDec{}, err
	}
	if tteYears <= 0 || sigma <= 0 {
		return utils.Float64ToDec(intrinsic(isCall, s, k))
	}

	d1 := (math.Log(s/k) + (r+0.5*sigma*sigma)*tteYears) / (sigma * math.Sqrt(tteYears))
	d2 := d1 - sigma*math.Sqrt(tteYears)

	var premium float64
	if isCall {
		premium = s*normCDF(d1) - k*math.Exp(-r*tteYears)*normCDF(d2)
	} else {
		premium = k*math.Exp(-r*tteYears)*normCDF(-d2) - s*normCDF(-d1)
	}
	if premium < 0 {
		premium = 0
	}
	return utils.Float64ToDec(premium)
}

func (bs *BlackScholes) Delta(isCall bool, spot, strike, vol sdkmath.LegacyDec, tteYears float64, rate sdkmath.LegacyDec) (sdkmath.LegacyDec, error) {
	s, k, sigma, r, err := toFloats(spot, strike, vol, rate)
	if err != nil {
		return sdkmath.LegacyDec{}, err
	}
	if tteYears <= 0 || sigma <= 0 {
		// Expired or vol-less: delta collapses to the intrinsic indicator.
		switch {
		case isCall && s > k:
			return sdkmath.LegacyOneDec(), nil
		case !isCall && s < k:
			return sdkmath.LegacyOneDec().Neg(), nil
		default:
			return sdkmath.LegacyZeroDec(), nil
		}
	}

	d1 := (math.Log(s/k) + (r+0.5*sigma*sigma)*tteYears) / (sigma * math.Sqrt(tteYears))
	if isCall {
		return utils.Float64ToDec(normCDF(d1))
	}
	return utils.Float64ToDec(normCDF(d1) - 1)
}

func toFloats(spot, strike, vol, rate sdkmath.LegacyDec) (s, k, sigma, r float64, err error) {
	if s, err = utils.DecToFloat64(spot); err != nil {
		return
	}
	if k, err = utils.DecToFloat64(strike); err != nil {
		return
	}
	if sigma, err = utils.DecToFloat64(vol); err != nil {
		return
	}
	if r, err = utils.DecToFloat64(rate); err != nil {
		return
	}
	if s <= 0 || k <= 0 {
		err = fmt.Errorf("%w: spot %f strike %f", ErrInvalidPricingInput, s, k)
	}
	return
}

func intrinsic(isCall bool, s, k float64) float64 {
	if isCall {
		return math.Max(0, s-k)
	}
	return math.Max(0, k-s)
}

func normCDF(x float64) float64 {
	return 0.5 * (1 + math.Erf(x/math.Sqrt2))
}
