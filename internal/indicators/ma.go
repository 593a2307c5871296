// Package indicators computes moving averages over closing prices.
package indicators

import (
	"github.com/cinar/indicator/v2/helper"
	"github.com/cinar/indicator/v2/trend"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// ErrNotEnoughData is returned when a series is shorter than the requested period.
var ErrNotEnoughData = errors.New("not enough data for moving average")

// smaPlaces drops the float64 summation noise so a flat series averages to its own price.
const smaPlaces = 8

// SMA returns the simple moving average of the trailing period closes.
// A series shorter than period is rejected rather than averaged over fewer points.
func SMA(closes []decimal.Decimal, period int) (decimal.Decimal, error) {
	if period <= 0 {
		return decimal.Zero, errors.Errorf("period must be positive, got %d", period)
	}
	if len(closes) < period {
		return decimal.Zero, errors.Wrapf(ErrNotEnoughData, "need %d closes, got %d", period, len(closes))
	}

	window := decimalsToFloat64(closes[len(closes)-period:])

	sma := trend.NewSmaWithPeriod[float64](period)
	values := helper.ChanToSlice(sma.Compute(helper.SliceToChan(window)))
	if len(values) == 0 {
		return decimal.Zero, errors.Wrapf(ErrNotEnoughData, "no output for period %d", period)
	}

	return decimal.NewFromFloat(values[len(values)-1]).Round(smaPlaces), nil
}

func decimalsToFloat64(values []decimal.Decimal) []float64 {
	out := make([]float64, len(values))
	for i, v := range values {
		out[i] = v.InexactFloat64()
	}
	return out
}
