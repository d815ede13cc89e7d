// engine/ladder.go
package engine

import (
	"fmt"
	"math"

	"aster-volume-bot/utils"
)

// Ladder holds the quote prices for one requote cycle. Buys are strictly
// decreasing and sells strictly increasing, both moving away from the
// reference price.
type Ladder struct {
	RefPrice float64
	Buys     []float64
	Sells    []float64
}

// BuildLadder computes a symmetric quote ladder around refPrice.
//
// The base spread is refPrice*spreadBps/10000. Rung i (0-based) sits at
// spread + spread*0.1*i from the reference, so deeper rungs step out by 10%
// of the base spread each. Prices are rounded to pricePrecision; if rounding
// collapses two adjacent rungs onto the same price, the deeper rung is bumped
// one tick further out so the ladder stays strictly monotonic.
func BuildLadder(refPrice, spreadBps float64, levels, pricePrecision int) (*Ladder, error) {
	if refPrice <= 0 {
		return nil, fmt.Errorf("reference price must be positive, got %v", refPrice)
	}
	if spreadBps <= 0 {
		return nil, fmt.Errorf("spread must be positive, got %v bps", spreadBps)
	}
	if levels <= 0 {
		return nil, fmt.Errorf("levels must be positive, got %d", levels)
	}

	spread := refPrice * spreadBps / 10000.0
	tick := math.Pow(10, -float64(pricePrecision))

	ladder := &Ladder{
		RefPrice: refPrice,
		Buys:     make([]float64, 0, levels),
		Sells:    make([]float64, 0, levels),
	}

	for i := 0; i < levels; i++ {
		offset := spread + spread*0.1*float64(i)

		buy := utils.RoundToPrecision(refPrice-offset, pricePrecision)
		if i > 0 && buy >= ladder.Buys[i-1] {
			buy = utils.RoundToPrecision(ladder.Buys[i-1]-tick, pricePrecision)
		}
		if buy <= 0 {
			return nil, fmt.Errorf("ladder level %d underflows to %v", i, buy)
		}
		ladder.Buys = append(ladder.Buys, buy)

		sell := utils.RoundToPrecision(refPrice+offset, pricePrecision)
		if i > 0 && sell <= ladder.Sells[i-1] {
			sell = utils.RoundToPrecision(ladder.Sells[i-1]+tick, pricePrecision)
		}
		ladder.Sells = append(ladder.Sells, sell)
	}

	return ladder, nil
}
