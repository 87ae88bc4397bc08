// Package parsing reduces raw exchange wire shapes into the pipeline's
// working types: pair metadata, trading-period trade buckets, and
// depth-histogram bins. Ported directly from the source program's
// parsing.py.
package parsing

import (
	"fmt"
	"math"

	"spotflow/internal/exchange"
	"spotflow/internal/units"
	"spotflow/pkg/types"
)

const epsilon = 1e-6

// ParseExchangePairInfos reduces GET /v1/exchangeInfo's symbol list into
// PairInfo records, skipping any symbol not currently TRADING. Integer
// unit fields (step sizes, min/max quantities and prices, min notional)
// are converted from decimal strings via internal/units at the asset's
// declared precision.
func ParseExchangePairInfos(symbols []exchange.ExchangeInfoSymbol) (map[string]types.PairInfo, error) {
	pairInfos := make(map[string]types.PairInfo)

	for _, sym := range symbols {
		if sym.Status != "TRADING" {
			continue
		}

		basePrecision := sym.BaseAssetPrecision
		quotePrecision := sym.QuotePrecision

		var (
			baseStepSize, minBaseQty, maxBaseQty        int64
			quoteStepSize, minQuotePrice, maxQuotePrice int64
			minNotionalProduct                          int64
			haveLotSize, havePriceFilter, haveNotional  bool
		)

		for _, f := range sym.Filters {
			switch f.FilterType {
			case "PRICE_FILTER":
				var err error
				if minQuotePrice, err = units.NumStrToIntUnits(f.MinPrice, quotePrecision); err != nil {
					return nil, fmt.Errorf("parse %s minPrice: %w", sym.Symbol, err)
				}
				if maxQuotePrice, err = units.NumStrToIntUnits(f.MaxPrice, quotePrecision); err != nil {
					return nil, fmt.Errorf("parse %s maxPrice: %w", sym.Symbol, err)
				}
				if quoteStepSize, err = units.NumStrToIntUnits(f.TickSize, quotePrecision); err != nil {
					return nil, fmt.Errorf("parse %s tickSize: %w", sym.Symbol, err)
				}
				havePriceFilter = true

			case "LOT_SIZE":
				var err error
				if minBaseQty, err = units.NumStrToIntUnits(f.MinQty, basePrecision); err != nil {
					return nil, fmt.Errorf("parse %s minQty: %w", sym.Symbol, err)
				}
				if maxBaseQty, err = units.NumStrToIntUnits(f.MaxQty, basePrecision); err != nil {
					return nil, fmt.Errorf("parse %s maxQty: %w", sym.Symbol, err)
				}
				if baseStepSize, err = units.NumStrToIntUnits(f.StepSize, basePrecision); err != nil {
					return nil, fmt.Errorf("parse %s stepSize: %w", sym.Symbol, err)
				}
				haveLotSize = true

			case "MIN_NOTIONAL":
				var err error
				if minNotionalProduct, err = units.NumStrToIntUnits(f.MinNotional, quotePrecision+basePrecision); err != nil {
					return nil, fmt.Errorf("parse %s minNotional: %w", sym.Symbol, err)
				}
				haveNotional = true
			}
		}

		if !haveLotSize || !havePriceFilter || !haveNotional {
			return nil, fmt.Errorf("symbol %s missing required filter (lot_size=%v price_filter=%v min_notional=%v)",
				sym.Symbol, haveLotSize, havePriceFilter, haveNotional)
		}

		pairInfos[lower(sym.Symbol)] = types.PairInfo{
			Pair:                  lower(sym.Symbol),
			BaseSymbol:            lower(sym.BaseAsset),
			QuoteSymbol:           lower(sym.QuoteAsset),
			BasePrecision:         basePrecision,
			BaseStepSize:          baseStepSize,
			MinBaseQty:            minBaseQty,
			MaxBaseQty:            maxBaseQty,
			QuotePrecision:        quotePrecision,
			QuoteStepSize:         quoteStepSize,
			MinQuotePrice:         minQuotePrice,
			MaxQuotePrice:         maxQuotePrice,
			MinNotationalProduct: minNotionalProduct,
		}
	}

	return pairInfos, nil
}

func lower(s string) string {
	out := make([]byte, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		out[i] = c
	}
	return string(out)
}

// DepthBins is the reduction of a reconciled depth state into fixed-width
// histograms, as consumed by internal/buffer's rolling depth window.
type DepthBins struct {
	ServerTimestamp int64
	Bids            []float32
	Asks            []float32
	AvgSpread       float32
	QtySpread       float32
}

// ParseDepthState reduces a ReconciledDepth into num_depth_bins-wide
// weighted histograms per side, ported from parse_depth_state: bin
// centers are drawn from [mean-3*std, mean+3*std] at num_depth_bins-1
// edges, each price level's weight is its quantity normalized by the
// side's max quantity, and the resulting per-bin weights are themselves
// normalized by the max occupied bin.
func ParseDepthState(numDepthBins int, depth types.ReconciledDepth) DepthBins {
	bidPrices, bidWeights := levelsOf(depth.Bids)
	askPrices, askWeights := levelsOf(depth.Asks)

	var totalBidQty, totalAskQty float64
	for _, q := range bidWeights {
		totalBidQty += q
	}
	for _, q := range askWeights {
		totalAskQty += q
	}
	qtySpread := float32(totalAskQty - totalBidQty)

	avgBid, stdBid := weightedMeanStd(bidPrices, bidWeights)
	avgAsk, stdAsk := weightedMeanStd(askPrices, askWeights)
	avgSpread := float32(avgAsk - avgBid)

	bidArr := histogram(numDepthBins, bidPrices, bidWeights, avgBid-3*stdBid, avgBid+3*stdBid)
	askArr := histogram(numDepthBins, askPrices, askWeights, avgAsk-3*stdAsk, avgAsk+3*stdAsk)

	return DepthBins{
		ServerTimestamp: depth.ServerTimestamp,
		Bids:            bidArr,
		Asks:            askArr,
		AvgSpread:       avgSpread,
		QtySpread:       qtySpread,
	}
}

func levelsOf(side map[string]float64) ([]float64, []float64) {
	prices := make([]float64, 0, len(side))
	qtys := make([]float64, 0, len(side))
	for priceStr, qty := range side {
		prices = append(prices, parseFloatOrZero(priceStr))
		qtys = append(qtys, qty)
	}
	return prices, qtys
}

func parseFloatOrZero(s string) float64 {
	var f float64
	_, err := fmt.Sscanf(s, "%g", &f)
	if err != nil {
		return 0
	}
	return f
}

// weightedMeanStd normalizes weights by their max (+ epsilon) before
// computing the weighted mean and standard deviation, matching
// parse_depth_state's ask_weights /= max(ask_weights) + epsilon step.
func weightedMeanStd(values, weights []float64) (mean, std float64) {
	if len(values) == 0 {
		return 0, 0
	}
	maxW := 0.0
	for _, w := range weights {
		if w > maxW {
			maxW = w
		}
	}
	norm := make([]float64, len(weights))
	var sumW float64
	for i, w := range weights {
		norm[i] = w / (maxW + epsilon)
		sumW += norm[i]
	}
	if sumW == 0 {
		return 0, 0
	}
	for i, v := range values {
		mean += v * norm[i]
	}
	mean /= sumW

	var sqSum float64
	for i, v := range values {
		d := v - mean
		sqSum += d * d * norm[i]
	}
	std = math.Sqrt(sqSum / sumW)
	return mean, std
}

// histogram bins `values` (weighted by `weights`) into numBins buckets
// between [lo, hi), using num_bins-1 linearly spaced edges (np.linspace)
// and np.digitize-style right-open binning, clamped to the last bin, then
// normalizes the resulting per-bin weight by the max occupied bin.
func histogram(numBins int, values, weights []float64, lo, hi float64) []float32 {
	out := make([]float64, numBins)
	if len(values) == 0 || numBins <= 1 {
		return toFloat32(out)
	}

	numEdges := numBins - 1
	edges := make([]float64, numEdges)
	if numEdges == 1 {
		edges[0] = lo
	} else {
		step := (hi - lo) / float64(numEdges-1)
		for i := 0; i < numEdges; i++ {
			edges[i] = lo + step*float64(i)
		}
	}

	for i, v := range values {
		bin := digitize(v, edges)
		if bin > numBins-1 {
			bin = numBins - 1
		}
		out[bin] += weights[i]
	}

	maxV := 0.0
	for _, v := range out {
		if v > maxV {
			maxV = v
		}
	}
	for i := range out {
		out[i] /= maxV + epsilon
	}
	return toFloat32(out)
}

// digitize mirrors numpy.digitize with default right=False: returns the
// index of the first edge strictly greater than v (i.e. v falls in
// [edges[i-1], edges[i])).
func digitize(v float64, edges []float64) int {
	for i, e := range edges {
		if v < e {
			return i
		}
	}
	return len(edges)
}

func toFloat32(in []float64) []float32 {
	out := make([]float32, len(in))
	for i, v := range in {
		out[i] = float32(v)
	}
	return out
}

// TradeBinStats accumulates the quantities and prices of every trade
// observed in one open trading-period bin, pending aggregation once the
// bin closes (spec.md I3).
type TradeBinStats struct {
	Quantities []float64
	Prices     []float64
}

// ParseTrade buckets a trade into its period-aligned time bin and
// accumulates its quantity/price into binStats, creating the bin's entry
// on first observation. periodTime and trade.TradeTimestamp must share
// units (spec.md §9 Open Question ii: both milliseconds throughout this
// pipeline).
func ParseTrade(periodTime int64, trade types.Trade, binStats map[int64]*TradeBinStats) {
	timeBin := (trade.TradeTimestamp / periodTime) * periodTime

	bin, ok := binStats[timeBin]
	if !ok {
		bin = &TradeBinStats{}
		binStats[timeBin] = bin
	}
	bin.Quantities = append(bin.Quantities, trade.Quantity)
	bin.Prices = append(bin.Prices, trade.Price)
}

// AccountBalances holds the free/locked balances for every asset returned
// by GET /v3/account, keyed by lowercased asset symbol.
type AccountBalances struct {
	Free   map[string]int64
	Locked map[string]int64
}

// ParseAccountBalanceInfo reduces an AccountInfo response into integer-unit
// balances at balancePrecision. Per spec.md §9 Open Question (iii), the
// Connection Worker currently discards this result.
func ParseAccountBalanceInfo(info exchange.AccountInfo, balancePrecision int) (AccountBalances, error) {
	if !info.CanTrade {
		return AccountBalances{}, fmt.Errorf("account cannot trade")
	}

	out := AccountBalances{
		Free:   make(map[string]int64, len(info.Balances)),
		Locked: make(map[string]int64, len(info.Balances)),
	}
	for _, bal := range info.Balances {
		asset := lower(bal.Asset)
		free, err := units.NumStrToIntUnits(bal.Free, balancePrecision)
		if err != nil {
			return AccountBalances{}, fmt.Errorf("parse free balance for %s: %w", asset, err)
		}
		locked, err := units.NumStrToIntUnits(bal.Locked, balancePrecision)
		if err != nil {
			return AccountBalances{}, fmt.Errorf("parse locked balance for %s: %w", asset, err)
		}
		out.Free[asset] = free
		out.Locked[asset] = locked
	}
	return out, nil
}
