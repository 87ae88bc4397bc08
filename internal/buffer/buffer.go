// Package buffer maintains the rolling per-pair feature window: EMA-based
// technical indicators over trading periods, and rolling depth histograms
// per side. Ported directly from the source program's buffer.py.
package buffer

import "math"

const epsilon = 1e-6

// Indicator horizons, in periods.
const (
	DaysShort = 9
	DaysMed   = 14
	DaysLong  = 26
)

// NumDepthBins is the width/height of the rolling depth histogram window.
const NumDepthBins = 16

// NumFeatPeriods is the number of trailing periods kept in the feature window.
const NumFeatPeriods = 24

// NumFeats is the fixed column count of one period's feature row: price,
// quantity, orderbook_avg_spread, orderbook_qty_spread, Williams %R
// (short/med/long), RSI (short/med/long), ADX (short/med/long), MACD
// diffs (short-med, short-long, med-long).
const NumFeats = 16

// FeatLabels names the feature window's columns in schema order.
func FeatLabels() []string {
	return []string{
		"price", "quantity", "orderbook_avg_spread", "orderbook_qty_spread",
		"percent_range_short", "percent_range_med", "percent_range_long",
		"rsi_short", "rsi_med", "rsi_long", "adx_short", "adx_med", "adx_long",
		"macd_short_med", "macd_short_long", "macd_med_long",
	}
}

// numBufferPeriods mirrors int(3.45 * (days_long+1)) + 1 == 94: the period
// history depth needed before indicator EMAs and Williams %R windows are
// considered warmed up (spec.md I4).
var numBufferPeriods = int(math.Floor(3.45*(DaysLong+1))) + 1

// FeatureWindow is the snapshot returned once the buffer has warmed up:
// the latest period timestamp, the [NumFeatPeriods][NumFeats] feature
// matrix, and the two [NumDepthBins][NumDepthBins] rolling depth
// histograms.
type FeatureWindow struct {
	Timestamp int64
	Feats     [NumFeatPeriods][NumFeats]float32
	BidWindow [NumDepthBins][NumDepthBins]float32
	AskWindow [NumDepthBins][NumDepthBins]float32
}

// RealtimeTradeStreamBuffer buffers one pair's trading-period history and
// exposes the rolling feature window for the prediction model.
type RealtimeTradeStreamBuffer struct {
	lastOrderBookTimestamp int64
	lastPeriodTimestamp    int64

	lastAvgSpread float32
	lastQtySpread float32

	curBufferedPeriods int

	bidWindow [NumDepthBins][NumDepthBins]float32
	askWindow [NumDepthBins][NumDepthBins]float32

	featsWindow [NumFeatPeriods][NumFeats]float32

	emaAlphaShort float64
	emaAlphaMed   float64
	emaAlphaLong  float64

	priceEMAShort, priceEMAMed, priceEMALong float64

	upAvgEMAShort, upAvgEMAMed, upAvgEMALong       float64
	downAvgEMAShort, downAvgEMAMed, downAvgEMALong float64

	posDirEMAShort, posDirEMAMed, posDirEMALong float64
	negDirEMAShort, negDirEMAMed, negDirEMALong float64

	trEMAShort, trEMAMed, trEMALong float64

	adxEMAShort, adxEMAMed, adxEMALong float64

	priceBuffer, quantityBuffer []float64
	lowsBuffer, highsBuffer     []float64
	upAvgBuffer, downAvgBuffer  []float64
	posDirBuffer, negDirBuffer  []float64
	trBuffer                    []float64
}

// New constructs an empty buffer, matching RealtimeTradeStreamBuffer.__init__.
func New() *RealtimeTradeStreamBuffer {
	n := numBufferPeriods
	return &RealtimeTradeStreamBuffer{
		emaAlphaShort: 2. / (DaysShort + 1),
		emaAlphaMed:   2. / (DaysMed + 1),
		emaAlphaLong:  2. / (DaysLong + 1),

		priceBuffer:    make([]float64, n),
		quantityBuffer: make([]float64, n),
		lowsBuffer:     make([]float64, n),
		highsBuffer:    make([]float64, n),
		upAvgBuffer:    make([]float64, n),
		downAvgBuffer:  make([]float64, n),
		posDirBuffer:   make([]float64, n),
		negDirBuffer:   make([]float64, n),
		trBuffer:       make([]float64, n),
	}
}

// UpdateOrderBook shifts the rolling depth-histogram windows and appends
// the latest reduced bid/ask arrays, matching update_order_book.
func (b *RealtimeTradeStreamBuffer) UpdateOrderBook(serverTimestamp int64, bidArr, askArr []float32, avgSpread, qtySpread float32) {
	b.lastOrderBookTimestamp = serverTimestamp
	b.lastAvgSpread = avgSpread
	b.lastQtySpread = qtySpread

	shiftRow(&b.bidWindow, bidArr)
	shiftRow(&b.askWindow, askArr)
}

func shiftRow(window *[NumDepthBins][NumDepthBins]float32, row []float32) {
	copy(window[:len(window)-1], window[1:])
	var last [NumDepthBins]float32
	copy(last[:], row)
	window[len(window)-1] = last
}

// UpdateTradePeriod folds one closed trading period into every rolling
// buffer and EMA, then recomputes the latest feature row, matching
// update_trade_period.
func (b *RealtimeTradeStreamBuffer) UpdateTradePeriod(serverPeriodTimestamp int64, totalQuantity float64, numTrades int, avgPrice, lowPrice, highPrice float64) {
	b.lastPeriodTimestamp = serverPeriodTimestamp

	lastAvg := b.priceBuffer[len(b.priceBuffer)-1]
	lastLow := b.lowsBuffer[len(b.lowsBuffer)-1]
	lastHigh := b.highsBuffer[len(b.highsBuffer)-1]

	shiftAndSet(b.priceBuffer, avgPrice)
	shiftAndSet(b.quantityBuffer, totalQuantity)
	shiftAndSet(b.lowsBuffer, lowPrice)
	shiftAndSet(b.highsBuffer, highPrice)
	shift(b.upAvgBuffer)
	shift(b.downAvgBuffer)
	shift(b.posDirBuffer)
	shift(b.negDirBuffer)
	shift(b.trBuffer)

	last := func(buf []float64) float64 { return buf[len(buf)-1] }
	setLast := func(buf []float64, v float64) { buf[len(buf)-1] = v }

	setLast(b.trBuffer, maxOf3(
		highPrice-lowPrice,
		math.Abs(highPrice-lastAvg),
		math.Abs(lowPrice-lastAvg),
	))

	if avgPrice > lastAvg {
		setLast(b.upAvgBuffer, avgPrice-lastAvg)
		setLast(b.downAvgBuffer, 0)
	} else {
		setLast(b.upAvgBuffer, 0)
		setLast(b.downAvgBuffer, lastAvg-avgPrice)
	}

	upMove := highPrice - lastHigh
	downMove := lastLow - lowPrice

	if upMove > downMove && upMove > 0 {
		setLast(b.posDirBuffer, upMove)
	} else {
		setLast(b.posDirBuffer, 0)
	}
	if downMove > upMove && downMove > 0 {
		setLast(b.negDirBuffer, downMove)
	} else {
		setLast(b.negDirBuffer, 0)
	}

	b.priceEMAShort = ema(b.priceEMAShort, last(b.priceBuffer), b.emaAlphaShort)
	b.priceEMAMed = ema(b.priceEMAMed, last(b.priceBuffer), b.emaAlphaMed)
	b.priceEMALong = ema(b.priceEMALong, last(b.priceBuffer), b.emaAlphaLong)

	b.upAvgEMAShort = ema(b.upAvgEMAShort, last(b.upAvgBuffer), b.emaAlphaShort)
	b.upAvgEMAMed = ema(b.upAvgEMAMed, last(b.upAvgBuffer), b.emaAlphaMed)
	b.upAvgEMALong = ema(b.upAvgEMALong, last(b.upAvgBuffer), b.emaAlphaLong)
	b.downAvgEMAShort = ema(b.downAvgEMAShort, last(b.downAvgBuffer), b.emaAlphaShort)
	b.downAvgEMAMed = ema(b.downAvgEMAMed, last(b.downAvgBuffer), b.emaAlphaMed)
	b.downAvgEMALong = ema(b.downAvgEMALong, last(b.downAvgBuffer), b.emaAlphaLong)

	b.posDirEMAShort = ema(b.posDirEMAShort, last(b.posDirBuffer), b.emaAlphaShort)
	b.posDirEMAMed = ema(b.posDirEMAMed, last(b.posDirBuffer), b.emaAlphaMed)
	b.posDirEMALong = ema(b.posDirEMALong, last(b.posDirBuffer), b.emaAlphaLong)
	b.negDirEMAShort = ema(b.negDirEMAShort, last(b.negDirBuffer), b.emaAlphaShort)
	b.negDirEMAMed = ema(b.negDirEMAMed, last(b.negDirBuffer), b.emaAlphaMed)
	b.negDirEMALong = ema(b.negDirEMALong, last(b.negDirBuffer), b.emaAlphaLong)

	b.trEMAShort = ema(b.trEMAShort, last(b.trBuffer), b.emaAlphaShort)
	b.trEMAMed = ema(b.trEMAMed, last(b.trBuffer), b.emaAlphaMed)
	b.trEMALong = ema(b.trEMALong, last(b.trBuffer), b.emaAlphaLong)

	copy(b.featsWindow[:len(b.featsWindow)-1], b.featsWindow[1:])
	b.featsWindow[len(b.featsWindow)-1] = b.computeFeatures()

	_ = numTrades // retained in the period struct, not a feature column

	if b.lastOrderBookTimestamp > 0 && b.curBufferedPeriods < numBufferPeriods {
		b.curBufferedPeriods++
	}
}

func ema(prev, sample, alpha float64) float64 {
	return prev + alpha*(sample-prev)
}

func maxOf3(a, b, c float64) float64 {
	m := a
	if b > m {
		m = b
	}
	if c > m {
		m = c
	}
	return m
}

func shift(buf []float64) {
	copy(buf, buf[1:])
}

func shiftAndSet(buf []float64, v float64) {
	shift(buf)
	buf[len(buf)-1] = v
}

// computeFeatures derives the latest period's feature row from the
// buffered history and EMA state, matching _compute_features.
func (b *RealtimeTradeStreamBuffer) computeFeatures() [NumFeats]float32 {
	highestHighShort := maxTail(b.highsBuffer, DaysShort)
	highestHighMed := maxTail(b.highsBuffer, DaysMed)
	highestHighLong := maxTail(b.highsBuffer, DaysLong)

	lowestLowShort := minTail(b.lowsBuffer, DaysShort)
	lowestLowMed := minTail(b.lowsBuffer, DaysMed)
	lowestLowLong := minTail(b.lowsBuffer, DaysLong)

	lastPrice := b.priceBuffer[len(b.priceBuffer)-1]

	percentRangeShort := (highestHighShort - lastPrice) / (highestHighShort - lowestLowShort + epsilon) * -100.
	percentRangeMed := (highestHighMed - lastPrice) / (highestHighMed - lowestLowMed + epsilon) * -100.
	percentRangeLong := (highestHighLong - lastPrice) / (highestHighLong - lowestLowLong + epsilon) * -100.

	rsiShort := 100. - 100./(1.+b.upAvgEMAShort/(b.downAvgEMAShort+epsilon))
	rsiMed := 100. - 100./(1.+b.upAvgEMAMed/(b.downAvgEMAMed+epsilon))
	rsiLong := 100. - 100./(1.+b.upAvgEMALong/(b.downAvgEMALong+epsilon))

	posDIShort := 100. * b.posDirEMAShort / (b.trEMAShort + epsilon)
	negDIShort := 100. * b.negDirEMAShort / (b.trEMAShort + epsilon)
	posDIMed := 100. * b.posDirEMAMed / (b.trEMAMed + epsilon)
	negDIMed := 100. * b.negDirEMAMed / (b.trEMAMed + epsilon)
	posDILong := 100. * b.posDirEMALong / (b.trEMALong + epsilon)
	negDILong := 100. * b.negDirEMALong / (b.trEMALong + epsilon)

	curADXShort := math.Abs(posDIShort-negDIShort) / (posDIShort + negDIShort + epsilon)
	curADXMed := math.Abs(posDIMed-negDIMed) / (posDIMed + negDIMed + epsilon)
	curADXLong := math.Abs(posDILong-negDILong) / (posDILong + negDILong + epsilon)

	b.adxEMAShort = ema(b.adxEMAShort, curADXShort, b.emaAlphaShort)
	b.adxEMAMed = ema(b.adxEMAMed, curADXMed, b.emaAlphaMed)
	b.adxEMALong = ema(b.adxEMALong, curADXLong, b.emaAlphaLong)

	var row [NumFeats]float32
	row[0] = float32(lastPrice)
	row[1] = float32(b.quantityBuffer[len(b.quantityBuffer)-1])
	row[2] = b.lastAvgSpread
	row[3] = b.lastQtySpread

	row[4] = float32(percentRangeShort)
	row[5] = float32(percentRangeMed)
	row[6] = float32(percentRangeLong)

	row[7] = float32(rsiShort)
	row[8] = float32(rsiMed)
	row[9] = float32(rsiLong)

	row[10] = float32(b.adxEMAShort * 100.)
	row[11] = float32(b.adxEMAMed * 100.)
	row[12] = float32(b.adxEMALong * 100.)

	row[13] = float32(b.priceEMAShort - b.priceEMAMed)
	row[14] = float32(b.priceEMAShort - b.priceEMALong)
	row[15] = float32(b.priceEMAMed - b.priceEMALong)

	return row
}

func maxTail(buf []float64, n int) float64 {
	start := len(buf) - n
	if start < 0 {
		start = 0
	}
	m := buf[start]
	for _, v := range buf[start:] {
		if v > m {
			m = v
		}
	}
	return m
}

func minTail(buf []float64, n int) float64 {
	start := len(buf) - n
	if start < 0 {
		start = 0
	}
	m := buf[start]
	for _, v := range buf[start:] {
		if v < m {
			m = v
		}
	}
	return m
}

// GetFeaturesWindow returns the current feature window once the buffer has
// observed at least one order book and numBufferPeriods trading periods,
// matching get_features_window; the second return is false until then.
func (b *RealtimeTradeStreamBuffer) GetFeaturesWindow() (FeatureWindow, bool) {
	if b.curBufferedPeriods < numBufferPeriods {
		return FeatureWindow{}, false
	}
	return FeatureWindow{
		Timestamp: b.lastPeriodTimestamp,
		Feats:     b.featsWindow,
		BidWindow: b.bidWindow,
		AskWindow: b.askWindow,
	}, true
}
