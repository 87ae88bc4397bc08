package workers

import (
	"encoding/json"
	"sort"
	"time"

	"spotflow/internal/appstate"
	"spotflow/internal/archive"
	"spotflow/internal/buffer"
	"spotflow/internal/config"
	"spotflow/internal/parsing"
	"spotflow/internal/prediction"
	"spotflow/pkg/types"
)

const analysisEpsilon = 1e-6

// probsHistory is a fixed-length ring of [hold, action] distributions; new
// rows shift the window left and append at the tail, matching
// analysis.py's `history[:-1] = history[1:]; history[-1] = probs`.
type probsHistory struct {
	rows [][2]float32
}

func newProbsHistory(length int) *probsHistory {
	rows := make([][2]float32, length)
	for i := range rows {
		rows[i] = [2]float32{0.5, 0.5}
	}
	return &probsHistory{rows: rows}
}

func (h *probsHistory) push(p prediction.Outcome) {
	copy(h.rows, h.rows[1:])
	h.rows[len(h.rows)-1] = [2]float32(p)
}

// joint computes prod(history, axis=0) normalized to sum 1.
func (h *probsHistory) joint() [2]float32 {
	var out [2]float32 = [2]float32{1, 1}
	for _, row := range h.rows {
		out[0] *= row[0]
		out[1] *= row[1]
	}
	sum := float64(out[0]) + float64(out[1]) + analysisEpsilon
	return [2]float32{float32(float64(out[0]) / sum), float32(float64(out[1]) / sum)}
}

// ModelFactory constructs the pluggable prediction model for a newly
// observed pair. Supplied by the caller wiring AnalysisWorker so the
// stub in internal/prediction can be swapped for a real model without
// touching this worker.
type ModelFactory func(pair string) prediction.Model

// AnalysisWorker consumes trades and reconciled depth states, folds
// trades into trading periods, updates each pair's indicator buffer, and
// runs the prediction model to emit buy/sell signals. Grounded on
// analysis.py's AnalysisRunner.
type AnalysisWorker struct {
	state    *appstate.AppState
	cfg      *config.Config
	archiver *archive.Archiver
	newModel ModelFactory

	lastClosedTimeBin int64
	timeBinStats      map[string]map[int64]*parsing.TradeBinStats
	streams           map[string]*buffer.RealtimeTradeStreamBuffer
	lastAvgPrices     map[string]float64
	models            map[string]prediction.Model
	buyHistories      map[string]*probsHistory
	sellHistories     map[string]*probsHistory
}

// NewAnalysisWorker constructs an AnalysisWorker. archiver may be nil if
// no pairs are ever configured to be saved.
func NewAnalysisWorker(state *appstate.AppState, cfg *config.Config, archiver *archive.Archiver, newModel ModelFactory) *AnalysisWorker {
	w := &AnalysisWorker{state: state, cfg: cfg, archiver: archiver, newModel: newModel}
	w.OnStart()
	return w
}

// OnStart clears every in-memory accumulator (analysis.py's on_start).
func (w *AnalysisWorker) OnStart() {
	w.lastClosedTimeBin = 0
	w.timeBinStats = make(map[string]map[int64]*parsing.TradeBinStats)
	w.streams = make(map[string]*buffer.RealtimeTradeStreamBuffer)
	w.lastAvgPrices = make(map[string]float64)
	w.models = make(map[string]prediction.Model)
	w.buyHistories = make(map[string]*probsHistory)
	w.sellHistories = make(map[string]*probsHistory)
}

// OnUpdate runs one pass of the four-step pipeline described in spec.md
// §4.6: drain+archive+bucket trades, drain+archive+reduce+feed depth
// states, close complete period bins, then the model step.
func (w *AnalysisWorker) OnUpdate() {
	if w.state.ConnectionStatus() != types.StatusConnected {
		w.OnStart()
		return
	}

	tradePairs := toSet(w.state.TradePairs())
	savePairs := toSet(w.state.SavePairs())

	w.drainTrades(tradePairs, savePairs)
	w.drainOrderbookStates(tradePairs, savePairs)
	w.closeCompleteBins()
	w.dropStaleModels(tradePairs)
	w.runModelStep(w.state.TradePairs())
}

func toSet(pairs []string) map[string]bool {
	set := make(map[string]bool, len(pairs))
	for _, p := range pairs {
		set[p] = true
	}
	return set
}

func (w *AnalysisWorker) streamFor(pair string) *buffer.RealtimeTradeStreamBuffer {
	s, ok := w.streams[pair]
	if !ok {
		s = buffer.New()
		w.streams[pair] = s
	}
	return s
}

func (w *AnalysisWorker) drainTrades(tradePairs, savePairs map[string]bool) {
	periodTimeMs := w.cfg.Analysis.PeriodTime.Milliseconds()

	for _, trade := range w.state.TradeQueue.DrainAll() {
		if savePairs[trade.Pair] && w.archiver != nil {
			if line, err := json.Marshal(trade); err == nil {
				w.archiver.AppendLines(trade.Pair, archive.KindTrades, [][]byte{line})
			}
		}

		if tradePairs[trade.Pair] {
			bins, ok := w.timeBinStats[trade.Pair]
			if !ok {
				bins = make(map[int64]*parsing.TradeBinStats)
				w.timeBinStats[trade.Pair] = bins
			}
			parsing.ParseTrade(periodTimeMs, trade, bins)
		}
	}
}

func (w *AnalysisWorker) drainOrderbookStates(tradePairs, savePairs map[string]bool) {
	for _, depth := range w.state.OrderbookStateQueue.DrainAll() {
		if savePairs[depth.Pair] && w.archiver != nil {
			if line, err := json.Marshal(depth); err == nil {
				w.archiver.AppendLines(depth.Pair, archive.KindDepth, [][]byte{line})
			}
		}

		if tradePairs[depth.Pair] {
			bins := parsing.ParseDepthState(w.cfg.Analysis.NumDepthBins, depth)
			w.streamFor(depth.Pair).UpdateOrderBook(bins.ServerTimestamp, bins.Bids, bins.Asks, bins.AvgSpread, bins.QtySpread)
		}
	}
}

// closeCompleteBins implements §4.6(c): close every bucket at or before
// last_time_bin in ascending order, or feed a synthetic zero-quantity
// period if the pair closed no bins this tick but the clock still
// advanced.
func (w *AnalysisWorker) closeCompleteBins() {
	periodTimeMs := w.cfg.Analysis.PeriodTime.Milliseconds()
	curTimeBin := (w.state.ServerTime() / periodTimeMs) * periodTimeMs
	lastTimeBin := curTimeBin - periodTimeMs

	if lastTimeBin <= w.lastClosedTimeBin {
		return
	}
	w.lastClosedTimeBin = lastTimeBin

	for pair, binStats := range w.timeBinStats {
		stream := w.streamFor(pair)

		timeBins := make([]int64, 0, len(binStats))
		for tb := range binStats {
			timeBins = append(timeBins, tb)
		}
		sort.Slice(timeBins, func(i, j int) bool { return timeBins[i] < timeBins[j] })

		didClose := false
		for _, tb := range timeBins {
			if tb > lastTimeBin {
				break
			}

			bin := binStats[tb]
			totalQuantity := sumFloat64(bin.Quantities)
			totalNumTrades := len(bin.Quantities)
			avgPrice := weightedAvg(bin.Prices, bin.Quantities, totalQuantity)
			lowPrice := minFloat64(bin.Prices)
			highPrice := maxFloat64(bin.Prices)

			w.lastAvgPrices[pair] = avgPrice
			stream.UpdateTradePeriod(tb, totalQuantity, totalNumTrades, avgPrice, lowPrice, highPrice)

			delete(binStats, tb)
			didClose = true
		}

		if !didClose {
			lastAvgPrice := w.lastAvgPrices[pair]
			stream.UpdateTradePeriod(lastTimeBin, 0, 0, lastAvgPrice, lastAvgPrice, lastAvgPrice)
		}
	}
}

func (w *AnalysisWorker) dropStaleModels(tradePairs map[string]bool) {
	for pair, model := range w.models {
		if !tradePairs[pair] {
			model.Unload()
			delete(w.models, pair)
		}
	}
}

func (w *AnalysisWorker) runModelStep(pairs []string) {
	historyLen := w.cfg.Analysis.TradeHistoryLength

	for _, pair := range pairs {
		stream := w.streamFor(pair)

		model, ok := w.models[pair]
		if !ok {
			model = w.newModel(pair)
			w.models[pair] = model
		}

		var buyProbs, sellProbs prediction.Outcome
		if win, warmed := stream.GetFeaturesWindow(); warmed {
			buyProbs = model.PredictBuy(win)
			sellProbs = model.PredictSell(win)
		} else {
			buyProbs = prediction.Outcome{0.5, 0.5}
			sellProbs = prediction.Outcome{0.5, 0.5}
		}

		// On first observation of a pair, only the history buffer is
		// allocated (filled with the neutral 0.5/0.5 prior); this tick's
		// probs are not pushed until the pair's second tick, matching
		// analysis.py's KeyError-initializes-but-does-not-assign quirk.
		if buyHist, ok := w.buyHistories[pair]; ok {
			buyHist.push(buyProbs)
		} else {
			w.buyHistories[pair] = newProbsHistory(historyLen)
		}

		if sellHist, ok := w.sellHistories[pair]; ok {
			sellHist.push(sellProbs)
		} else {
			w.sellHistories[pair] = newProbsHistory(historyLen)
		}
	}

	now := time.Now().UnixMilli()
	for _, pair := range pairs {
		buyJoint := w.buyHistories[pair].joint()
		if float64(buyJoint[1]) >= w.cfg.Analysis.BuyThreshold {
			w.state.ExecutorQueue.Push(types.TradeSignal{Pair: pair, Side: types.SideBuy, Timestamp: now, Prob: buyJoint[1]})
		}

		sellJoint := w.sellHistories[pair].joint()
		if float64(sellJoint[1]) >= w.cfg.Analysis.SellThreshold {
			w.state.ExecutorQueue.Push(types.TradeSignal{Pair: pair, Side: types.SideSell, Timestamp: now, Prob: sellJoint[1]})
		}
	}
}

func sumFloat64(vals []float64) float64 {
	var s float64
	for _, v := range vals {
		s += v
	}
	return s
}

func weightedAvg(prices, weights []float64, totalWeight float64) float64 {
	if totalWeight == 0 {
		return 0
	}
	var s float64
	for i, p := range prices {
		s += p * weights[i]
	}
	return s / totalWeight
}

func minFloat64(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	m := vals[0]
	for _, v := range vals[1:] {
		if v < m {
			m = v
		}
	}
	return m
}

func maxFloat64(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	m := vals[0]
	for _, v := range vals[1:] {
		if v > m {
			m = v
		}
	}
	return m
}
