// Package prediction defines the pluggable interface the Analysis Worker
// calls once a pair's feature window has warmed up, plus the stub
// implementation shipped with this pipeline. Ported from prediction.py.
package prediction

import "spotflow/internal/buffer"

// Outcome is a two-state probability distribution: index 0 is "hold",
// index 1 is the action (buy or sell) the caller asked about.
type Outcome [2]float32

// Model is a pure function from a pair's feature window to buy/sell
// probabilities. Implementations are swapped in by the pipeline operator;
// this pipeline only ships the no-op stub below (spec.md: "a pure
// function from feature tensors to a 2-way probability vector" is out of
// scope for this core).
type Model interface {
	// PredictBuy returns a [hold, buy] probability distribution for the pair's feature window.
	PredictBuy(win buffer.FeatureWindow) Outcome
	// PredictSell returns a [hold, sell] probability distribution for the pair's feature window.
	PredictSell(win buffer.FeatureWindow) Outcome
	// Unload releases any resources the model holds (e.g. a loaded checkpoint).
	Unload()
}

// StubModel always emits a uniform [0.5, 0.5] distribution, matching the
// source program's placeholder TradePredictionModel.
type StubModel struct {
	Pair string
}

// NewStubModel constructs a StubModel for the given pair.
func NewStubModel(pair string) *StubModel {
	return &StubModel{Pair: pair}
}

// PredictBuy implements Model.
func (m *StubModel) PredictBuy(buffer.FeatureWindow) Outcome {
	return Outcome{0.5, 0.5}
}

// PredictSell implements Model.
func (m *StubModel) PredictSell(buffer.FeatureWindow) Outcome {
	return Outcome{0.5, 0.5}
}

// Unload implements Model. No-op for the stub.
func (m *StubModel) Unload() {}
