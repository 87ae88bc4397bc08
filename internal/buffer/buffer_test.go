package buffer

import "testing"

func TestGetFeaturesWindowNilUntilWarmedUp(t *testing.T) {
	t.Parallel()
	b := New()

	if _, ok := b.GetFeaturesWindow(); ok {
		t.Fatal("expected no feature window before any periods observed")
	}

	b.UpdateOrderBook(100, make([]float32, NumDepthBins), make([]float32, NumDepthBins), 1, 1)
	for i := 0; i < numBufferPeriods-1; i++ {
		b.UpdateTradePeriod(int64(i), 10, 1, 100, 99, 101)
	}
	if _, ok := b.GetFeaturesWindow(); ok {
		t.Fatal("expected no feature window one period short of warmup")
	}

	b.UpdateTradePeriod(int64(numBufferPeriods), 10, 1, 100, 99, 101)
	win, ok := b.GetFeaturesWindow()
	if !ok {
		t.Fatal("expected feature window once fully warmed")
	}
	if win.Timestamp != int64(numBufferPeriods) {
		t.Errorf("Timestamp = %d, want %d", win.Timestamp, numBufferPeriods)
	}
}

func TestGetFeaturesWindowRequiresOrderBookObservation(t *testing.T) {
	t.Parallel()
	b := New()

	for i := 0; i < numBufferPeriods+5; i++ {
		b.UpdateTradePeriod(int64(i), 10, 1, 100, 99, 101)
	}
	if _, ok := b.GetFeaturesWindow(); ok {
		t.Fatal("expected no feature window without an order-book observation (I2)")
	}
}

func TestUpdateOrderBookShiftsWindow(t *testing.T) {
	t.Parallel()
	b := New()

	first := make([]float32, NumDepthBins)
	first[0] = 1
	second := make([]float32, NumDepthBins)
	second[0] = 2

	b.UpdateOrderBook(1, first, first, 0, 0)
	b.UpdateOrderBook(2, second, second, 0, 0)

	if b.bidWindow[NumDepthBins-1][0] != 2 {
		t.Errorf("latest row = %v, want 2 at column 0", b.bidWindow[NumDepthBins-1])
	}
	if b.bidWindow[NumDepthBins-2][0] != 1 {
		t.Errorf("second-to-last row = %v, want 1 at column 0", b.bidWindow[NumDepthBins-2])
	}
}

func TestUpdateTradePeriodComputesRSIWithinBounds(t *testing.T) {
	t.Parallel()
	b := New()
	b.UpdateOrderBook(1, make([]float32, NumDepthBins), make([]float32, NumDepthBins), 0, 0)

	prices := []float64{100, 101, 102, 101, 103, 104, 103, 105}
	for i, p := range prices {
		b.UpdateTradePeriod(int64(i), 5, 1, p, p-1, p+1)
	}

	row := b.featsWindow[len(b.featsWindow)-1]
	rsiShort := row[7]
	if rsiShort < 0 || rsiShort > 100 {
		t.Errorf("rsi_short = %v, want within [0, 100]", rsiShort)
	}
}

func TestFeatLabelsMatchSchemaOrder(t *testing.T) {
	t.Parallel()
	labels := FeatLabels()
	if len(labels) != NumFeats {
		t.Fatalf("got %d labels, want %d", len(labels), NumFeats)
	}
	if labels[0] != "price" || labels[len(labels)-1] != "macd_med_long" {
		t.Errorf("unexpected label ordering: %v", labels)
	}
}
