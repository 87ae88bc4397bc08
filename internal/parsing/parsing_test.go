package parsing

import (
	"math"
	"testing"

	"spotflow/internal/exchange"
	"spotflow/pkg/types"
)

func TestParseExchangePairInfosSkipsNonTradingAndRequiresFilters(t *testing.T) {
	t.Parallel()

	symbols := []exchange.ExchangeInfoSymbol{
		{
			Symbol: "BTCUSDT", Status: "TRADING", BaseAsset: "BTC", QuoteAsset: "USDT",
			BaseAssetPrecision: 8, QuotePrecision: 8,
			Filters: []exchange.SymbolFilter{
				{FilterType: "PRICE_FILTER", MinPrice: "0.01", MaxPrice: "1000000.00", TickSize: "0.01"},
				{FilterType: "LOT_SIZE", MinQty: "0.00001", MaxQty: "9000.00", StepSize: "0.00001"},
				{FilterType: "MIN_NOTIONAL", MinNotional: "10.00"},
			},
		},
		{Symbol: "ETHBUSD", Status: "BREAK", BaseAsset: "ETH", QuoteAsset: "BUSD"},
	}

	infos, err := ParseExchangePairInfos(symbols)
	if err != nil {
		t.Fatalf("ParseExchangePairInfos: %v", err)
	}
	if len(infos) != 1 {
		t.Fatalf("got %d pair infos, want 1 (non-TRADING symbol skipped): %+v", len(infos), infos)
	}

	btc, ok := infos["btcusdt"]
	if !ok {
		t.Fatal("missing btcusdt pair info")
	}
	if btc.BaseSymbol != "btc" || btc.QuoteSymbol != "usdt" {
		t.Errorf("unexpected base/quote: %+v", btc)
	}
	if btc.MinBaseQty != 1000 { // 0.00001 @ precision 8
		t.Errorf("MinBaseQty = %d, want 1000", btc.MinBaseQty)
	}
}

func TestParseExchangePairInfosMissingFilterErrors(t *testing.T) {
	t.Parallel()
	symbols := []exchange.ExchangeInfoSymbol{
		{Symbol: "BTCUSDT", Status: "TRADING", BaseAsset: "BTC", QuoteAsset: "USDT", BaseAssetPrecision: 8, QuotePrecision: 8},
	}
	if _, err := ParseExchangePairInfos(symbols); err == nil {
		t.Fatal("expected error for symbol missing required filters")
	}
}

func TestParseDepthStateMatchesScenario4Shape(t *testing.T) {
	t.Parallel()
	depth := types.ReconciledDepth{
		ServerTimestamp: 5000,
		Bids:            map[string]float64{"10": 5, "11": 0},
		Asks:            map[string]float64{"12": 3},
	}

	bins := ParseDepthState(16, depth)
	if bins.ServerTimestamp != 5000 {
		t.Errorf("ServerTimestamp = %d, want 5000", bins.ServerTimestamp)
	}
	if len(bins.Bids) != 16 || len(bins.Asks) != 16 {
		t.Fatalf("expected 16-wide histograms, got bids=%d asks=%d", len(bins.Bids), len(bins.Asks))
	}
}

func TestParseDepthStateEmptySideIsZeroed(t *testing.T) {
	t.Parallel()
	depth := types.ReconciledDepth{
		ServerTimestamp: 1,
		Bids:            map[string]float64{},
		Asks:            map[string]float64{},
	}
	bins := ParseDepthState(16, depth)
	for i, v := range bins.Bids {
		if v != 0 {
			t.Errorf("Bids[%d] = %v, want 0 for empty side", i, v)
		}
	}
}

func TestDigitizeClampsToLastBin(t *testing.T) {
	t.Parallel()
	edges := []float64{1, 2, 3}
	if got := digitize(0.5, edges); got != 0 {
		t.Errorf("digitize(0.5) = %d, want 0", got)
	}
	if got := digitize(10, edges); got != 3 {
		t.Errorf("digitize(10) = %d, want 3 (beyond last edge)", got)
	}
}

func TestParseTradeBucketsByPeriod(t *testing.T) {
	t.Parallel()
	bins := make(map[int64]*TradeBinStats)

	ParseTrade(1000, types.Trade{TradeTimestamp: 1500, Quantity: 2, Price: 100}, bins)
	ParseTrade(1000, types.Trade{TradeTimestamp: 1900, Quantity: 3, Price: 101}, bins)
	ParseTrade(1000, types.Trade{TradeTimestamp: 2100, Quantity: 1, Price: 102}, bins)

	if len(bins) != 2 {
		t.Fatalf("got %d bins, want 2", len(bins))
	}
	bin1000 := bins[1000]
	if bin1000 == nil || len(bin1000.Quantities) != 2 {
		t.Fatalf("bin 1000 = %+v, want 2 accumulated trades", bin1000)
	}
	bin2000 := bins[2000]
	if bin2000 == nil || len(bin2000.Quantities) != 1 {
		t.Fatalf("bin 2000 = %+v, want 1 accumulated trade", bin2000)
	}
}

func TestParseAccountBalanceInfoRejectsCannotTrade(t *testing.T) {
	t.Parallel()
	_, err := ParseAccountBalanceInfo(exchange.AccountInfo{CanTrade: false}, 8)
	if err == nil {
		t.Fatal("expected error when CanTrade is false")
	}
}

func TestParseAccountBalanceInfoConvertsBalances(t *testing.T) {
	t.Parallel()
	info := exchange.AccountInfo{CanTrade: true}
	info.Balances = append(info.Balances, struct {
		Asset  string `json:"asset"`
		Free   string `json:"free"`
		Locked string `json:"locked"`
	}{Asset: "BTC", Free: "1.5", Locked: "0.5"})

	balances, err := ParseAccountBalanceInfo(info, 8)
	if err != nil {
		t.Fatalf("ParseAccountBalanceInfo: %v", err)
	}
	if balances.Free["btc"] != 150000000 {
		t.Errorf("Free[btc] = %d, want 150000000", balances.Free["btc"])
	}
	if balances.Locked["btc"] != 50000000 {
		t.Errorf("Locked[btc] = %d, want 50000000", balances.Locked["btc"])
	}
}

func TestWeightedMeanStdEmptyIsZero(t *testing.T) {
	t.Parallel()
	mean, std := weightedMeanStd(nil, nil)
	if mean != 0 || std != 0 {
		t.Errorf("weightedMeanStd(nil) = (%v, %v), want (0, 0)", mean, std)
	}
}

func TestWeightedMeanStdUniformWeights(t *testing.T) {
	t.Parallel()
	mean, std := weightedMeanStd([]float64{1, 2, 3}, []float64{1, 1, 1})
	if math.Abs(mean-2) > 1e-6 {
		t.Errorf("mean = %v, want 2", mean)
	}
	wantStd := math.Sqrt(2.0 / 3.0)
	if math.Abs(std-wantStd) > 1e-6 {
		t.Errorf("std = %v, want %v", std, wantStd)
	}
}
