package binance

import (
	"errors"
	"testing"

	"github.com/adshao/go-binance/v2/common"

	"strategy-engine/pkg/exchange"
	"strategy-engine/pkg/logger"
)

func TestOrderErrClassification(t *testing.T) {
	venueRefusal := &common.APIError{Code: -2019, Message: "Margin is insufficient."}
	if err := orderErr(venueRefusal); !errors.Is(err, exchange.ErrOrderRejected) {
		t.Errorf("API error should map to rejection, got %v", err)
	}

	network := errors.New("read tcp: connection reset by peer")
	if err := orderErr(network); !errors.Is(err, exchange.ErrOrderTimeout) {
		t.Errorf("network error should map to timeout, got %v", err)
	}
}

func TestIsDuplicate(t *testing.T) {
	if !isDuplicate(&common.APIError{Code: -4015}) {
		t.Error("code -4015 is the duplicate client order id")
	}
	if isDuplicate(&common.APIError{Code: -1021}) {
		t.Error("other API codes are not duplicates")
	}
	if isDuplicate(errors.New("plain")) {
		t.Error("non-API errors are not duplicates")
	}
}

func TestFormatQty(t *testing.T) {
	cases := []struct {
		qty, step float64
		want      string
	}{
		{0.5, 0.001, "0.500"},
		{0.3333, 0.0001, "0.3333"},
		{12, 1, "12"},
		{1.23456789, 0, "1"},
	}
	for _, tc := range cases {
		if got := formatQty(tc.qty, tc.step); got != tc.want {
			t.Errorf("formatQty(%v, %v) = %q, want %q", tc.qty, tc.step, got, tc.want)
		}
	}
}

func TestKlineWeightTiers(t *testing.T) {
	cases := []struct {
		limit, want int
	}{
		{50, 1}, {99, 1}, {100, 2}, {499, 2}, {500, 5}, {1000, 5}, {1500, 10},
	}
	for _, tc := range cases {
		if got := klineWeight(tc.limit); got != tc.want {
			t.Errorf("klineWeight(%d) = %d, want %d", tc.limit, got, tc.want)
		}
	}
}

func TestStreamDispatch(t *testing.T) {
	var tickPrice float64
	var closed []exchange.Candle
	s := NewStream("ETHUSDT", "1m", false,
		func(p float64) { tickPrice = p },
		func(c exchange.Candle) { closed = append(closed, c) },
		logger.Nop())

	inProgress := []byte(`{"e":"kline","s":"ETHUSDT","k":{"t":1700000000000,"T":1700000059999,"o":"2000","h":"2010","l":"1995","c":"2005.5","v":"120.4","x":false}}`)
	s.dispatch(inProgress)
	if tickPrice != 2005.5 {
		t.Errorf("tick price = %v, want 2005.5", tickPrice)
	}
	if len(closed) != 0 {
		t.Errorf("in-progress kline must not close a candle")
	}

	final := []byte(`{"e":"kline","s":"ETHUSDT","k":{"t":1700000000000,"T":1700000059999,"o":"2000","h":"2010","l":"1995","c":"2008","v":"150","x":true}}`)
	s.dispatch(final)
	if len(closed) != 1 {
		t.Fatalf("expected one closed candle, got %d", len(closed))
	}
	if closed[0].Close != 2008 || closed[0].High != 2010 || closed[0].Volume != 150 {
		t.Errorf("candle %+v", closed[0])
	}

	// Garbage and non-kline events are ignored.
	s.dispatch([]byte(`{"e":"aggTrade"}`))
	s.dispatch([]byte(`not json`))
	if len(closed) != 1 {
		t.Errorf("unexpected extra candles: %d", len(closed))
	}
}
