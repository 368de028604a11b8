package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"

	"strategy-engine/pkg/exchange"
	"strategy-engine/pkg/logger"
)

const (
	streamBase        = "wss://fstream.binance.com/ws"
	streamBaseTestnet = "wss://stream.binancefuture.com/ws"

	readTimeout = 90 * time.Second
)

// TickHandler receives every in-progress kline update.
type TickHandler func(price float64)

// CloseHandler receives each candle once, when the venue marks it final.
type CloseHandler func(c exchange.Candle)

// Stream watches one symbol's kline channel and survives disconnects with
// exponential backoff. Handlers run on the stream goroutine; keep them
// short.
type Stream struct {
	url     string
	log     *logger.Logger
	onTick  TickHandler
	onClose CloseHandler
}

func NewStream(symbol, timeframe string, testnet bool, onTick TickHandler, onClose CloseHandler, log *logger.Logger) *Stream {
	base := streamBase
	if testnet {
		base = streamBaseTestnet
	}
	return &Stream{
		url:     fmt.Sprintf("%s/%s@kline_%s", base, strings.ToLower(symbol), timeframe),
		log:     log.With("stream"),
		onTick:  onTick,
		onClose: onClose,
	}
}

// Run connects and reads until ctx is canceled. Each drop reconnects after
// a growing delay; a healthy connection resets the delay.
func (s *Stream) Run(ctx context.Context) {
	boff := &backoff.Backoff{
		Min:    time.Second,
		Max:    time.Minute,
		Factor: 2,
		Jitter: true,
	}
	for {
		if ctx.Err() != nil {
			return
		}
		connectedAt := time.Now()
		if err := s.readLoop(ctx); err != nil && ctx.Err() == nil {
			s.log.Warn("stream dropped", logger.Err(err))
		}
		if ctx.Err() != nil {
			return
		}
		if time.Since(connectedAt) > time.Minute {
			boff.Reset()
		}
		delay := boff.Duration()
		s.log.Info("stream reconnecting", logger.Duration("delay", delay))
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

func (s *Stream) readLoop(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", s.url, err)
	}
	defer conn.Close()

	// The venue pings every few minutes; missing two is a dead link.
	conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPingHandler(func(payload string) error {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		return conn.WriteControl(websocket.PongMessage, []byte(payload), time.Now().Add(5*time.Second))
	})

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	s.log.Info("stream connected", logger.String("url", s.url))
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		s.dispatch(msg)
	}
}

type klineEvent struct {
	Event string `json:"e"`
	Kline struct {
		OpenTime  int64  `json:"t"`
		CloseTime int64  `json:"T"`
		Open      string `json:"o"`
		High      string `json:"h"`
		Low       string `json:"l"`
		Close     string `json:"c"`
		Volume    string `json:"v"`
		Final     bool   `json:"x"`
	} `json:"k"`
}

func (s *Stream) dispatch(msg []byte) {
	var ev klineEvent
	if err := json.Unmarshal(msg, &ev); err != nil || ev.Event != "kline" {
		return
	}
	price, err := strconv.ParseFloat(ev.Kline.Close, 64)
	if err != nil || price <= 0 {
		return
	}
	if s.onTick != nil {
		s.onTick(price)
	}
	if ev.Kline.Final && s.onClose != nil {
		s.onClose(exchange.Candle{
			OpenTime:  ev.Kline.OpenTime,
			Open:      parseF(ev.Kline.Open),
			High:      parseF(ev.Kline.High),
			Low:       parseF(ev.Kline.Low),
			Close:     price,
			Volume:    parseF(ev.Kline.Volume),
			CloseTime: ev.Kline.CloseTime,
		})
	}
}
