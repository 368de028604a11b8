package notify

import (
	"context"
	"fmt"
	"time"

	"strategy-engine/internal/events"
	"strategy-engine/pkg/logger"
)

// Bridge forwards notable bus events to every configured sink. Signals and
// routine position churn stay off the wire; operators get fills, realized
// trades, risk actions, health changes, and halts.
type Bridge struct {
	bus   *events.Bus
	sinks []Sink
	log   *logger.Logger
}

func NewBridge(bus *events.Bus, log *logger.Logger, sinks ...Sink) *Bridge {
	return &Bridge{bus: bus, sinks: sinks, log: log.With("notify")}
}

// Run consumes bus topics until ctx is canceled.
func (b *Bridge) Run(ctx context.Context) {
	filled, unsubFill := b.bus.Subscribe(events.TopicOrderFilled, 32)
	defer unsubFill()
	rejected, unsubRej := b.bus.Subscribe(events.TopicOrderRejected, 32)
	defer unsubRej()
	trades, unsubTrade := b.bus.Subscribe(events.TopicTradeClosed, 32)
	defer unsubTrade()
	risks, unsubRisk := b.bus.Subscribe(events.TopicRiskAlert, 32)
	defer unsubRisk()
	health, unsubHealth := b.bus.Subscribe(events.TopicHealthChange, 32)
	defer unsubHealth()
	halts, unsubHalt := b.bus.Subscribe(events.TopicEngineHalt, 8)
	defer unsubHalt()

	for {
		var msg Message
		select {
		case <-ctx.Done():
			return
		case ev := <-filled:
			msg = formatOrder(ev, "Order filled")
		case ev := <-rejected:
			msg = formatOrder(ev, "Order failed")
		case ev := <-trades:
			msg = formatTrade(ev)
		case ev := <-risks:
			msg = formatRisk(ev)
		case ev := <-health:
			msg = formatHealth(ev)
		case ev := <-halts:
			msg = formatHalt(ev)
		}
		if msg.Title == "" {
			continue
		}
		b.deliver(ctx, msg)
	}
}

func (b *Bridge) deliver(ctx context.Context, msg Message) {
	for _, sink := range b.sinks {
		if err := sink.Send(ctx, msg); err != nil {
			b.log.Warn("notification delivery failed",
				logger.String("sink", sink.Name()),
				logger.Err(err))
		}
	}
}

func formatOrder(raw any, title string) Message {
	ev, ok := raw.(events.OrderEvent)
	if !ok {
		return Message{}
	}
	body := fmt.Sprintf("%s %s %s qty %.6f", ev.Action, ev.Side, ev.Symbol, ev.Qty)
	if ev.FillPrice > 0 {
		body += fmt.Sprintf(" @ %.2f", ev.FillPrice)
	}
	if ev.Err != "" {
		body += "\n" + ev.Err
	}
	return Message{Title: title, Body: body, At: time.Now()}
}

func formatTrade(raw any) Message {
	ev, ok := raw.(events.TradeEvent)
	if !ok {
		return Message{}
	}
	outcome := "profit"
	if ev.PnL < 0 {
		outcome = "loss"
	}
	return Message{
		Title: fmt.Sprintf("Trade closed: %s %+.2f", outcome, ev.PnL),
		Body: fmt.Sprintf("%s %s qty %.6f, entry %.2f exit %.2f\n%s",
			ev.Side, ev.Symbol, ev.Qty, ev.Entry, ev.Exit, ev.Reason),
		At: ev.ClosedAt,
	}
}

func formatRisk(raw any) Message {
	ev, ok := raw.(events.RiskEvent)
	if !ok {
		return Message{}
	}
	title := "Risk alert"
	switch ev.Kind {
	case "breach":
		title = "Daily loss limit breached"
	case "cooldown":
		title = "Loss cooldown started"
	case "resume":
		title = "Trading resumed"
	}
	body := ev.Detail
	if ev.DailyPnL != 0 {
		body += fmt.Sprintf("\nDaily PnL: %+.2f", ev.DailyPnL)
	}
	return Message{Title: title, Body: body, At: time.Now()}
}

func formatHealth(raw any) Message {
	ev, ok := raw.(events.HealthEvent)
	if !ok {
		return Message{}
	}
	return Message{
		Title: fmt.Sprintf("Health: %s -> %s", ev.From, ev.To),
		Body:  ev.Detail,
		At:    ev.At,
	}
}

func formatHalt(raw any) Message {
	ev, ok := raw.(events.HaltEvent)
	if !ok {
		return Message{}
	}
	return Message{
		Title: "TRADING HALTED",
		Body:  ev.Reason,
		At:    ev.At,
	}
}
