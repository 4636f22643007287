package service

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/dake/internal/domain"
)

// Notifier delivers operator notifications for an event type.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Effects are the post-commit side effects of an operation. Every field is
// optional, and a failing side effect is logged without failing the
// operation that already committed.
type Effects struct {
	Bus      domain.SignalBus
	Audit    domain.AuditStore
	Cache    domain.MarketCache
	Notifier Notifier
}

type emitter struct {
	fx     Effects
	logger *slog.Logger
}

// emit publishes ev on channel, appends it to the audit log and, when title
// is set, notifies operators.
func (e emitter) emit(ctx context.Context, channel string, ev domain.Event, detail map[string]any, title, message string) {
	if e.fx.Bus != nil {
		payload, err := json.Marshal(ev)
		if err == nil {
			err = e.fx.Bus.Publish(ctx, channel, payload)
		}
		if err != nil {
			e.logger.WarnContext(ctx, "signal publish failed",
				slog.String("event", ev.Type),
				slog.String("error", err.Error()),
			)
		}
	}

	if e.fx.Audit != nil {
		if detail == nil {
			detail = make(map[string]any, 2)
		}
		detail["market"] = ev.Market.Hex()
		detail["actor"] = ev.Actor.Hex()
		if ev.Position != nil {
			detail["position"] = ev.Position.Hex()
		}
		if err := e.fx.Audit.Log(ctx, ev.Type, detail); err != nil {
			e.logger.WarnContext(ctx, "audit log failed",
				slog.String("event", ev.Type),
				slog.String("error", err.Error()),
			)
		}
	}

	if e.fx.Notifier != nil && title != "" {
		if err := e.fx.Notifier.Notify(ctx, ev.Type, title, message); err != nil {
			e.logger.WarnContext(ctx, "notify failed",
				slog.String("event", ev.Type),
				slog.String("error", err.Error()),
			)
		}
	}
}

// invalidate drops a market snapshot from the read cache.
func (e emitter) invalidate(ctx context.Context, market common.Address) {
	if e.fx.Cache == nil {
		return
	}
	if err := e.fx.Cache.Invalidate(ctx, market); err != nil {
		e.logger.WarnContext(ctx, "cache invalidate failed",
			slog.String("market", market.Hex()),
			slog.String("error", err.Error()),
		)
	}
}
