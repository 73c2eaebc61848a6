package alerts

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"flightguard/internal/config"
	"flightguard/internal/model"
	"flightguard/internal/notify"
	"flightguard/internal/retry"
)

type route struct {
	ch          notify.Channel
	limiter     *rate.Limiter
	minSeverity model.Severity
}

// Router classifies batch results, suppresses repeats, rate-limits each
// channel and fans deliveries out concurrently.
type Router struct {
	cfg        atomic.Value
	routes     []route
	suppressor *Suppressor
	history    *Store
	logger     *slog.Logger

	mu          sync.Mutex
	rateLimited map[string]int
	suppressed  int
}

// NewRouter pairs channels with their configuration by name. Channels
// without a matching entry get the default rate and no severity floor.
func NewRouter(cfg config.AlertsConfig, channels []notify.Channel, history *Store, logger *slog.Logger) *Router {
	byName := make(map[string]config.ChannelConfig, len(cfg.Channels))
	for _, c := range cfg.Channels {
		byName[c.Name] = c
	}
	r := &Router{
		suppressor:  NewSuppressor(),
		history:     history,
		logger:      logger,
		rateLimited: make(map[string]int),
	}
	for _, ch := range channels {
		cc, ok := byName[ch.Name()]
		if !ok || cc.RatePerMinute <= 0 {
			cc.RatePerMinute = 60
		}
		r.routes = append(r.routes, route{
			ch:          ch,
			limiter:     rate.NewLimiter(rate.Limit(float64(cc.RatePerMinute)/60.0), max(1, cc.RatePerMinute/10)),
			minSeverity: model.Severity(cc.MinSeverity),
		})
	}
	r.cfg.Store(cfg)
	return r
}

// SetConfig swaps thresholds, window and retry policy. Channels and their
// limiters are fixed at construction.
func (r *Router) SetConfig(cfg config.AlertsConfig) {
	r.cfg.Store(cfg)
}

func (r *Router) config() config.AlertsConfig {
	return r.cfg.Load().(config.AlertsConfig)
}

// Route turns a report into alert events. Every candidate is returned;
// repeats inside the suppression window carry Suppressed and no deliveries.
func (r *Router) Route(ctx context.Context, report model.BatchReport, baseline model.Baseline, now time.Time) []model.AlertEvent {
	cfg := r.config()
	var out []model.AlertEvent
	for _, exp := range r.suppressor.Expire(now, cfg.SuppressionWindow) {
		out = append(out, r.dispatch(ctx, cfg, rollup(exp, report.BatchID, now), now, nil))
	}
	for _, ev := range Classify(cfg, report, baseline, now) {
		out = append(out, r.send(ctx, cfg, ev, now, nil))
	}

	failed := make(map[string]bool)
	for _, ev := range out {
		for _, d := range ev.Deliveries {
			if d.Status == model.DeliveryFailed {
				failed[d.Channel] = true
			}
		}
	}
	if len(failed) > 0 {
		names := make([]string, 0, len(failed))
		for _, rt := range r.routes {
			if failed[rt.ch.Name()] {
				names = append(names, rt.ch.Name())
			}
		}
		ev := newEvent(CategoryDeliveryFailure, model.SeverityCritical, report.BatchID, now, float64(len(names)), 0,
			fmt.Sprintf("alert delivery exhausted retries on: %s", strings.Join(names, ", ")))
		out = append(out, r.send(ctx, cfg, ev, now, failed))
	}
	if r.history != nil {
		r.history.Add(out...)
	}
	return out
}

func rollup(exp Expired, batchID string, now time.Time) model.AlertEvent {
	category, sev, _ := strings.Cut(exp.Key, "|")
	ev := newEvent(category, model.Severity(sev), batchID, now, float64(exp.Suppressed), 0,
		fmt.Sprintf("%d repeated %s alerts suppressed since %s", exp.Suppressed, category, exp.Opened.UTC().Format(time.RFC3339)))
	ev.Rollup = true
	ev.SuppressedCount = exp.Suppressed
	ev.DedupeKey = exp.Key + "|rollup"
	return ev
}

// send applies suppression before dispatching.
func (r *Router) send(ctx context.Context, cfg config.AlertsConfig, ev model.AlertEvent, now time.Time, skip map[string]bool) model.AlertEvent {
	if !r.suppressor.Allow(ev.DedupeKey, now, cfg.SuppressionWindow) {
		ev.Suppressed = true
		r.mu.Lock()
		r.suppressed++
		r.mu.Unlock()
		if r.logger != nil {
			r.logger.Debug("alert suppressed", "category", ev.Category, "severity", ev.Severity, "batch_id", ev.BatchID)
		}
		return ev
	}
	return r.dispatch(ctx, cfg, ev, now, skip)
}

// dispatch fans ev out to every eligible channel. Limiter decisions are made
// up front in channel order; deliveries then run concurrently and results
// keep channel order.
func (r *Router) dispatch(ctx context.Context, cfg config.AlertsConfig, ev model.AlertEvent, now time.Time, skip map[string]bool) model.AlertEvent {
	results := make([]*model.DeliveryResult, len(r.routes))
	var todo []int
	for i, rt := range r.routes {
		name := rt.ch.Name()
		if skip[name] || ev.Severity.Rank() < rt.minSeverity.Rank() {
			continue
		}
		if !rt.limiter.AllowN(now, 1) {
			results[i] = &model.DeliveryResult{Channel: name, Status: model.DeliveryRateLimited}
			r.mu.Lock()
			r.rateLimited[name]++
			r.mu.Unlock()
			if r.logger != nil {
				r.logger.Warn("alert dropped by rate limit", "channel", name, "category", ev.Category)
			}
			continue
		}
		todo = append(todo, i)
	}

	policy := retry.FromConfig(cfg.Retry)
	var g errgroup.Group
	for _, i := range todo {
		i := i
		rt := r.routes[i]
		g.Go(func() error {
			attempts, err := retry.Do(ctx, policy, func(actx context.Context) error {
				return rt.ch.Deliver(actx, ev)
			})
			res := &model.DeliveryResult{Channel: rt.ch.Name(), Status: model.DeliveryDelivered, Attempts: attempts}
			if err != nil {
				derr := &model.DeliveryError{Channel: rt.ch.Name(), Attempts: attempts, Err: err}
				res.Status = model.DeliveryFailed
				res.Error = derr.Error()
				if r.logger != nil {
					r.logger.Error("alert delivery failed", "channel", rt.ch.Name(), "category", ev.Category, "attempts", attempts, "error", err)
				}
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()

	ev.Deliveries = nil
	for _, res := range results {
		if res != nil {
			ev.Deliveries = append(ev.Deliveries, *res)
		}
	}
	return ev
}

// Stats reports rate-limited drops per channel and the suppressed total
// since the router started.
func (r *Router) Stats() (map[string]int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]int, len(r.rateLimited))
	for k, v := range r.rateLimited {
		out[k] = v
	}
	return out, r.suppressed
}

// Reset clears suppression windows.
func (r *Router) Reset() {
	r.suppressor.Reset()
}

func (r *Router) Close() {
	for _, rt := range r.routes {
		_ = rt.ch.Close()
	}
}
