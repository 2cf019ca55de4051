// Package metrics exposes the controller's events as Prometheus series:
//
//	charliebot_events_total{kind}          events seen by kind
//	charliebot_orders_total{side,action}   placed/cancelled orders per side
//	charliebot_position_contracts          current position size
//	charliebot_entry_price                 quantized entry of the open position
//	charliebot_liquidation_price           last computed liquidation price
//	charliebot_state{state}                1 for the current cycle state, 0 otherwise
//	charliebot_cycles_total                cycles that reached flat
package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alejandrodnm/charliebot/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var states = []domain.CycleState{domain.StateSeekingEntry, domain.StatePositionOpen, domain.StateFlat}

// Reporter implementa ports.Reporter actualizando las series.
type Reporter struct {
	registry *prometheus.Registry

	events   *prometheus.CounterVec
	orders   *prometheus.CounterVec
	position prometheus.Gauge
	entry    prometheus.Gauge
	liq      prometheus.Gauge
	state    *prometheus.GaugeVec
	cycles   prometheus.Counter
}

// NewReporter registra las series en un registry propio.
func NewReporter() *Reporter {
	r := &Reporter{
		registry: prometheus.NewRegistry(),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "charliebot_events_total",
			Help: "Controller events by kind",
		}, []string{"kind"}),
		orders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "charliebot_orders_total",
			Help: "Orders placed or cancelled, by side",
		}, []string{"side", "action"}),
		position: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "charliebot_position_contracts",
			Help: "Open position size in contracts",
		}),
		entry: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "charliebot_entry_price",
			Help: "Quantized entry price of the open position",
		}),
		liq: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "charliebot_liquidation_price",
			Help: "Last computed liquidation price",
		}),
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "charliebot_state",
			Help: "Current cycle state (1 for the active state)",
		}, []string{"state"}),
		cycles: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "charliebot_cycles_total",
			Help: "Cycles that reached flat",
		}),
	}
	r.registry.MustRegister(r.events, r.orders, r.position, r.entry, r.liq, r.state, r.cycles)
	return r
}

// Registry permite servir o inspeccionar las series.
func (r *Reporter) Registry() *prometheus.Registry { return r.registry }

func (r *Reporter) Report(_ context.Context, ev domain.Event) {
	r.events.WithLabelValues(string(ev.Kind)).Inc()

	if ev.State != "" {
		for _, s := range states {
			v := 0.0
			if s == ev.State {
				v = 1
			}
			r.state.WithLabelValues(string(s)).Set(v)
		}
	}

	switch ev.Kind {
	case domain.EventOrderPlaced, domain.EventEntryPlaced, domain.EventEntryChased:
		r.orders.WithLabelValues(string(ev.Side), "placed").Inc()
	case domain.EventOrderCancelled:
		r.orders.WithLabelValues(string(ev.Side), "cancelled").Inc()
	case domain.EventCycleFlat:
		r.cycles.Inc()
		r.position.Set(0)
		r.entry.Set(0)
		r.liq.Set(0)
	}

	if p := ev.Position; p != nil {
		r.position.Set(float64(p.Quantity))
		r.entry.Set(p.EntryPrice)
	}
	if ev.LiqPrice > 0 {
		r.liq.Set(ev.LiqPrice)
	}
}

// Handler devuelve el handler de exposición para este registry.
func (r *Reporter) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Serve expone /metrics en addr hasta que ctx se cancele.
func (r *Reporter) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", r.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("metrics: serving", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("metrics.Serve: shutdown: %w", err)
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics.Serve: %w", err)
	}
}
