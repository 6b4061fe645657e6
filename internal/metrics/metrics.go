// Package metrics publishes engine counters and gauges for Prometheus.
package metrics

import (
	"net/http"

	"edgex-grid-bot-go/internal/logger"
	"edgex-grid-bot-go/internal/models"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ticksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gridbot_ticks_total",
		Help: "Completed engine ticks.",
	})
	fillsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gridbot_fills_total",
		Help: "Detected grid order fills by side.",
	}, []string{"side"})
	ordersPlaced = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gridbot_orders_placed_total",
		Help: "Grid orders successfully placed by side.",
	}, []string{"side"})
	ordersCancelled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gridbot_orders_cancelled_total",
		Help: "Grid orders cancelled.",
	})
	placementRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gridbot_placement_rejections_total",
		Help: "Grid orders the exchange refused.",
	})
	quoteFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gridbot_quote_failures_total",
		Help: "Order book refreshes that ended without a usable quote.",
	})
	stopLossTriggers = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gridbot_stop_loss_triggers_total",
		Help: "Times the stop-loss predicate fired.",
	})

	positionSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gridbot_position_size",
		Help: "Current signed position size.",
	})
	unrealizedPnl = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gridbot_unrealized_pnl",
		Help: "Unrealized PnL at the current mid price.",
	})
	realizedPnl = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gridbot_realized_pnl",
		Help: "Realized PnL accumulated by completed round trips.",
	})
	openLevels = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gridbot_open_levels",
		Help: "Grid levels with a live order.",
	})
	centerPrice = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gridbot_center_price",
		Help: "Center price of the current ladder tick.",
	})
	lifecycleState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "gridbot_lifecycle_state",
		Help: "1 for the active lifecycle state, 0 for the others.",
	}, []string{"state"})
)

var lifecycleStates = []string{
	models.StateInitializing,
	models.StateGridActive,
	models.StateLiquidating,
	models.StateStopped,
}

// RecordTick publishes the end-of-tick snapshot.
func RecordTick(snap models.Snapshot) {
	ticksTotal.Inc()
	positionSize.Set(snap.PositionSize)
	unrealizedPnl.Set(snap.UnrealizedPnl)
	realizedPnl.Set(snap.RealizedPnl)
	openLevels.Set(float64(snap.OpenLevels))
	centerPrice.Set(snap.CenterPrice)
	SetLifecycle(snap.Lifecycle)
}

func RecordFill(side models.Side) {
	fillsTotal.WithLabelValues(string(side)).Inc()
}

func RecordPlacement(side models.Side) {
	ordersPlaced.WithLabelValues(string(side)).Inc()
}

func RecordCancel() {
	ordersCancelled.Inc()
}

func RecordPlacementRejection() {
	placementRejections.Inc()
}

func RecordQuoteFailure() {
	quoteFailures.Inc()
}

func RecordStopLoss() {
	stopLossTriggers.Inc()
}

// SetLifecycle marks exactly one lifecycle state as active.
func SetLifecycle(state string) {
	for _, s := range lifecycleStates {
		v := 0.0
		if s == state {
			v = 1
		}
		lifecycleState.WithLabelValues(s).Set(v)
	}
}

// Serve exposes /metrics on addr in a background goroutine.
func Serve(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.S().Errorw("Metrics server stopped", "addr", addr, "error", err)
		}
	}()
	logger.S().Infow("Metrics server listening", "addr", addr)
}
