// Package metrics exposes Prometheus metrics for the perps margin engine.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/luxfi/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/luxfi/perps/pkg/perp"
)

// MarketMetrics tracks engine activity and aggregate market state.
// It implements perp.EventSink so it can be fanned events directly.
type MarketMetrics struct {
	namespace string
	registry  *prometheus.Registry
	logger    log.Logger

	// Engine activity
	tradesExecuted    prometheus.Counter
	liquidations      prometheus.Counter
	marginTransfers   prometheus.Counter
	fundingRecomputes prometheus.Counter
	feesCharged       prometheus.Counter

	// Aggregate market state
	marketSkew    prometheus.Gauge
	marketSize    prometheus.Gauge
	marketDebt    prometheus.Gauge
	openPositions prometheus.Gauge
	fundingRate   prometheus.Gauge

	// RPC surface
	rpcLatency   *prometheus.HistogramVec
	opRejections *prometheus.CounterVec
}

// New creates and registers market metrics under the given namespace.
func New(namespace string, logger log.Logger) *MarketMetrics {
	registry := prometheus.NewRegistry()

	m := &MarketMetrics{
		namespace: namespace,
		registry:  registry,
		logger:    logger,

		tradesExecuted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trades_executed_total",
			Help:      "Total number of position-modifying trades executed",
		}),
		liquidations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "liquidations_total",
			Help:      "Total number of positions force-closed",
		}),
		marginTransfers: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "margin_transfers_total",
			Help:      "Total number of margin deposits and withdrawals",
		}),
		fundingRecomputes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "funding_recomputes_total",
			Help:      "Total number of funding sequence entries appended",
		}),
		feesCharged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fees_charged_total",
			Help:      "Total order and liquidation fees charged, in quote units",
		}),

		marketSkew: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "market_skew",
			Help:      "Signed sum of all open position sizes",
		}),
		marketSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "market_size",
			Help:      "Sum of absolute position sizes",
		}),
		marketDebt: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "market_debt",
			Help:      "Aggregate remaining margin of all positions, in quote units",
		}),
		openPositions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "open_positions",
			Help:      "Number of positions with nonzero size",
		}),
		fundingRate: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "funding_rate_daily",
			Help:      "Instantaneous daily funding rate",
		}),

		rpcLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rpc_request_duration_seconds",
			Help:      "JSON-RPC request latency by method",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		opRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "op_rejections_total",
			Help:      "Operations rejected, by engine error",
		}, []string{"reason"}),
	}

	registry.MustRegister(
		m.tradesExecuted,
		m.liquidations,
		m.marginTransfers,
		m.fundingRecomputes,
		m.feesCharged,
		m.marketSkew,
		m.marketSize,
		m.marketDebt,
		m.openPositions,
		m.fundingRate,
		m.rpcLatency,
		m.opRejections,
	)

	return m
}

// ObserveOp records a served RPC call and, for failed calls, counts the
// rejection by reason. Implements pkg/api's OpObserver.
func (m *MarketMetrics) ObserveOp(method string, duration time.Duration, reason string) {
	m.rpcLatency.WithLabelValues(method).Observe(duration.Seconds())
	if reason != "" {
		m.opRejections.WithLabelValues(reason).Inc()
	}
}

// Publish implements perp.EventSink, counting engine events.
func (m *MarketMetrics) Publish(ev perp.Event) {
	switch e := ev.(type) {
	case perp.PositionModified:
		m.tradesExecuted.Inc()
		fee, _ := e.Fee.Float64()
		m.feesCharged.Add(fee)
	case perp.PositionLiquidated:
		m.liquidations.Inc()
		fee, _ := e.Fee.Float64()
		m.feesCharged.Add(fee)
	case perp.MarginTransferred:
		m.marginTransfers.Inc()
	case perp.FundingRecomputed:
		m.fundingRecomputes.Inc()
	}
}

// Handler returns the /metrics HTTP handler for this registry.
func (m *MarketMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// WatchMarket periodically refreshes the aggregate state gauges from the
// market summary until ctx is cancelled.
func (m *MarketMetrics) WatchMarket(ctx context.Context, market *perp.Market, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.observe(market.Summary())
		}
	}
}

func (m *MarketMetrics) observe(s perp.MarketSummary) {
	skew, _ := s.Skew.Float64()
	size, _ := s.Size.Float64()
	debt, _ := s.MarketDebt.Float64()
	rate, _ := s.FundingRate.Float64()

	m.marketSkew.Set(skew)
	m.marketSize.Set(size)
	m.marketDebt.Set(debt)
	m.fundingRate.Set(rate)
	m.openPositions.Set(float64(s.OpenPositions))
}

// StartServer serves /metrics on addr in the background.
func (m *MarketMetrics) StartServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			m.logger.Error("metrics server failed", "error", err)
		}
	}()
	m.logger.Info("metrics server started", "addr", addr)
	return srv
}
