// Command perpd serves a single perpetual futures margin market over
// JSON-RPC, with a WebSocket event stream, Prometheus metrics and
// optional NATS event publishing.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/luxfi/log"
	"github.com/nats-io/nats.go"
	"github.com/shopspring/decimal"

	"github.com/luxfi/perps/pkg/api"
	"github.com/luxfi/perps/pkg/events"
	"github.com/luxfi/perps/pkg/metrics"
	"github.com/luxfi/perps/pkg/perp"
)

type config struct {
	ListenAddr  string
	MetricsAddr string
	MarketKey   string
	NATSURL     string

	PriceMaxAge     time.Duration
	InitialPrice    string
	CompactInterval time.Duration

	BaseFee                string
	MaxLeverage            string
	MaxSingleSideValueUSD  string
	MaxFundingRate         string
	SkewScaleUSD           string
	MinKeeperFee           string
	LiquidationFeeRatio    string
	LiquidationBufferRatio string
	MinInitialMargin       string
}

func parseFlags() *config {
	cfg := &config{}
	defaults := perp.DefaultParameters()

	flag.StringVar(&cfg.ListenAddr, "listen", ":8080", "JSON-RPC listen address")
	flag.StringVar(&cfg.MetricsAddr, "metrics", ":9090", "Prometheus metrics address (empty disables)")
	flag.StringVar(&cfg.MarketKey, "market", "BTC-PERP", "market key")
	flag.StringVar(&cfg.NATSURL, "nats", "", "NATS server URL (empty disables event publishing)")
	flag.DurationVar(&cfg.PriceMaxAge, "price-max-age", time.Minute, "oracle price staleness horizon")
	flag.StringVar(&cfg.InitialPrice, "price", "", "initial oracle price (empty starts with an invalid price)")
	flag.DurationVar(&cfg.CompactInterval, "compact-interval", time.Hour, "funding sequence compaction interval")

	flag.StringVar(&cfg.BaseFee, "base-fee", defaults.BaseFee.String(), "base taker fee rate")
	flag.StringVar(&cfg.MaxLeverage, "max-leverage", defaults.MaxLeverage.String(), "max position leverage")
	flag.StringVar(&cfg.MaxSingleSideValueUSD, "max-side-value", defaults.MaxSingleSideValueUSD.String(), "per-side market value cap in USD")
	flag.StringVar(&cfg.MaxFundingRate, "max-funding-rate", defaults.MaxFundingRate.String(), "max daily funding rate")
	flag.StringVar(&cfg.SkewScaleUSD, "skew-scale", defaults.SkewScaleUSD.String(), "skew notional that saturates funding, in USD")
	flag.StringVar(&cfg.MinKeeperFee, "min-keeper-fee", defaults.MinKeeperFee.String(), "minimum liquidation keeper fee")
	flag.StringVar(&cfg.LiquidationFeeRatio, "liq-fee-ratio", defaults.LiquidationFeeRatio.String(), "liquidation fee ratio")
	flag.StringVar(&cfg.LiquidationBufferRatio, "liq-buffer-ratio", defaults.LiquidationBufferRatio.String(), "liquidation buffer ratio")
	flag.StringVar(&cfg.MinInitialMargin, "min-initial-margin", defaults.MinInitialMargin.String(), "minimum initial margin for a new position")
	flag.Parse()
	return cfg
}

func (c *config) parameters() (perp.Parameters, error) {
	var p perp.Parameters
	var err error
	parse := func(name, s string) decimal.Decimal {
		d, e := decimal.NewFromString(s)
		if e != nil && err == nil {
			err = fmt.Errorf("flag -%s: %w", name, e)
		}
		return d
	}
	p.BaseFee = parse("base-fee", c.BaseFee)
	p.MaxLeverage = parse("max-leverage", c.MaxLeverage)
	p.MaxSingleSideValueUSD = parse("max-side-value", c.MaxSingleSideValueUSD)
	p.MaxFundingRate = parse("max-funding-rate", c.MaxFundingRate)
	p.SkewScaleUSD = parse("skew-scale", c.SkewScaleUSD)
	p.MinKeeperFee = parse("min-keeper-fee", c.MinKeeperFee)
	p.LiquidationFeeRatio = parse("liq-fee-ratio", c.LiquidationFeeRatio)
	p.LiquidationBufferRatio = parse("liq-buffer-ratio", c.LiquidationBufferRatio)
	p.MinInitialMargin = parse("min-initial-margin", c.MinInitialMargin)
	return p, err
}

func main() {
	cfg := parseFlags()
	logger := log.Root().New("module", "perpd")

	params, err := cfg.parameters()
	if err != nil {
		logger.Error("invalid parameters", "error", err)
		os.Exit(1)
	}

	feed := perp.NewManualPriceFeed(cfg.PriceMaxAge)
	if cfg.InitialPrice != "" {
		price, err := decimal.NewFromString(cfg.InitialPrice)
		if err != nil {
			logger.Error("invalid -price", "error", err)
			os.Exit(1)
		}
		feed.SetPrice(price)
	}

	settings := perp.NewStaticSettings(params)
	collateral := perp.NewSimpleCollateralLedger()
	feePool := perp.NewMemoryFeePool()
	gate := perp.NewStaticGate()

	marketMetrics := metrics.New("perps", logger.New("module", "metrics"))
	sinks := perp.MultiSink{marketMetrics}

	var nc *nats.Conn
	if cfg.NATSURL != "" {
		nc, err = nats.Connect(cfg.NATSURL)
		if err != nil {
			logger.Error("connect NATS", "url", cfg.NATSURL, "error", err)
			os.Exit(1)
		}
		defer nc.Close()
		sinks = append(sinks, events.NewNATSPublisher(nc, cfg.MarketKey, logger.New("module", "events")))
		logger.Info("publishing events to NATS", "url", cfg.NATSURL)
	}

	market, err := perp.NewMarket(perp.MarketConfig{
		Key:        cfg.MarketKey,
		Feed:       feed,
		Settings:   settings,
		Collateral: collateral,
		FeePool:    feePool,
		Gate:       gate,
		Sink:       &sinks,
		Logger:     logger.New("market", cfg.MarketKey),
	})
	if err != nil {
		logger.Error("create market", "error", err)
		os.Exit(1)
	}

	server := api.NewServer(market, feed, collateral, logger.New("module", "api")).
		WithObserver(marketMetrics)
	sinks = append(sinks, server)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mux := http.NewServeMux()
	server.Routes(mux)
	httpServer := &http.Server{Addr: cfg.ListenAddr, Handler: mux}
	go func() {
		logger.Info("JSON-RPC server started", "addr", cfg.ListenAddr, "market", cfg.MarketKey)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("JSON-RPC server failed", "error", err)
			cancel()
		}
	}()

	var metricsServer *http.Server
	if cfg.MetricsAddr != "" {
		metricsServer = marketMetrics.StartServer(cfg.MetricsAddr)
		go marketMetrics.WatchMarket(ctx, market, 5*time.Second)
	}

	go compactLoop(ctx, market, cfg.CompactInterval)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig.String())
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	httpServer.Shutdown(shutdownCtx)
	if metricsServer != nil {
		metricsServer.Shutdown(shutdownCtx)
	}
}

func compactLoop(ctx context.Context, market *perp.Market, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			market.CompactFunding()
		}
	}
}
