// Command ingest-service connects to every enabled venue, normalizes their
// order-book streams into model.OrderBookSnapshot, and fans them out to the
// shared KV store and pub/sub channel, mirroring the teacher's
// cmd/cryptorun/main.go cobra root but scoped to one pipeline stage.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/sawpanic/surveil/internal/config"
	"github.com/sawpanic/surveil/internal/kv"
	surveillog "github.com/sawpanic/surveil/internal/log"
	"github.com/sawpanic/surveil/internal/model"
	"github.com/sawpanic/surveil/internal/ops"
	"github.com/sawpanic/surveil/internal/tsdb"
	"github.com/sawpanic/surveil/internal/venue"
	"github.com/sawpanic/surveil/internal/venue/binance"
	"github.com/sawpanic/surveil/internal/venue/okx"
)

const (
	appName = "ingest-service"
	version = "v0.1.0"
)

func main() {
	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Venue ingest and normalization service",
		Long:    "Maintains live venue connections, normalizes order-book updates, and publishes them to the shared KV store.",
		Version: version,
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the ingest pipeline until signaled to stop",
		RunE:  runIngest,
	}
	runCmd.Flags().String("config-path", os.Getenv("CONFIG_PATH"), "directory containing exchanges/instruments/alerts/features.yaml")
	runCmd.Flags().String("kv-url", os.Getenv("KV_URL"), "Redis connection URL")

	healthCmd := &cobra.Command{
		Use:   "healthcheck",
		Short: "Query the local /healthz endpoint and exit 0 if healthy",
		RunE:  runHealthcheck,
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the service version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(appName, version)
		},
	}

	rootCmd.AddCommand(runCmd, healthCmd, versionCmd)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runHealthcheck(cmd *cobra.Command, args []string) error {
	port := os.Getenv("OPS_PORT")
	if port == "" {
		port = "9090"
	}
	resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%s/healthz", port))
	if err != nil {
		return fmt.Errorf("healthcheck request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("healthcheck reported status %d", resp.StatusCode)
	}
	return nil
}

func runIngest(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config-path")
	kvURL, _ := cmd.Flags().GetString("kv-url")
	if configPath == "" {
		return fmt.Errorf("ingest-service: --config-path or CONFIG_PATH is required")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("ingest-service: load config: %w", err)
	}

	log := surveillog.FromEnv(surveillog.Format(cfg.Features.Logging.Format))
	log.Info().Str("config_path", configPath).Msg("ingest_service_starting")

	kvClient, closeKV, err := connectKV(kvURL, cfg, log)
	if err != nil {
		return err
	}
	defer closeKV()

	tsClient, err := connectTSDB(log)
	if err != nil {
		return err
	}
	defer tsClient.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc := newIngestService(cfg, kvClient, tsClient, log)
	opsServer, err := ops.NewServer(ops.DefaultServerConfig(), appName, svc.healthProvider, log)
	if err != nil {
		return fmt.Errorf("ingest-service: start ops server: %w", err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := opsServer.Start(); err != nil {
			log.Error().Err(err).Msg("ops_server_failed")
		}
	}()

	if err := svc.start(ctx); err != nil {
		return fmt.Errorf("ingest-service: start adapters: %w", err)
	}

	<-ctx.Done()
	log.Info().Msg("ingest_service_shutdown_signal_received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	svc.shutdown(shutdownCtx)
	_ = opsServer.Shutdown(shutdownCtx)
	wg.Wait()

	log.Info().Msg("ingest_service_stopped")
	return nil
}

func connectKV(kvURL string, cfg config.Config, log zerolog.Logger) (*kv.Client, func(), error) {
	if kvURL == "" {
		return nil, nil, fmt.Errorf("ingest-service: --kv-url or KV_URL is required")
	}
	opts, err := redis.ParseURL(kvURL)
	if err != nil {
		return nil, nil, fmt.Errorf("ingest-service: parse KV_URL: %w", err)
	}
	rdb := redis.NewClient(opts)

	currentState, zscoreBuffer := cfg.Features.KVTTLs()
	kvCfg := kv.DefaultConfig()
	if currentState > 0 {
		kvCfg.CurrentStateTTL = currentState
	}
	if zscoreBuffer > 0 {
		kvCfg.ZScoreBufferTTL = zscoreBuffer
	}
	client := kv.New(rdb, kvCfg, log)

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx); err != nil {
		return nil, nil, fmt.Errorf("ingest-service: ping KV store: %w", err)
	}
	return client, func() { _ = client.Close() }, nil
}

func connectTSDB(log zerolog.Logger) (*tsdb.Client, error) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		return nil, fmt.Errorf("ingest-service: DATABASE_URL is required")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	client, err := tsdb.Open(ctx, dsn, 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("ingest-service: connect TSDB: %w", err)
	}
	return client, nil
}

// ingestService owns the set of connected venue adapters and the
// goroutines that drain their snapshot and gap channels into the shared KV
// store and TSDB gap history. Ticker channels are not read.
type ingestService struct {
	cfg      config.Config
	kv       *kv.Client
	ts       *tsdb.Client
	log      zerolog.Logger
	adapters map[string]venue.Adapter

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

func newIngestService(cfg config.Config, kvClient *kv.Client, tsClient *tsdb.Client, log zerolog.Logger) *ingestService {
	return &ingestService{
		cfg:      cfg,
		kv:       kvClient,
		ts:       tsClient,
		log:      log,
		adapters: make(map[string]venue.Adapter),
	}
}

// newAdapter selects the venue-family implementation by exchange name,
// the way the ingest service's provider factory in the original system
// dispatches on a configured "type" field.
func newAdapter(name string, exCfg config.ExchangeConfig, log zerolog.Logger) (venue.Adapter, error) {
	lower := strings.ToLower(name)
	switch {
	case strings.Contains(lower, "okx"):
		return okx.New(name, exCfg, log)
	case strings.Contains(lower, "binance"):
		isFutures := !strings.Contains(lower, "spot")
		return binance.New(name, exCfg, isFutures, log)
	default:
		return nil, fmt.Errorf("ingest-service: no adapter implementation for exchange %q", name)
	}
}

func (s *ingestService) start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	for name, exCfg := range s.cfg.Exchanges.EnabledExchanges() {
		adapter, err := newAdapter(name, exCfg, s.log)
		if err != nil {
			s.log.Error().Err(err).Str("exchange", name).Msg("ingest_adapter_unavailable")
			continue
		}
		instruments := instrumentsForExchange(s.cfg.Instruments.EnabledInstruments(), name)
		if len(instruments) == 0 {
			s.log.Warn().Str("exchange", name).Msg("ingest_no_instruments_for_exchange")
			continue
		}
		if err := adapter.Connect(runCtx); err != nil {
			s.log.Error().Err(err).Str("exchange", name).Msg("ingest_connect_failed")
			continue
		}
		if err := adapter.Subscribe(runCtx, instruments); err != nil {
			s.log.Error().Err(err).Str("exchange", name).Msg("ingest_subscribe_failed")
			_ = adapter.Disconnect()
			continue
		}
		s.adapters[name] = adapter
		s.runAdapterLoops(runCtx, name, adapter)
	}

	s.wg.Add(1)
	go s.healthReportLoop(runCtx)

	s.log.Info().Int("exchange_count", len(s.adapters)).Msg("ingest_service_started")
	return nil
}

func instrumentsForExchange(instruments []config.Instrument, exchange string) []config.Instrument {
	var out []config.Instrument
	for _, inst := range instruments {
		if _, ok := inst.VenueSymbols[exchange]; ok {
			out = append(out, inst)
		}
	}
	return out
}

// runAdapterLoops starts the snapshot and gap reader goroutines for
// one venue adapter; each suspends only on channel receive or ctx.Done.
func (s *ingestService) runAdapterLoops(ctx context.Context, exchange string, adapter venue.Adapter) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case snap, ok := <-adapter.StreamOrderBooks():
				if !ok {
					return
				}
				s.handleSnapshot(ctx, snap)
			}
		}
	}()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case gap, ok := <-adapter.GapEvents():
				if !ok {
					return
				}
				s.handleGap(ctx, gap)
			}
		}
	}()
}

func (s *ingestService) handleSnapshot(ctx context.Context, snap model.OrderBookSnapshot) {
	if !snap.IsValid() {
		s.log.Warn().Str("exchange", snap.Exchange).Str("instrument", snap.Instrument).Msg("ingest_dropped_invalid_snapshot")
		return
	}
	if err := s.kv.SetOrderBook(ctx, snap); err != nil {
		s.log.Error().Err(err).Str("exchange", snap.Exchange).Str("instrument", snap.Instrument).Msg("ingest_kv_write_failed")
		return
	}
	if err := s.kv.PublishOrderBook(ctx, snap); err != nil {
		s.log.Warn().Err(err).Str("exchange", snap.Exchange).Str("instrument", snap.Instrument).Msg("ingest_publish_failed")
	}
}

func (s *ingestService) handleGap(ctx context.Context, gap model.GapMarker) {
	s.log.Warn().
		Str("exchange", gap.Exchange).
		Str("instrument", gap.Instrument).
		Str("reason", gap.Reason).
		Msg("ingest_gap_detected")
	if err := s.ts.InsertGapMarker(ctx, gap); err != nil {
		s.log.Error().Err(err).Msg("ingest_gap_tsdb_write_failed")
	}
}

// healthReportLoop publishes each venue's HealthCheck snapshot at 1 Hz, the
// cadence §5 assigns to the ingest service's health-report task.
func (s *ingestService) healthReportLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, adapter := range s.adapters {
				health := adapter.HealthCheck()
				if err := s.kv.SetHealth(ctx, health); err != nil {
					s.log.Warn().Err(err).Str("exchange", health.Exchange).Msg("ingest_health_write_failed")
					continue
				}
				if err := s.kv.PublishHealth(ctx, health); err != nil {
					s.log.Warn().Err(err).Str("exchange", health.Exchange).Msg("ingest_health_publish_failed")
				}
			}
		}
	}
}

func (s *ingestService) healthProvider(ctx context.Context) ops.SystemHealth {
	overall := true
	exchanges := make(map[string]ops.ExchangeHealth, len(s.adapters))
	for name, adapter := range s.adapters {
		h := adapter.HealthCheck()
		exchanges[name] = ops.ExchangeHealth{
			Status:         string(h.Status),
			LagMs:          h.LagMs,
			ReconnectCount: h.ReconnectCount,
			GapsLastHour:   h.GapsLastHour,
		}
		if !h.IsHealthy() {
			overall = false
		}
	}
	return ops.SystemHealth{Healthy: overall, Exchanges: exchanges, Timestamp: time.Now()}
}

func (s *ingestService) shutdown(ctx context.Context) {
	if s.cancel != nil {
		s.cancel()
	}
	for name, adapter := range s.adapters {
		if err := adapter.Disconnect(); err != nil {
			s.log.Warn().Err(err).Str("exchange", name).Msg("ingest_disconnect_failed")
		}
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.log.Warn().Msg("ingest_shutdown_deadline_exceeded")
	}
}
