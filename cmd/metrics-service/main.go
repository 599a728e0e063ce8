// Command metrics-service subscribes to order-book updates, computes
// spread/depth/basis/imbalance metrics (with rolling z-scores), and
// publishes the resulting AggregatedMetrics back onto the shared KV store.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/sawpanic/surveil/internal/config"
	"github.com/sawpanic/surveil/internal/kv"
	surveillog "github.com/sawpanic/surveil/internal/log"
	"github.com/sawpanic/surveil/internal/metrics"
	"github.com/sawpanic/surveil/internal/model"
	"github.com/sawpanic/surveil/internal/ops"
	"github.com/sawpanic/surveil/internal/tsdb"
	"github.com/sawpanic/surveil/internal/venue"
)

const (
	appName = "metrics-service"
	version = "v0.1.0"
)

func main() {
	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Market-microstructure metrics engine",
		Long:    "Subscribes to normalized order-book updates and computes spread, depth, basis, and imbalance metrics with rolling z-scores.",
		Version: version,
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the metrics engine until signaled to stop",
		RunE:  runMetrics,
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

func runMetrics(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config-path")
	kvURL, _ := cmd.Flags().GetString("kv-url")
	if configPath == "" {
		return fmt.Errorf("metrics-service: --config-path or CONFIG_PATH is required")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("metrics-service: load config: %w", err)
	}

	log := surveillog.FromEnv(surveillog.Format(cfg.Features.Logging.Format))
	log.Info().Str("config_path", configPath).Msg("metrics_service_starting")

	if kvURL == "" {
		return fmt.Errorf("metrics-service: --kv-url or KV_URL is required")
	}
	opts, err := redis.ParseURL(kvURL)
	if err != nil {
		return fmt.Errorf("metrics-service: parse KV_URL: %w", err)
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
	kvClient := kv.New(rdb, kvCfg, log)
	defer kvClient.Close()

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		return fmt.Errorf("metrics-service: DATABASE_URL is required")
	}
	tsCtx, tsCancel := context.WithTimeout(context.Background(), 10*time.Second)
	tsClient, err := tsdb.Open(tsCtx, dsn, 10*time.Second)
	tsCancel()
	if err != nil {
		return fmt.Errorf("metrics-service: connect TSDB: %w", err)
	}
	defer tsClient.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, err := newMetricsService(cfg, kvClient, tsClient, log)
	if err != nil {
		return fmt.Errorf("metrics-service: build service: %w", err)
	}

	opsServer, err := ops.NewServer(ops.DefaultServerConfig(), appName, svc.healthProvider, log)
	if err != nil {
		return fmt.Errorf("metrics-service: start ops server: %w", err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := opsServer.Start(); err != nil {
			log.Error().Err(err).Msg("ops_server_failed")
		}
	}()

	svc.start(ctx)

	<-ctx.Done()
	log.Info().Msg("metrics_service_shutdown_signal_received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	svc.shutdown(shutdownCtx)
	_ = opsServer.Shutdown(shutdownCtx)
	wg.Wait()

	log.Info().Msg("metrics_service_stopped")
	return nil
}

// instrumentState holds one (exchange, instrument) pair's aggregator plus
// the bookkeeping needed to detect gaps and trigger z-score resets
// independently of the venue adapter that produced the original snapshot,
// per §4.6's "outer pipeline" time-gap detection.
type instrumentState struct {
	aggregator  *metrics.Aggregator
	lastSeq     int64
	haveLastSeq bool
	lastLocalTs time.Time
}

// metricsService owns the pub/sub subscriber loop, the per-instrument
// aggregator set, and the periodic batch-flush and warmup-progress tasks.
type metricsService struct {
	cfg config.Config
	kv  *kv.Client
	ts  *tsdb.Client
	log zerolog.Logger

	gapThreshold time.Duration
	zscoreWindow int
	zscoreMin    int
	bpsLevels    []int
	depthRef     int

	mu     sync.Mutex
	states map[string]*instrumentState // keyed by "exchange:instrument"

	pendingMu sync.Mutex
	pending   []model.AggregatedMetrics

	wg     sync.WaitGroup
	cancel context.CancelFunc
	pubsub *redis.PubSub
}

func newMetricsService(cfg config.Config, kvClient *kv.Client, tsClient *tsdb.Client, log zerolog.Logger) (*metricsService, error) {
	gapThreshold := cfg.Features.GapHandling.GapThreshold()
	if gapThreshold <= 0 {
		gapThreshold = 30 * time.Second
	}
	window := cfg.Features.ZScore.WindowSize
	if window <= 0 {
		window = 100
	}
	minSamples := cfg.Features.ZScore.MinSamples
	if minSamples <= 0 {
		minSamples = metrics.DefaultMinSamples
	}
	bpsLevels := []int{5, 10, 25}
	depthRef := 10

	return &metricsService{
		cfg:          cfg,
		kv:           kvClient,
		ts:           tsClient,
		log:          log,
		gapThreshold: gapThreshold,
		zscoreWindow: window,
		zscoreMin:    minSamples,
		bpsLevels:    bpsLevels,
		depthRef:     depthRef,
		states:       make(map[string]*instrumentState),
	}, nil
}

func stateKey(exchange, instrument string) string { return exchange + ":" + instrument }

func (s *metricsService) stateFor(exchange, instrument string) *instrumentState {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := stateKey(exchange, instrument)
	st, ok := s.states[key]
	if ok {
		return st
	}
	agg, err := metrics.NewAggregator(
		metrics.WithAggregatorZScore(s.cfg.Features.ZScore.Enabled),
		metrics.WithAggregatorZScoreWindow(s.zscoreWindow),
		metrics.WithAggregatorZScoreMinSamples(s.zscoreMin),
		metrics.WithAggregatorDepthLevels(s.bpsLevels, s.depthRef),
	)
	if err != nil {
		s.log.Error().Err(err).Str("exchange", exchange).Str("instrument", instrument).Msg("metrics_aggregator_build_failed")
		agg, _ = metrics.NewAggregator()
	}
	st = &instrumentState{aggregator: agg}
	s.states[key] = st
	return st
}

func (s *metricsService) start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.pubsub = s.kv.Subscribe(runCtx, kv.ChannelOrderBook)

	s.wg.Add(1)
	go s.subscriberLoop(runCtx)

	s.wg.Add(1)
	go s.batchFlushLoop(runCtx)

	s.wg.Add(1)
	go s.warmupProgressLoop(runCtx)

	s.log.Info().Msg("metrics_service_started")
}

// subscriberLoop drains the orderbook pub/sub channel. Messages only carry
// identifiers; the authoritative snapshot is re-read from KV, per §9's
// "pub/sub messages sharing large serialized objects" rule.
func (s *metricsService) subscriberLoop(ctx context.Context) {
	defer s.wg.Done()
	ch := s.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			s.handleOrderBookEnvelope(ctx, msg.Payload)
		}
	}
}

type orderBookEnvelope struct {
	Exchange   string `json:"exchange"`
	Instrument string `json:"instrument"`
}

func (s *metricsService) handleOrderBookEnvelope(ctx context.Context, payload string) {
	var env orderBookEnvelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		s.log.Warn().Err(err).Msg("metrics_envelope_decode_failed")
		return
	}

	snap, found, err := s.kv.GetOrderBook(ctx, env.Exchange, env.Instrument)
	if err != nil || !found {
		if err != nil {
			s.log.Warn().Err(err).Str("exchange", env.Exchange).Str("instrument", env.Instrument).Msg("metrics_orderbook_read_failed")
		}
		return
	}

	st := s.stateFor(env.Exchange, env.Instrument)
	s.checkForGap(ctx, st, snap)

	var spot *model.OrderBookSnapshot
	if spotID, ok := s.cfg.Instruments.SpotForPerp(env.Instrument); ok {
		if spotSnap, found, err := s.kv.GetOrderBook(ctx, env.Exchange, spotID); err == nil && found {
			spot = &spotSnap
		}
	}

	aggregated, err := st.aggregator.CalculateAll(snap, spot)
	if err != nil {
		s.log.Warn().Err(err).Str("exchange", env.Exchange).Str("instrument", env.Instrument).Msg("metrics_calculation_failed")
		return
	}

	if err := s.kv.SetMetrics(ctx, aggregated); err != nil {
		s.log.Error().Err(err).Str("exchange", env.Exchange).Str("instrument", env.Instrument).Msg("metrics_kv_write_failed")
		return
	}
	if err := s.kv.PublishMetrics(ctx, aggregated); err != nil {
		s.log.Warn().Err(err).Str("exchange", env.Exchange).Str("instrument", env.Instrument).Msg("metrics_publish_failed")
	}

	if aggregated.Spread.ZScore != nil {
		_ = s.kv.AddZScoreSample(ctx, env.Exchange, env.Instrument, "spread_bps", aggregated.Spread.SpreadBps, s.zscoreWindow)
	}
	if aggregated.Basis != nil && aggregated.Basis.ZScore != nil {
		_ = s.kv.AddZScoreSample(ctx, env.Exchange, env.Instrument, "basis_bps", aggregated.Basis.BasisBps, s.zscoreWindow)
	}

	st.lastLocalTs = snap.LocalTimestamp
	st.lastSeq = snap.SequenceID
	st.haveLastSeq = true

	s.pendingMu.Lock()
	s.pending = append(s.pending, aggregated)
	s.pendingMu.Unlock()
}

// checkForGap applies the sequence-gap policy independently at the metrics
// layer and detects local-time inter-arrival gaps, resetting the
// instrument's z-score buffers on either, per §4.2's reset policy.
func (s *metricsService) checkForGap(ctx context.Context, st *instrumentState, snap model.OrderBookSnapshot) {
	if !s.cfg.Features.GapHandling.MarkGaps {
		return
	}

	var reason string
	if st.haveLastSeq {
		if r, isGap := venue.DetectGap(st.lastSeq, snap.SequenceID); isGap {
			reason = r
		}
	}
	if reason == "" && !st.lastLocalTs.IsZero() {
		if snap.LocalTimestamp.Sub(st.lastLocalTs) > s.gapThreshold {
			reason = "time_gap"
		}
	}
	if reason == "" {
		return
	}

	st.aggregator.ResetAllZScores(reason)
	_ = s.kv.ClearZScoreBuffer(ctx, snap.Exchange, snap.Instrument, "spread_bps")
	_ = s.kv.ClearZScoreBuffer(ctx, snap.Exchange, snap.Instrument, "basis_bps")

	s.log.Warn().
		Str("exchange", snap.Exchange).
		Str("instrument", snap.Instrument).
		Str("reason", reason).
		Msg("metrics_gap_detected_zscore_reset")

	gap, err := model.NewGapMarker(snap.Exchange, snap.Instrument, st.lastLocalTs, snap.LocalTimestamp, reason, nil, nil)
	if err == nil {
		if err := s.ts.InsertGapMarker(ctx, gap); err != nil {
			s.log.Error().Err(err).Msg("metrics_gap_tsdb_write_failed")
		}
	}
}

// batchFlushLoop drains the pending AggregatedMetrics buffer into TSDB once
// per second, matching §5's metrics-service batch-flush task.
func (s *metricsService) batchFlushLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.flush(context.Background())
			return
		case <-ticker.C:
			s.flush(ctx)
		}
	}
}

func (s *metricsService) flush(ctx context.Context) {
	s.pendingMu.Lock()
	batch := s.pending
	s.pending = nil
	s.pendingMu.Unlock()

	if len(batch) == 0 {
		return
	}

	spreadSamples := make([]tsdb.MetricSample, 0, len(batch))
	basisSamples := make([]tsdb.BasisSample, 0, len(batch))
	for _, m := range batch {
		spreadSamples = append(spreadSamples, tsdb.MetricSample{
			Exchange:   m.Exchange,
			Instrument: m.Instrument,
			Timestamp:  m.Timestamp,
			Value:      m.Spread.SpreadBps,
			ZScore:     m.Spread.ZScore,
		})
		if m.Basis != nil {
			spotID, _ := s.cfg.Instruments.SpotForPerp(m.Instrument)
			basisSamples = append(basisSamples, tsdb.BasisSample{
				PerpInstrument: m.Instrument,
				SpotInstrument: spotID,
				Exchange:       m.Exchange,
				Timestamp:      m.Timestamp,
				PerpMid:        m.Basis.PerpMid,
				SpotMid:        m.Basis.SpotMid,
				BasisAbs:       m.Basis.BasisAbs,
				BasisBps:       m.Basis.BasisBps,
				ZScore:         m.Basis.ZScore,
			})
		}
	}

	if n, err := s.ts.InsertMetrics(ctx, "spread_bps", spreadSamples); err != nil {
		s.log.Error().Err(err).Msg("metrics_batch_flush_failed")
	} else {
		s.log.Debug().Int("count", n).Msg("metrics_batch_flushed")
	}
	if len(basisSamples) > 0 {
		if _, err := s.ts.InsertBasisMetrics(ctx, basisSamples); err != nil {
			s.log.Error().Err(err).Msg("metrics_basis_batch_flush_failed")
		}
	}
}

// warmupProgressLoop logs z-score warmup progress at the configured
// interval, so operators can see why alerts aren't firing yet before each
// tracker has its minimum sample count, rather than mistaking warmup for an
// outage.
func (s *metricsService) warmupProgressLoop(ctx context.Context) {
	defer s.wg.Done()
	interval := time.Duration(s.cfg.Features.ZScore.WarmupLogInterval) * time.Second
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			for key, st := range s.states {
				for metricName, status := range st.aggregator.ZScoreStatuses() {
					if !status.IsReady {
						s.log.Info().
							Str("instrument_key", key).
							Str("metric", metricName).
							Int("samples", status.SamplesCollected).
							Int("required", status.SamplesRequired).
							Msg("metrics_zscore_warmup_progress")
					}
				}
			}
			s.mu.Unlock()
		}
	}
}

func (s *metricsService) healthProvider(ctx context.Context) ops.SystemHealth {
	s.mu.Lock()
	lag := int64(0)
	for _, st := range s.states {
		if !st.lastLocalTs.IsZero() {
			if ms := time.Since(st.lastLocalTs).Milliseconds(); ms > lag {
				lag = ms
			}
		}
	}
	s.mu.Unlock()

	return ops.SystemHealth{
		Healthy:      true,
		Timestamp:    time.Now(),
		MetricsLagMs: lag,
	}
}

func (s *metricsService) shutdown(ctx context.Context) {
	if s.cancel != nil {
		s.cancel()
	}
	if s.pubsub != nil {
		_ = s.pubsub.Close()
	}
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.log.Warn().Msg("metrics_shutdown_deadline_exceeded")
	}
}
