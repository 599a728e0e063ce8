// Command alerts-service subscribes to computed metrics, evaluates alert
// definitions (threshold and z-score gating, persistence, throttling,
// dedup), and drives the alert lifecycle: creation, escalation, and
// auto-resolution, dispatching each transition to notification channels.
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

	"github.com/sawpanic/surveil/internal/alert"
	"github.com/sawpanic/surveil/internal/alert/dispatch"
	"github.com/sawpanic/surveil/internal/alert/storage"
	"github.com/sawpanic/surveil/internal/config"
	"github.com/sawpanic/surveil/internal/kv"
	surveillog "github.com/sawpanic/surveil/internal/log"
	"github.com/sawpanic/surveil/internal/ops"
	"github.com/sawpanic/surveil/internal/tsdb"
)

const (
	appName                 = "alerts-service"
	version                 = "v0.1.0"
	escalationCheckInterval = 30 * time.Second
)

func main() {
	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Alert lifecycle engine",
		Long:    "Subscribes to aggregated metrics, evaluates alert definitions, and drives the full alert lifecycle through to notification dispatch.",
		Version: version,
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the alert engine until signaled to stop",
		RunE:  runAlerts,
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

func runAlerts(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config-path")
	kvURL, _ := cmd.Flags().GetString("kv-url")
	if configPath == "" {
		return fmt.Errorf("alerts-service: --config-path or CONFIG_PATH is required")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("alerts-service: load config: %w", err)
	}

	log := surveillog.FromEnv(surveillog.Format(cfg.Features.Logging.Format))
	log.Info().Str("config_path", configPath).Msg("alerts_service_starting")

	if kvURL == "" {
		return fmt.Errorf("alerts-service: --kv-url or KV_URL is required")
	}
	opts, err := redis.ParseURL(kvURL)
	if err != nil {
		return fmt.Errorf("alerts-service: parse KV_URL: %w", err)
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
		return fmt.Errorf("alerts-service: DATABASE_URL is required")
	}
	tsCtx, tsCancel := context.WithTimeout(context.Background(), 10*time.Second)
	tsClient, err := tsdb.Open(tsCtx, dsn, 10*time.Second)
	tsCancel()
	if err != nil {
		return fmt.Errorf("alerts-service: connect TSDB: %w", err)
	}
	defer tsClient.Close()

	store := storage.New(kvClient, tsClient, log, storage.DefaultConfig())
	dispatcher := buildDispatcher(cfg, log)

	svc := &alertsService{
		cfg:        cfg,
		kv:         kvClient,
		dispatcher: dispatcher,
		log:        log,
		managers:   make(map[string]*alert.Manager),
		store:      store,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opsServer, err := ops.NewServer(ops.DefaultServerConfig(), appName, svc.healthProvider, log)
	if err != nil {
		return fmt.Errorf("alerts-service: start ops server: %w", err)
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
	log.Info().Msg("alerts_service_shutdown_signal_received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	svc.shutdown(shutdownCtx)
	_ = opsServer.Shutdown(shutdownCtx)
	wg.Wait()

	log.Info().Msg("alerts_service_stopped")
	return nil
}

// buildDispatcher wires one Channel per configured alerts.channels entry
// (console always available, webhook/slack channels from OPS_WEBHOOK_URL or
// per-channel config) and binds priorities to channel name lists from
// alerts.yaml's priorities block.
func buildDispatcher(cfg config.Config, log zerolog.Logger) *dispatch.Dispatcher {
	channels := map[string]dispatch.Channel{
		"console": dispatch.NewConsoleChannel(log),
	}
	for name, chCfg := range cfg.Alerts.Channels {
		if chCfg.Type != "slack" && chCfg.Type != "webhook" {
			continue
		}
		url := chCfg.WebhookURL
		if url == "" {
			url = os.Getenv("OPS_WEBHOOK_URL")
		}
		if url == "" {
			log.Warn().Str("channel", name).Msg("alerts_channel_missing_webhook_url")
			continue
		}
		channels[name] = dispatch.NewSlackChannel(url, log)
	}

	priorityChannels := cfg.Alerts.PriorityChannels()
	if len(priorityChannels) == 0 {
		priorityChannels = dispatch.DefaultPriorityChannels()
	}
	return dispatch.NewDispatcher(channels, priorityChannels, log)
}

// alertsService owns one alert.Manager per instrument (definitions and
// thresholds differ per instrument via wildcard fallback), the metrics
// pub/sub subscriber, and the periodic escalation-check task.
type alertsService struct {
	cfg        config.Config
	kv         *kv.Client
	store      *storage.Store
	dispatcher *dispatch.Dispatcher
	log        zerolog.Logger

	mu       sync.Mutex
	managers map[string]*alert.Manager // keyed by instrument id

	wg     sync.WaitGroup
	cancel context.CancelFunc
	pubsub *redis.PubSub
}

func (s *alertsService) managerFor(instrument string) (*alert.Manager, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.managers[instrument]; ok {
		return m, nil
	}

	defs, thresholds, err := s.cfg.Alerts.DefinitionsForInstrument(instrument)
	if err != nil {
		return nil, err
	}
	throttle := s.cfg.Alerts.Global.ThrottleSeconds
	if throttle <= 0 {
		throttle = alert.DefaultThrottleSeconds
	}
	m := alert.NewManager(s.store, defs, thresholds, alert.DefaultMetricValue, alert.DefaultZScoreValue, throttle, s.log)
	s.managers[instrument] = m
	return m, nil
}

func (s *alertsService) start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.pubsub = s.kv.Subscribe(runCtx, kv.ChannelMetrics)

	s.wg.Add(1)
	go s.subscriberLoop(runCtx)

	s.wg.Add(1)
	go s.escalationLoop(runCtx)

	s.log.Info().Msg("alerts_service_started")
}

type metricsEnvelope struct {
	Exchange   string    `json:"exchange"`
	Instrument string    `json:"instrument"`
	Timestamp  time.Time `json:"timestamp"`
}

func (s *alertsService) subscriberLoop(ctx context.Context) {
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
			s.handleMetricsEnvelope(ctx, msg.Payload)
		}
	}
}

func (s *alertsService) handleMetricsEnvelope(ctx context.Context, payload string) {
	var env metricsEnvelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		s.log.Warn().Err(err).Msg("alerts_envelope_decode_failed")
		return
	}

	metrics, found, err := s.kv.GetMetrics(ctx, env.Exchange, env.Instrument)
	if err != nil || !found {
		if err != nil {
			s.log.Warn().Err(err).Str("exchange", env.Exchange).Str("instrument", env.Instrument).Msg("alerts_metrics_read_failed")
		}
		return
	}

	manager, err := s.managerFor(env.Instrument)
	if err != nil {
		s.log.Error().Err(err).Str("instrument", env.Instrument).Msg("alerts_manager_build_failed")
		return
	}

	now := metrics.Timestamp
	if now.IsZero() {
		now = time.Now()
	}
	created, err := manager.ProcessMetrics(ctx, env.Exchange, env.Instrument, metrics, now)
	if err != nil {
		s.log.Error().Err(err).Str("exchange", env.Exchange).Str("instrument", env.Instrument).Msg("alerts_process_metrics_failed")
		return
	}
	for _, a := range created {
		s.dispatcher.Dispatch(ctx, a)
	}
}

// escalationLoop runs every 30s per §5, promoting aged P2 alerts to P1
// across every instrument's manager.
func (s *alertsService) escalationLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(escalationCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runEscalationCheck(ctx)
		}
	}
}

func (s *alertsService) runEscalationCheck(ctx context.Context) {
	s.mu.Lock()
	managers := make([]*alert.Manager, 0, len(s.managers))
	for _, m := range s.managers {
		managers = append(managers, m)
	}
	s.mu.Unlock()

	now := time.Now()
	for _, m := range managers {
		escalated, err := m.CheckEscalations(ctx, now)
		if err != nil {
			s.log.Error().Err(err).Msg("alerts_escalation_check_failed")
			continue
		}
		for _, a := range escalated {
			s.dispatcher.DispatchEscalation(ctx, a)
		}
	}
}

func (s *alertsService) healthProvider(ctx context.Context) ops.SystemHealth {
	active, err := s.store.GetActiveAlerts(ctx)
	count := 0
	if err == nil {
		count = len(active)
	}
	return ops.SystemHealth{
		Healthy:      true,
		Timestamp:    time.Now(),
		ActiveAlerts: count,
	}
}

func (s *alertsService) shutdown(ctx context.Context) {
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
		s.log.Warn().Msg("alerts_shutdown_deadline_exceeded")
	}
}
