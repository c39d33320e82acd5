package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"midilink/internal/core/domain"
	"midilink/internal/core/ports"
	"midilink/internal/core/services"
	httphandlers "midilink/internal/handlers/http"
	"midilink/internal/infrastructure/hardware"
	"midilink/internal/infrastructure/middleware"
	"midilink/internal/infrastructure/monitoring"
	"midilink/internal/infrastructure/rtpmidi"
	signalhub "midilink/internal/infrastructure/signal"
	webrtcinfra "midilink/internal/infrastructure/webrtc"
	"midilink/pkg/config"
	"midilink/pkg/logger"
	"midilink/pkg/retry"
	"midilink/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/pion/webrtc/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/pflag"
	"gitlab.com/gomidi/midi/v2/drivers/rtmididrv"
	"go.uber.org/zap"
)

func main() {
	flags := pflag.NewFlagSet("midilink", pflag.ContinueOnError)
	configPath := flags.StringP("config", "c", "configs/config.yaml", "path to the YAML configuration file")
	noHardware := flags.Bool("no-hardware", false, "disable the USB MIDI transport")
	noNetwork := flags.Bool("no-rtpmidi", false, "disable the network MIDI session")
	if err := flags.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if *noHardware {
		cfg.Hardware.Enabled = false
	}
	if *noNetwork {
		cfg.RTPMIDI.Enabled = false
	}

	zapLogger := logger.NewWithFormat(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLogger.Sync()
	log := zapLogger.Sugar()

	if err := run(cfg, log); err != nil {
		log.Fatalw("midilink stopped with error", "error", err)
	}
}

func run(cfg *config.Config, log *zap.SugaredLogger) error {
	traceCfg := tracing.DefaultConfig()
	traceCfg.Enabled = cfg.Tracing.Enabled
	traceCfg.JaegerURL = cfg.Tracing.JaegerURL
	traceCfg.SampleRate = cfg.Tracing.SampleRate
	tp, err := tracing.Init(traceCfg)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := monitoring.NewPrometheusCollector(registry)

	peer := webrtcinfra.NewPeerTransport(peerConfig(cfg), log.Named("webrtc"))

	var hw ports.HardwareTransport
	if cfg.Hardware.Enabled {
		hw = newHardware(cfg, log)
	}

	var network ports.NetworkTransport
	if cfg.RTPMIDI.Enabled {
		policy := retry.DefaultPolicy()
		policy.Attempts = cfg.RTPMIDI.BindAttempts
		policy.Initial = cfg.RTPMIDI.BindBackoff
		network = rtpmidi.NewSession(policy, log.Named("rtpmidi"))
	}

	manager, err := services.NewConnectionManager(services.ManagerConfig{
		HandshakeTimeout: cfg.Session.HandshakeTimeout,
		EventBuffer:      cfg.Session.EventBuffer,
		Codec:            cfg.Session.Codec,
		Bridge:           cfg.Bridge,
		Network: ports.NetworkOptions{
			LocalName:   cfg.RTPMIDI.LocalName,
			ServiceName: cfg.RTPMIDI.ServiceName,
			Port:        cfg.RTPMIDI.Port,
		},
	}, services.Dependencies{
		Channel:   peer,
		Hardware:  hw,
		Network:   network,
		Signaling: webrtcinfra.NewSignalingCodec(cfg.Signaling.Compress),
		Observer:  collector,
		Logger:    log.Named("manager"),
	})
	if err != nil {
		return fmt.Errorf("create connection manager: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := manager.Start(ctx); err != nil {
		return fmt.Errorf("start connection manager: %w", err)
	}

	hub := signalhub.NewWebSocketServer(manager, signalhub.Options{
		MessagesPerSecond: wsRate(cfg),
		Burst:             cfg.RateLimiting.WebSocket.Burst,
		MaxConcurrent:     cfg.RateLimiting.WebSocket.MaxConcurrent,
		MaxMessageSize:    cfg.RateLimiting.WebSocket.MaxMessageSizeBytes,
		PingInterval:      cfg.HTTP.PingInterval,
	}, log.Named("feed"))
	if err := hub.Start(ctx); err != nil {
		return fmt.Errorf("start event feed: %w", err)
	}

	checker := monitoring.NewHealthChecker()
	checker.AddSessionCheck(manager)
	if hw != nil {
		checker.AddTransportCheck(domain.TransportHardware, hw)
	}
	if network != nil {
		checker.AddTransportCheck(domain.TransportNetwork, network)
	}

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(
		middleware.RequestIDMiddleware(),
		middleware.AccessLogMiddleware(log),
		middleware.TracingMiddleware(),
		middleware.ErrorHandlerMiddleware(log),
		middleware.RecoveryMiddleware(log),
		middleware.NewHTTPRateLimitMiddleware(cfg),
	)

	httphandlers.NewBridgeHandler(manager).SetupRoutes(router)
	var gatherer prometheus.Gatherer
	if cfg.Monitoring.PrometheusEnabled {
		gatherer = registry
	}
	httphandlers.NewHealthHandler(checker, gatherer).SetupRoutes(router)
	router.GET("/ws", gin.WrapF(hub.HandleWebSocket))

	srv := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      router,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Infow("starting midilink",
			"address", cfg.HTTP.Address,
			"hardware", cfg.Hardware.Enabled,
			"rtpmidi", cfg.RTPMIDI.Enabled,
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		log.Errorw("http server failed", "error", err)
	case <-ctx.Done():
		log.Info("received shutdown signal")
	}
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("error during server shutdown", "error", err)
		if closeErr := srv.Close(); closeErr != nil {
			log.Errorw("error force closing server", "error", closeErr)
		}
	}
	<-hub.Done()

	if err := manager.Shutdown(); err != nil {
		log.Errorw("error releasing transports", "error", err)
	}
	if err := tp.Shutdown(shutdownCtx); err != nil {
		log.Errorw("error flushing traces", "error", err)
	}

	log.Info("midilink stopped")
	return nil
}

func peerConfig(cfg *config.Config) webrtcinfra.Config {
	var pc webrtcinfra.Config
	for _, s := range cfg.WebRTC.ICEServers {
		pc.ICEServers = append(pc.ICEServers, webrtc.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}
	pc.PortRange.Min = cfg.WebRTC.PortRange.Min
	pc.PortRange.Max = cfg.WebRTC.PortRange.Max
	pc.ChannelLabel = cfg.WebRTC.ChannelLabel
	pc.GatheringTimeout = cfg.WebRTC.GatheringTimeout
	return pc
}

// newHardware opens the rtmidi driver. Without one the transport reports
// itself unavailable and the bridge runs peer-only.
func newHardware(cfg *config.Config, log *zap.SugaredLogger) *hardware.MIDITransport {
	hwConfig := hardware.Config{
		PollInterval: cfg.Hardware.PollInterval,
		PortFilter:   cfg.Hardware.PortFilter,
	}
	driver, err := rtmididrv.New()
	if err != nil {
		log.Warnw("rtmidi driver unavailable, hardware MIDI disabled", "error", err)
		return hardware.NewMIDITransport(nil, hwConfig, log.Named("hardware"))
	}
	return hardware.NewMIDITransport(driver, hwConfig, log.Named("hardware"))
}

func wsRate(cfg *config.Config) float64 {
	if !cfg.RateLimiting.Enabled {
		return 0
	}
	return cfg.RateLimiting.WebSocket.MessagesPerSecond
}
