package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"github.com/smarthomesven/duuxbridge/internal/cloudgarden"
	"github.com/smarthomesven/duuxbridge/internal/config"
	"github.com/smarthomesven/duuxbridge/internal/device"
	"github.com/smarthomesven/duuxbridge/internal/history"
	"github.com/smarthomesven/duuxbridge/internal/hostmqtt"
	"github.com/smarthomesven/duuxbridge/internal/rate"
	"github.com/smarthomesven/duuxbridge/internal/registry"
	"github.com/smarthomesven/duuxbridge/internal/server"
	"github.com/smarthomesven/duuxbridge/internal/session"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	configPath := flag.String("config", envOrDefault("DUUXBRIDGE_CONFIG", config.DefaultPath), "config file path")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	if addr := os.Getenv("DUUXBRIDGE_HTTP_ADDR"); addr != "" {
		cfg.Core.HTTPAddr = addr
	}

	var blob session.BlobStore
	if cfg.Blob != nil {
		store, err := session.NewS3Store(*cfg.Blob)
		if err != nil {
			log.Fatal().Err(err).Msg("init blob store")
		}
		blob = store
	}

	sess, err := session.New(cfg.Core.StatePath, blob, log)
	if err != nil {
		log.Fatal().Err(err).Msg("restore session")
	}
	if !sess.LoggedIn() {
		log.Warn().Msg("not logged in; run duuxbridge-cli login first")
	}

	cloud := cloudgarden.NewClient(cfg.Core.CloudBaseURL, sess)

	reg, err := registry.Open(cfg.Core.RegistryPath)
	if err != nil {
		log.Fatal().Err(err).Msg("open device registry")
	}
	defer reg.Close()

	var recorder device.Recorder
	if cfg.History.Enabled {
		rec, err := history.Connect(cfg.History, log)
		if err != nil {
			log.Fatal().Err(err).Msg("connect history")
		}
		defer rec.Close()
		recorder = rec
	}

	supervisor := device.NewSupervisor(cloud, nil, recorder, cfg.Core.PollInterval(), log)

	mqttHost, err := hostmqtt.New(cfg.MQTT, supervisor.HandleWrite, log)
	if err != nil {
		log.Fatal().Err(err).Msg("connect mqtt")
	}
	defer mqttHost.Close()
	supervisor.SetHost(mqttHost)

	paired, err := reg.List(context.Background())
	if err != nil {
		log.Fatal().Err(err).Msg("list paired devices")
	}
	for _, d := range paired {
		if err := supervisor.Add(d.ID, d.MAC, d.TenantID, d.Model); err != nil {
			log.Error().Err(err).Str("device", d.ID).Msg("skipping device")
		}
	}
	log.Info().Int("devices", len(paired)).Msg("bridge started")

	metricsRegistry := prometheus.NewRegistry()
	metricsRegistry.MustRegister(collectors.NewGoCollector())
	metricsRegistry.MustRegister(device.MetricsCollectors()...)
	metricsRegistry.MustRegister(cloudgarden.MetricsCollectors()...)
	metricsRegistry.MustRegister(session.MetricsCollectors()...)
	metricsRegistry.MustRegister(rate.MetricsCollectors()...)

	httpServer := server.NewHTTPServer(cfg.Core.HTTPAddr, server.NewMux(metricsRegistry, supervisor))
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http serve")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Info().Msg("shutting down")
	supervisor.StopAll()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(ctx)
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
