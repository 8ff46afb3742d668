// Command nightwatch is the long-running posture monitor: it reads detector
// frames, runs the gesture gate and posture alert machine, and republishes
// state over HTTP, MQTT, Redis and gRPC health.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/banshee-data/nightwatchman/internal/api"
	"github.com/banshee-data/nightwatchman/internal/config"
	"github.com/banshee-data/nightwatchman/internal/framemux"
	"github.com/banshee-data/nightwatchman/internal/health"
	"github.com/banshee-data/nightwatchman/internal/monitoring"
	"github.com/banshee-data/nightwatchman/internal/pipeline"
	"github.com/banshee-data/nightwatchman/internal/publish"
	"github.com/banshee-data/nightwatchman/internal/timeutil"
	"github.com/banshee-data/nightwatchman/internal/version"
)

var (
	configPath = flag.String("config", "", "Path to a JSON tuning file (defaults are used when empty)")
	source     = flag.String("source", "", "Frame source (required): serial device, JSONL file, - for stdin, or mock for the demo script")
	baud       = flag.Int("baud", framemux.DefaultBaudRate, "Baud rate when the source is a serial device")
	listen     = flag.String("listen", ":8080", "HTTP listen address")
	grpcListen = flag.String("grpc-listen", ":50051", "gRPC health listen address (empty disables)")
	mqttBroker = flag.String("mqtt-broker", "", "MQTT broker URL, e.g. tcp://localhost:1883 (empty disables)")
	mqttPrefix = flag.String("mqtt-prefix", publish.DefaultTopicPrefix, "MQTT topic prefix")
	mqttUser   = flag.String("mqtt-username", "", "MQTT username")
	mqttPass   = flag.String("mqtt-password", "", "MQTT password")
	redisAddr  = flag.String("redis-addr", "", "Redis address for the event stream mirror (empty disables)")
	statsEvery = flag.Duration("stats-interval", 30*time.Second, "Interval between MQTT stats publishes")
	logLevel   = flag.String("log-level", "info", "Log level: debug, info, warn, error")
	logFormat  = flag.String("log-format", "json", "Log format: json or console")
	showVer    = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()

	if *showVer {
		fmt.Println("nightwatch", version.Current())
		return
	}

	log, err := monitoring.NewLogger(*logLevel, *logFormat, "nightwatch")
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid logging flags: %v\n", err)
		os.Exit(2)
	}
	monitoring.SetLogger(log)
	defer log.Sync()

	if err := run(log); err != nil {
		log.Error("nightwatch exited with error", zap.Error(err))
		os.Exit(1)
	}
}

func loadTuning(path string) (*config.TuningConfig, error) {
	if path == "" {
		return config.DefaultTuningConfig(), nil
	}
	return config.LoadTuningConfig(path)
}

var errNoSource = errors.New("no frame source: pass -source with a serial device, a JSONL file, - for stdin, or mock")

// checkSource refuses to start without an explicit frame source.
func checkSource(src string) error {
	if src == "" {
		return errNoSource
	}
	return nil
}

func run(log *zap.Logger) error {
	if err := checkSource(*source); err != nil {
		return err
	}
	tuning, err := loadTuning(*configPath)
	if err != nil {
		return fmt.Errorf("load tuning: %w", err)
	}

	clock := timeutil.RealClock{}
	p := pipeline.New(pipeline.ConfigFromTuning(tuning), clock)

	frames, err := framemux.Open(*source, framemux.PortOptions{BaudRate: *baud})
	if err != nil {
		return err
	}
	defer frames.Close()
	log.Info("frame source ready", zap.String("source", *source))

	var (
		sinks []publish.Sink
		mqtt  *publish.MQTTSink
	)
	sinks = append(sinks, publish.NewLogSink(log.Named("events")))
	if *mqttBroker != "" {
		mqtt, err = publish.DialMQTT(log.Named("mqtt"), publish.MQTTConfig{
			Broker:      *mqttBroker,
			Username:    *mqttUser,
			Password:    *mqttPass,
			TopicPrefix: *mqttPrefix,
		}, p)
		if err != nil {
			return err
		}
		sinks = append(sinks, mqtt)
	}
	if *redisAddr != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		rs, err := publish.DialRedis(ctx, publish.RedisConfig{Addr: *redisAddr})
		cancel()
		if err != nil {
			return err
		}
		sinks = append(sinks, rs)
	}

	dispatcher := publish.NewDispatcher(log.Named("publish"), publish.DefaultQueueSize, sinks...)
	defer func() {
		if err := dispatcher.Close(); err != nil {
			log.Warn("closing publishers", zap.Error(err))
		}
	}()
	p.Subscribe(dispatcher)

	var hs *health.Server
	if *grpcListen != "" {
		hs = health.NewServer(log.Named("health"), *grpcListen)
		if err := hs.Start(); err != nil {
			return err
		}
		defer hs.Stop()
		p.Subscribe(hs)
	}

	srv := api.NewServer(log.Named("http"), p, frames)
	srv.AddStats("publish", func() any { return dispatcher.Stats() })

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// The consumer subscribes before Monitor starts so no frame is missed.
	_, lines := frames.SubscribeReliable()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := frames.Monitor(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("frame source failed", zap.Error(err))
		}
		log.Info("monitor routine terminated")
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		stats, err := pipeline.Feed(ctx, p, lines, pipeline.FeedOptions{Log: log.Named("feed")})
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Error("frame consumer failed", zap.Error(err))
		}
		log.Info("consumer routine terminated",
			zap.Uint64("frames", stats.Frames), zap.Uint64("skipped", stats.Skipped))
	}()

	if mqtt != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			mqtt.RunStats(ctx, clock, *statsEvery, p.Snapshot)
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()

		server := &http.Server{
			Addr:              *listen,
			Handler:           srv.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}

		go func() {
			log.Info("http server listening", zap.String("addr", *listen))
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("http server failed", zap.Error(err))
				stop()
			}
		}()

		<-ctx.Done()
		log.Info("shutting down HTTP server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Warn("http server shutdown error", zap.Error(err))
			if err := server.Close(); err != nil {
				log.Warn("http server force close error", zap.Error(err))
			}
		}
		log.Info("http server routine stopped")
	}()

	wg.Wait()
	log.Info("graceful shutdown complete")
	return nil
}
