package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/zsiec/vdclient/internal/api"
	"github.com/zsiec/vdclient/internal/clock"
	"github.com/zsiec/vdclient/internal/config"
	"github.com/zsiec/vdclient/internal/cursor"
	"github.com/zsiec/vdclient/internal/decoder/loopback"
	"github.com/zsiec/vdclient/internal/dispatch"
	"github.com/zsiec/vdclient/internal/pipeline"
	"github.com/zsiec/vdclient/internal/transport"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("loading config", "error", err)
		os.Exit(1)
	}
	level, _ := cfg.Level()
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("vdclient exiting", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config) error {
	log := slog.Default()

	var record io.Writer
	if cfg.Decoder.Record != "" {
		f, err := os.Create(cfg.Decoder.Record)
		if err != nil {
			return err
		}
		defer f.Close()
		record = f
		log.Info("recording Annex B stream", "path", cfg.Decoder.Record)
	}

	decoders := loopback.New(loopback.Options{
		Slots:       cfg.Decoder.Slots,
		SlotSize:    cfg.Decoder.SlotSize,
		DecodeDelay: cfg.Decoder.DecodeDelay,
		Record:      record,
		Logger:      log,
	})

	pipe := pipeline.New(pipeline.Options{
		Service: decoders,
		Now:     clock.Monotonic,
		OnThresholdChange: func(ms int) {
			log.Warn("latency threshold raised", "threshold_ms", ms)
		},
		Logger: log,
	})
	defer pipe.Close()

	remote := clock.NewSync(clock.Monotonic)
	tracker := cursor.NewTracker(log, nil)

	disp := dispatch.New(dispatch.Options{
		Pipeline:       pipe,
		Clock:          remote,
		Cursor:         tracker,
		Codec:          cfg.CodecKind(),
		FallbackWidth:  cfg.Width,
		FallbackHeight: cfg.Height,
		Logger:         log,
	})

	client := transport.NewClient(transport.Options{
		Endpoint: cfg.Endpoint(),
		Handler:  disp,
		Reader:   cfg.ReaderOptions(),
		Logger:   log,
	})

	log.Info("vdclient starting",
		"version", version,
		"session", client.SessionID(),
		"transport", cfg.Transport,
		"addr", cfg.Addr,
		"codec", cfg.Codec,
		"dialect", cfg.Dialect,
		"api", cfg.APIAddr,
	)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return client.Run(ctx)
	})

	// SIGHUP rebuilds the decoder from the last configuration, as when the
	// output surface comes back.
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-hup:
				if err := disp.Reconfigure(); err != nil {
					log.Warn("reconfigure", "error", err)
					continue
				}
				log.Info("decoder reconfigured")
			}
		}
	}()

	if cfg.APIAddr != "" {
		srv := api.New(api.Config{
			Addr:     cfg.APIAddr,
			Status:   client.Status,
			Pipeline: pipe.Stats,
			Dispatch: disp.Stats,
			Decoder:  decoders.Stats,
			Clock: func() api.ClockStatus {
				return api.ClockStatus{Synchronized: remote.Synchronized(), Syncs: remote.Syncs()}
			},
			Cursor: tracker,
			Logger: log,
		})
		g.Go(func() error {
			if err := srv.Run(ctx); err != nil {
				log.Error("debug API stopped", "error", err)
			}
			return nil
		})
	}

	err := g.Wait()
	st := pipe.Stats()
	log.Info("session summary",
		"submitted", st.Submitted,
		"rendered", st.Rendered,
		"immediate", st.Immediate,
		"dropped", st.Dropped,
		"threshold_ms", st.ThresholdMs,
	)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
