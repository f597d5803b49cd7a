// vd-push is a synthetic remote-display server. It listens on one of the
// client transports and, for every client that connects, sends a
// configuration, clock syncs, paced H.264 frames and cursor updates.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/zsiec/vdclient/internal/certs"
	"github.com/zsiec/vdclient/internal/transport"
	"github.com/zsiec/vdclient/internal/wire"
)

func main() {
	transportFlag := flag.String("transport", "tcp", "tcp, srt, quic or ws")
	addrFlag := flag.String("addr", "127.0.0.1:7000", "listen address")
	streamIDFlag := flag.String("streamid", "", "required SRT stream id (any if empty)")
	fileFlag := flag.String("file", "", "H.264 Annex B file to send (synthetic frames if empty)")
	fpsFlag := flag.Int("fps", 30, "frames per second")
	framesFlag := flag.Int("frames", 300, "synthetic frames per loop")
	gopFlag := flag.Int("gop", 30, "synthetic keyframe interval")
	loopsFlag := flag.Int("loops", 0, "times to send the stream, 0 for forever")
	dialectFlag := flag.String("dialect", "configure", "configure or codec-data")
	syncFlag := flag.Duration("sync", time.Second, "timestamp sync interval")
	cursorFlag := flag.Bool("cursor", true, "send cursor updates")
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stderr, nil))

	tr, err := transport.ParseTransport(*transportFlag)
	if err != nil {
		fatal(log, err)
	}
	dialect, err := wire.ParseDialect(*dialectFlag)
	if err != nil {
		fatal(log, err)
	}

	src := syntheticSource(*framesFlag, *gopFlag, 2048)
	if *fileFlag != "" {
		data, err := os.ReadFile(*fileFlag)
		if err != nil {
			fatal(log, err)
		}
		if src, err = loadAnnexB(data); err != nil {
			fatal(log, fmt.Errorf("%s: %w", *fileFlag, err))
		}
	}

	var cert *certs.CertInfo
	if tr == transport.QUIC {
		if cert, err = certs.Generate(24 * time.Hour); err != nil {
			fatal(log, err)
		}
		log.Info("certificate generated", "cert_hash", cert.FingerprintBase64())
	}

	ln, err := transport.Listen(transport.Endpoint{Transport: tr, Addr: *addrFlag, StreamID: *streamIDFlag}, cert, log)
	if err != nil {
		fatal(log, err)
	}
	log.Info("listening", "transport", tr, "addr", ln.Addr(), "frames", len(src.frames))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	opts := streamOptions{
		FPS:          *fpsFlag,
		Loops:        *loopsFlag,
		Dialect:      dialect,
		Width:        1280,
		Height:       720,
		SyncInterval: *syncFlag,
		Cursor:       *cursorFlag,
	}

	for {
		w, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, transport.ErrListenerClosed) {
				return
			}
			log.Warn("accept error", "error", err)
			continue
		}
		log.Info("client connected")
		go func() {
			defer w.Close()
			if err := send(ctx, w, src, opts); err != nil && !errors.Is(err, context.Canceled) {
				log.Warn("client gone", "error", err)
				return
			}
			log.Info("stream complete")
		}()
	}
}

func fatal(log *slog.Logger, err error) {
	log.Error("vd-push", "error", err)
	os.Exit(1)
}
