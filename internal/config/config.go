// Package config loads vdclient settings from an optional YAML file and
// the environment. Environment variables win over the file.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/zsiec/vdclient/internal/decoder"
	"github.com/zsiec/vdclient/internal/decoder/loopback"
	"github.com/zsiec/vdclient/internal/transport"
	"github.com/zsiec/vdclient/internal/wire"
)

// Config is the complete client configuration.
type Config struct {
	Addr        string        `yaml:"addr"`
	Transport   string        `yaml:"transport"` // tcp, srt, quic, ws
	DialTimeout time.Duration `yaml:"dial_timeout"`
	CertHash    string        `yaml:"cert_hash"` // QUIC only
	SRTStreamID string        `yaml:"srt_stream_id"`

	// APIAddr is the debug API listen address. Empty disables it.
	APIAddr string `yaml:"api_addr"`

	Codec   string `yaml:"codec"`   // h264, h265
	Dialect string `yaml:"dialect"` // configure, codec-data

	// Used when a codec-data packet carries no dimensions and the SPS
	// cannot be parsed.
	Width  int `yaml:"width"`
	Height int `yaml:"height"`

	Decoder DecoderConfig `yaml:"decoder"`
	Buffers BufferConfig  `yaml:"buffers"`

	LogLevel string `yaml:"log_level"` // debug, info, warn, error
}

// DecoderConfig configures the loopback decoder.
type DecoderConfig struct {
	Slots       int           `yaml:"slots"`
	SlotSize    int           `yaml:"slot_size"`
	DecodeDelay time.Duration `yaml:"decode_delay"`
	Record      string        `yaml:"record"` // Annex B output path
}

// BufferConfig sizes the reader's video buffer pool.
type BufferConfig struct {
	Video     int `yaml:"video"`
	VideoSize int `yaml:"video_size"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Addr:        "127.0.0.1:7000",
		Transport:   string(transport.TCP),
		DialTimeout: transport.DefaultDialTimeout,
		APIAddr:     "127.0.0.1:7001",
		Codec:       string(decoder.H264),
		Dialect:     wire.DialectConfigure.String(),
		Width:       1920,
		Height:      1080,
		Decoder: DecoderConfig{
			Slots:    loopback.DefaultSlots,
			SlotSize: loopback.DefaultSlotSize,
		},
		Buffers: BufferConfig{
			Video:     transport.DefaultVideoBuffers,
			VideoSize: transport.DefaultVideoBufferSize,
		},
		LogLevel: "info",
	}
}

// Load returns Default overlaid with the YAML file at path (skipped when
// path is empty) and then the environment. The result is validated.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(os.Getenv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	envOr := func(key, fallback string) string {
		if v := getenv(key); v != "" {
			return v
		}
		return fallback
	}
	envInt := func(key string, fallback int) (int, error) {
		v := getenv(key)
		if v == "" {
			return fallback, nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("config: %s: %w", key, err)
		}
		return n, nil
	}

	c.Addr = envOr("VD_ADDR", c.Addr)
	c.Transport = envOr("VD_TRANSPORT", c.Transport)
	c.APIAddr = envOr("VD_API_ADDR", c.APIAddr)
	c.Codec = envOr("VD_CODEC", c.Codec)
	c.Dialect = envOr("VD_DIALECT", c.Dialect)
	c.Decoder.Record = envOr("VD_RECORD", c.Decoder.Record)
	c.CertHash = envOr("VD_CERT_HASH", c.CertHash)
	c.SRTStreamID = envOr("VD_SRT_STREAM_ID", c.SRTStreamID)
	if getenv("DEBUG") != "" {
		c.LogLevel = "debug"
	}

	var err error
	if c.Width, err = envInt("VD_WIDTH", c.Width); err != nil {
		return err
	}
	if c.Height, err = envInt("VD_HEIGHT", c.Height); err != nil {
		return err
	}
	if c.Decoder.Slots, err = envInt("VD_SLOTS", c.Decoder.Slots); err != nil {
		return err
	}
	return nil
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if c.Addr == "" {
		return errors.New("addr is required")
	}
	if _, err := transport.ParseTransport(c.Transport); err != nil {
		return err
	}
	if _, err := decoder.ParseCodecKind(c.Codec); err != nil {
		return err
	}
	if _, err := wire.ParseDialect(c.Dialect); err != nil {
		return err
	}
	if c.Width <= 0 || c.Height <= 0 {
		return fmt.Errorf("fallback resolution %dx%d must be positive", c.Width, c.Height)
	}
	if c.Decoder.Slots <= 0 {
		return fmt.Errorf("decoder slots must be positive, got %d", c.Decoder.Slots)
	}
	if c.Decoder.SlotSize < 0 || c.Buffers.Video < 0 || c.Buffers.VideoSize < 0 {
		return errors.New("buffer sizes must not be negative")
	}
	if c.DialTimeout < 0 || c.Decoder.DecodeDelay < 0 {
		return errors.New("durations must not be negative")
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}

// Endpoint returns the transport endpoint. Call after Validate.
func (c Config) Endpoint() transport.Endpoint {
	t, _ := transport.ParseTransport(c.Transport)
	return transport.Endpoint{
		Transport:   t,
		Addr:        c.Addr,
		StreamID:    c.SRTStreamID,
		CertHash:    c.CertHash,
		DialTimeout: c.DialTimeout,
	}
}

// ReaderOptions returns the frame reader settings. Call after Validate.
func (c Config) ReaderOptions() transport.ReaderOptions {
	d, _ := wire.ParseDialect(c.Dialect)
	return transport.ReaderOptions{
		Dialect:         d,
		VideoBuffers:    c.Buffers.Video,
		VideoBufferSize: c.Buffers.VideoSize,
	}
}

// CodecKind returns the configured codec. Call after Validate.
func (c Config) CodecKind() decoder.CodecKind {
	k, _ := decoder.ParseCodecKind(c.Codec)
	return k
}

// Level returns LogLevel as a slog level. Empty means Info.
func (c Config) Level() (slog.Level, error) {
	var l slog.Level
	if c.LogLevel == "" {
		return slog.LevelInfo, nil
	}
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("log_level: %w", err)
	}
	return l, nil
}
