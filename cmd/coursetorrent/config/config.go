// Package config reads the command line client settings from COURSETORRENT_*
// environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/go-viper/mapstructure/v2"
	"go.uber.org/zap/zapcore"

	"github.com/mcheviron/coursetorrent/cmd/coursetorrent/torrent"
	"github.com/mcheviron/coursetorrent/cmd/coursetorrent/tracker"
)

const envPrefix = "COURSETORRENT_"

type Config struct {
	StorePath       string            `mapstructure:"store_path"`
	Timeout         time.Duration     `mapstructure:"timeout"`
	RateLimit       float64           `mapstructure:"rate_limit"`
	Burst           int               `mapstructure:"burst"`
	MaxResponseSize datasize.ByteSize `mapstructure:"max_response_size"`
	Port            int               `mapstructure:"port"`
	PeerIDSeed      string            `mapstructure:"peer_id_seed"`
	LogLevel        zapcore.Level     `mapstructure:"log_level"`
}

func Default() Config {
	return Config{
		StorePath:       "coursetorrent.db",
		Timeout:         10 * time.Second,
		Burst:           1,
		MaxResponseSize: datasize.MB,
		Port:            torrent.DefaultPort,
		PeerIDSeed:      torrent.DefaultPeerIDSeed,
		LogLevel:        zapcore.InfoLevel,
	}
}

// Load overlays the COURSETORRENT_* entries of environ, in os.Environ form, on
// the defaults. COURSETORRENT_MAX_RESPONSE_SIZE=2MB sets MaxResponseSize.
// Unknown variables with the prefix are an error.
func Load(environ []string) (*Config, error) {
	values := make(map[string]any)
	for _, entry := range environ {
		name, value, ok := strings.Cut(entry, "=")
		if !ok || !strings.HasPrefix(name, envPrefix) {
			continue
		}
		values[strings.ToLower(strings.TrimPrefix(name, envPrefix))] = value
	}

	cfg := Default()
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.TextUnmarshallerHookFunc(),
		),
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           &cfg,
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(values); err != nil {
		return nil, fmt.Errorf("invalid %s configuration: %w", envPrefix+"*", err)
	}

	if cfg.Port < 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("port %d out of range", cfg.Port)
	}
	if cfg.StorePath == "" {
		return nil, fmt.Errorf("store path must not be empty")
	}
	return &cfg, nil
}

func (c *Config) HTTPOptions() tracker.HTTPOptions {
	return tracker.HTTPOptions{
		Timeout:         c.Timeout,
		RateLimit:       c.RateLimit,
		Burst:           c.Burst,
		MaxResponseSize: c.MaxResponseSize,
	}
}

func (c *Config) ClientOptions() []torrent.Option {
	return []torrent.Option{
		torrent.WithPort(c.Port),
		torrent.WithPeerIDSeed(c.PeerIDSeed),
	}
}
