package serverrun

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/socratat-b/orderbean/internal/auth"
	"github.com/socratat-b/orderbean/internal/broker"
	"github.com/socratat-b/orderbean/internal/broker/pebblebroker"
	"github.com/socratat-b/orderbean/internal/broker/redisbroker"
	"github.com/socratat-b/orderbean/internal/bus"
	cfgpkg "github.com/socratat-b/orderbean/internal/config"
	"github.com/socratat-b/orderbean/internal/publisher"
	httpserver "github.com/socratat-b/orderbean/internal/server/http"
	"github.com/socratat-b/orderbean/internal/session"
	pebblestore "github.com/socratat-b/orderbean/internal/storage/pebble"
)

// Options carries the resolved configuration into Run.
type Options struct {
	Config cfgpkg.Config
	Logger zerolog.Logger
}

// Run starts the HTTP server and blocks until ctx is cancelled. The channel
// and broker topology is fixed at startup from the configuration.
func Run(ctx context.Context, opts Options) error {
	// layer a local signal context over the provided one so callers that
	// don't pass a signal-aware context still get clean shutdown
	sctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := opts.Config
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger := opts.Logger

	b := bus.New(logger)
	defer b.Close()

	var brokerClient broker.Client
	var channel session.Channel
	switch cfg.ChannelMode {
	case cfgpkg.ChannelBroker:
		var err error
		brokerClient, err = openBroker(cfg, logger)
		if err != nil {
			return err
		}
		defer brokerClient.Close()
		channel = &session.BrokerChannel{
			Client:       brokerClient,
			PollInterval: cfg.PollInterval(),
			ReadBlock:    cfg.ReadBlock(),
			Logger:       logger,
		}
	default:
		channel = &session.BusChannel{Bus: b}
	}

	pub := publisher.New(publisher.Options{
		Bus:          b,
		Broker:       brokerClient,
		StreamMaxLen: cfg.StreamMaxLen,
	}, logger)

	resolver := auth.NewTokenMap(principals(cfg))
	if len(cfg.Tokens) == 0 {
		logger.Warn().Msg("no tokens configured, every request will be unauthorized")
	}

	srv := httpserver.New(httpserver.Options{
		Publisher:         pub,
		Channel:           channel,
		Auth:              resolver,
		KeepaliveInterval: cfg.KeepaliveInterval(),
		Logger:            logger,
	})

	logger.Info().
		Str("http", cfg.HTTPAddr).
		Str("channel", cfg.ChannelMode).
		Str("broker", cfg.BrokerBackend).
		Int64("stream_max_len", cfg.StreamMaxLen).
		Msg("starting orderbean server")

	err := srv.ListenAndServe(sctx, cfg.HTTPAddr)
	srv.Close()
	return err
}

func openBroker(cfg cfgpkg.Config, logger zerolog.Logger) (broker.Client, error) {
	switch cfg.BrokerBackend {
	case cfgpkg.BrokerRedis:
		c := redisbroker.New(redisbroker.Options{Addr: cfg.RedisAddr}, logger)
		pctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := c.Ping(pctx); err != nil {
			_ = c.Close()
			return nil, err
		}
		return c, nil
	case cfgpkg.BrokerEmbedded:
		mode, err := fsyncMode(cfg.Fsync)
		if err != nil {
			return nil, err
		}
		return pebblebroker.Open(pebblebroker.Options{
			DataDir: filepath.Join(cfg.DataDir, "streams"),
			Fsync:   mode,
		}, logger)
	default:
		return nil, fmt.Errorf("unknown broker backend %q", cfg.BrokerBackend)
	}
}

func fsyncMode(s string) (pebblestore.FsyncMode, error) {
	switch s {
	case "", "always":
		return pebblestore.FsyncModeAlways, nil
	case "interval":
		return pebblestore.FsyncModeInterval, nil
	case "never":
		return pebblestore.FsyncModeNever, nil
	default:
		return 0, fmt.Errorf("invalid fsync mode %q; use always|interval|never", s)
	}
}

func principals(cfg cfgpkg.Config) map[string]auth.Principal {
	out := make(map[string]auth.Principal, len(cfg.Tokens))
	for token, p := range cfg.Tokens {
		out[token] = auth.Principal{UserID: p.UserID, Role: auth.Role(p.Role)}
	}
	return out
}
