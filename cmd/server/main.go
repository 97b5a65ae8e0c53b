package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"

	"github.com/parley-chat/parley/internal/auth"
	"github.com/parley-chat/parley/internal/broker"
	"github.com/parley-chat/parley/internal/server"
	"github.com/parley-chat/parley/internal/store"
)

func main() {
	cfg := server.NewConfig()

	var (
		logLevel  string
		logFormat string
		seed      bool
		burst     int64
		refillSec int64
	)

	app := &cli.Command{
		Name:  "parley",
		Usage: "Real-time chat delivery server",
		Description: `Parley fans newly created chat messages out to every WebSocket
currently subscribed to their conversation, bridged through Redis pub/sub so
delivery works across multiple server processes.`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "addr",
				Usage:       "listen address",
				Sources:     cli.EnvVars("PARLEY_ADDR"),
				Value:       cfg.Addr,
				Destination: &cfg.Addr,
			},
			&cli.StringSliceFlag{
				Name:        "allowed-origins",
				Usage:       "origins allowed to open WebSocket sessions (\"*\" allows all)",
				Sources:     cli.EnvVars("PARLEY_ALLOWED_ORIGINS"),
				Value:       cfg.AllowedOrigins,
				Destination: &cfg.AllowedOrigins,
			},
			&cli.StringFlag{
				Name:        "redis-url",
				Usage:       "redis URL for cross-process fanout (empty runs the in-process broker)",
				Sources:     cli.EnvVars("PARLEY_REDIS_URL"),
				Destination: &cfg.RedisURL,
			},
			&cli.StringFlag{
				Name:        "jwt-secret",
				Usage:       "HS256 secret for bearer token verification",
				Sources:     cli.EnvVars("PARLEY_JWT_SECRET"),
				Required:    true,
				Destination: &cfg.JWTSecret,
			},
			&cli.Int64Flag{
				Name:        "max-message-size",
				Usage:       "maximum inbound frame size in bytes",
				Sources:     cli.EnvVars("PARLEY_MAX_MESSAGE_SIZE"),
				Value:       cfg.MaxMessageSize,
				Destination: &cfg.MaxMessageSize,
			},
			&cli.Int64Flag{
				Name:        "rate-limit-burst",
				Usage:       "frames a session may send in one burst",
				Sources:     cli.EnvVars("PARLEY_RATE_LIMIT_BURST"),
				Value:       int64(cfg.RateLimit.Burst),
				Destination: &burst,
			},
			&cli.Int64Flag{
				Name:        "rate-limit-refill-seconds",
				Usage:       "seconds to refill one burst of rate limit tokens",
				Sources:     cli.EnvVars("PARLEY_RATE_LIMIT_REFILL_INTERVAL"),
				Value:       int64(cfg.RateLimit.RefillInterval / time.Second),
				Destination: &refillSec,
			},
			&cli.BoolFlag{
				Name:        "seed",
				Usage:       "seed demo users and a conversation, logging their tokens (dev only)",
				Sources:     cli.EnvVars("PARLEY_SEED"),
				Destination: &seed,
			},
			&cli.StringFlag{
				Name:        "log-level",
				Usage:       "log level (debug, info, warn, error)",
				Sources:     cli.EnvVars("PARLEY_LOG_LEVEL"),
				Value:       "info",
				Destination: &logLevel,
			},
			&cli.StringFlag{
				Name:        "log-format",
				Usage:       "log format (console, json)",
				Sources:     cli.EnvVars("PARLEY_LOG_FORMAT"),
				Value:       "console",
				Destination: &logFormat,
			},
		},
		Action: func(ctx context.Context, _ *cli.Command) error {
			if err := setupLogger(logLevel, logFormat); err != nil {
				return err
			}
			cfg.RateLimit.Burst = int(burst)
			cfg.RateLimit.RefillInterval = time.Duration(refillSec) * time.Second
			return run(ctx, *cfg, seed)
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		log.Fatal().Err(err).Msg("server failed")
	}
}

func run(ctx context.Context, cfg server.Config, seed bool) error {
	b, closeBroker, err := buildBroker(ctx, cfg.RedisURL)
	if err != nil {
		return err
	}
	defer closeBroker()

	messages := store.NewMessages()
	directory := store.NewDirectory()
	if seed {
		seedDirectory(directory, cfg.JWTSecret)
	}

	srv := server.New(cfg, server.Deps{
		Broker:    b,
		Store:     messages,
		Directory: directory,
		Verifier:  auth.NewVerifier(cfg.JWTSecret),
		Logger:    log.Logger,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	signalCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		return err
	case <-signalCtx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func buildBroker(ctx context.Context, redisURL string) (broker.Broker, func(), error) {
	if redisURL == "" {
		log.Info().Msg("no redis URL configured, using in-process broker")
		mem := broker.NewMemory()
		return mem, func() { _ = mem.Close() }, nil
	}

	rb, err := broker.DialRedis(ctx, redisURL, log.Logger)
	if err != nil {
		return nil, nil, fmt.Errorf("connect broker: %w", err)
	}
	return rb, func() { _ = rb.Close() }, nil
}

// seedDirectory creates two demo accounts sharing one conversation and logs
// ready-to-use bearer tokens for each.
func seedDirectory(directory *store.Directory, secret string) {
	alice := uuid.New()
	bob := uuid.New()
	conversation := uuid.New()

	directory.AddUser(alice, true)
	directory.AddUser(bob, true)
	directory.AddConversation(conversation, alice, bob)

	for name, id := range map[string]uuid.UUID{"alice": alice, "bob": bob} {
		token, err := auth.Mint(secret, id, 24*time.Hour)
		if err != nil {
			log.Error().Err(err).Str("user", name).Msg("failed to mint seed token")
			continue
		}
		log.Info().
			Str("user", name).
			Str("conversation_id", conversation.String()).
			Str("token", token).
			Msg("seeded demo account")
	}
}

func setupLogger(level, format string) error {
	parsedLevel, err := zerolog.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("failed to parse log level: %w", err)
	}

	var output io.Writer = zerolog.ConsoleWriter{Out: os.Stderr}
	if format == "json" {
		output = os.Stderr
	}

	log.Logger = log.Output(output).Level(parsedLevel)
	return nil
}
