package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"matrimony-chat/config"
	"matrimony-chat/controllers"
	"matrimony-chat/logger"
	"matrimony-chat/models"
	"matrimony-chat/routes"
	"matrimony-chat/services"
)

var version = "0.1.0"

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "matrimony-chat",
	Short: "Real-time chat client daemon for the matrimony platform",
	Long: `matrimony-chat keeps one user's live chat state in sync with the platform.

It holds the live connection, the conversation list, open message histories,
typing signals and unread counters, and serves them to a local UI over HTTP
and a relay websocket.

Examples:
  matrimony-chat serve
  matrimony-chat serve --user 64f0c2
  matrimony-chat watch --user 64f0c2`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var (
	serveUser string
	watchUser string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the local view API and event relay",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context(), serveUser)
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Connect as a user and print every live event",
	RunE: func(cmd *cobra.Command, args []string) error {
		if watchUser == "" {
			return errors.New("--user is required")
		}
		return runWatch(cmd.Context(), watchUser)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveUser, "user", "", "Log in as this user id on startup")
	watchCmd.Flags().StringVar(&watchUser, "user", "", "User id to connect as")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(watchCmd)
}

// setup loads configuration and builds the shared pieces both commands need.
func setup() (*config.Config, zerolog.Logger, *services.Manager, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, zerolog.Nop(), nil, err
	}
	log, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, zerolog.Nop(), nil, err
	}

	var store services.SnapshotStore
	if cfg.CacheDSN != "" {
		db, err := config.InitDB(cfg.CacheDSN)
		if err != nil {
			return nil, log, nil, err
		}
		store = services.NewGormStore(db)
		log.Info().Msg("snapshot cache enabled")
	}

	api := services.NewChatClient(cfg.APIBaseURL, cfg.RequestTimeout, log)
	clientCfg := services.ClientConfig{
		Session: services.SessionConfig{
			URL:                  cfg.WSURL,
			MaxReconnectAttempts: cfg.MaxReconnectAttempts,
			ReconnectDelay:       cfg.ReconnectDelay,
			PingInterval:         cfg.PingInterval,
			WriteTimeout:         cfg.WriteTimeout,
		},
		PageSize:             cfg.PageSize,
		TypingIdle:           cfg.TypingIdle,
		TypingInboundTTL:     cfg.TypingInboundTTL,
		UnreadResyncInterval: cfg.UnreadResyncInterval,
	}
	manager := services.NewManager(func(identity string) *services.Client {
		return services.NewClient(identity, clientCfg, api, store, log)
	}, log)

	return cfg, log, manager, nil
}

func runServe(ctx context.Context, user string) error {
	cfg, log, manager, err := setup()
	if err != nil {
		return err
	}
	defer manager.Close()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	relay := controllers.NewRelay(cfg.PingInterval, cfg.WriteTimeout, log)
	go relay.Start()
	defer relay.Stop()
	manager.OnChange(relay.Attach)

	if user != "" {
		if _, err := manager.SetIdentity(ctx, user); err != nil {
			log.Warn().Err(err).Str("user_id", user).Msg("initial login incomplete")
		}
	}

	ctl := controllers.NewController(manager, relay, cfg.AllowedOrigins, log)
	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           routes.RegisterRoutes(ctl, manager, cfg.AllowedOrigins, log),
		ReadHeaderTimeout: 10 * time.Second,
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		log.Info().Str("addr", cfg.ListenAddr).Msg("view API listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve view API: %w", err)
		}
		return nil
	})
	eg.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		log.Info().Msg("shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return eg.Wait()
}

func runWatch(ctx context.Context, user string) error {
	_, log, manager, err := setup()
	if err != nil {
		return err
	}
	defer manager.Close()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := manager.SetIdentity(ctx, user)
	if client == nil {
		return err
	}
	if err != nil {
		log.Warn().Err(err).Msg("conversation list unavailable")
	}

	out := zerolog.New(os.Stdout).With().Timestamp().Logger()
	unsubscribe := client.Bus().Subscribe(func(ev models.Event) {
		e := out.Info().Str("type", string(ev.Type))
		if len(ev.Data) > 0 {
			e = e.RawJSON("data", ev.Data)
		}
		e.Msg("event")
	})
	defer unsubscribe()
	offState := client.Session().OnStateChange(func(s models.ConnectionStatus) {
		out.Info().Str("state", string(s.State)).Int("attempts", s.ReconnectAttempts).Msg("connection")
	})
	defer offState()

	log.Info().Int("conversations", len(client.Directory().Conversations())).
		Int("unread", client.Unread().Count()).
		Msg("watching; press Ctrl+C to stop")
	<-ctx.Done()
	return nil
}
