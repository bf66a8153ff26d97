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
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/marekhoryna/janus-client/internal/adapters/dial"
	router "github.com/marekhoryna/janus-client/internal/adapters/http"
	"github.com/marekhoryna/janus-client/internal/adapters/longpoll"
	"github.com/marekhoryna/janus-client/internal/adapters/rtc"
	"github.com/marekhoryna/janus-client/internal/app/session"
	"github.com/marekhoryna/janus-client/internal/config"
	"github.com/marekhoryna/janus-client/internal/domain"
	"github.com/marekhoryna/janus-client/internal/plugins/streaming"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	flags := config.NewFlagSet(os.Args[0])
	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		log.Fatal().Err(err).Msg("bad flags")
	}

	cfg, src, err := config.Load(afero.NewOsFs(), flags)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	zerolog.SetGlobalLevel(cfg.LogLevel)
	src.WatchLogLevel(zerolog.SetGlobalLevel)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg); err != nil {
		log.Error().Err(err).Msg("janus-client stopped")
		os.Exit(1)
	}
	log.Info().Msg("janus-client exited gracefully")
}

func run(ctx context.Context, cfg *config.Config) error {
	rc := rtc.Config{ICEServers: cfg.ICEServers, IPv6: cfg.IPv6}
	if cfg.RecordDir != "" {
		rc.Record = &rtc.Recording{Fs: afero.NewOsFs(), Dir: cfg.RecordDir}
	}
	media, err := rtc.NewFactory(rc)
	if err != nil {
		return fmt.Errorf("media engine: %w", err)
	}

	lost := make(chan error, 1)
	s, err := session.Create(ctx, session.Options{
		Servers:              cfg.Servers,
		Token:                cfg.Token,
		APISecret:            cfg.APISecret,
		KeepalivePeriod:      cfg.KeepalivePeriod,
		MaxKeepaliveFailures: cfg.MaxKeepaliveFailures,
		TransactionTimeout:   cfg.TransactionTimeout,
		DisableTrickle:       !cfg.Trickle,
		Dialer:               dial.New(dial.Options{LongPoll: longpoll.Options{MaxEvents: cfg.MaxPollEvents, MaxFailures: cfg.MaxKeepaliveFailures}}),
		MediaFactory:         media,
		Callbacks: session.Callbacks{
			Error: func(err error) {
				select {
				case lost <- err:
				default:
				}
			},
		},
	})
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	defer func() {
		dctx, dcancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer dcancel()
		_ = s.Destroy(dctx, session.DestroyOptions{})
	}()

	streams, err := streaming.Attach(ctx, s, session.HandleCallbacks{
		OnRemoteStream: func(t domain.Track) {
			log.Info().Str("module", "cmd").Str("kind", string(t.Kind)).Str("track_id", t.ID).Msg("remote track")
		},
		WebRTCState: func(up bool, reason string) {
			log.Info().Str("module", "cmd").Bool("up", up).Str("reason", reason).Msg("PeerConnection state")
		},
	})
	if err != nil {
		return fmt.Errorf("attach streaming: %w", err)
	}
	if cfg.Watch != "" {
		if err := watch(ctx, streams, cfg.Watch); err != nil {
			return err
		}
	}

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: router.Handler(router.SetupRouter(router.NewController(s, streams), cfg.Mode), nil),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", srv.Addr).Msg("control API started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		select {
		case err := <-lost:
			return fmt.Errorf("session lost: %w", err)
		case <-gctx.Done():
			return nil
		}
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func watch(ctx context.Context, streams *streaming.Client, id string) error {
	if _, err := streams.Watch(ctx, id); err != nil {
		return fmt.Errorf("watch mountpoint %s: %w", id, err)
	}
	status, err := streams.Start(ctx, domain.RecvOnly())
	if err != nil {
		return fmt.Errorf("start mountpoint %s: %w", id, err)
	}
	log.Info().Str("module", "cmd").Str("mountpoint", id).Str("status", status).Msg("watching")
	return nil
}
