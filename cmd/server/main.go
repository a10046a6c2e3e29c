package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bananalabs-oss/retro/internal/config"
	"github.com/bananalabs-oss/retro/internal/credential"
	"github.com/bananalabs-oss/retro/internal/database"
	"github.com/bananalabs-oss/retro/internal/logging"
	"github.com/bananalabs-oss/retro/internal/realtime"
	"github.com/bananalabs-oss/retro/internal/retro"
	"github.com/bananalabs-oss/retro/internal/router"
	"github.com/bananalabs-oss/retro/internal/store"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	gin.SetMode(gin.ReleaseMode)

	logger.Info().
		Str("addr", cfg.Addr()).
		Str("database", cfg.DatabaseDisplay()).
		Bool("discussion_edits", cfg.Policy.AllowDiscussionEdits).
		Bool("remove_on_disconnect", cfg.Policy.RemoveOnDisconnect).
		Str("on_empty_room", cfg.Policy.Retention.String()).
		Msg("starting retro")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	if err := database.Migrate(ctx, db); err != nil {
		logger.Fatal().Err(err).Msg("failed to run migrations")
	}

	hub := realtime.NewHub(logger)
	hasher := credential.NewArgon2idHasher(cfg.Argon2Iterations, cfg.Argon2Memory, cfg.Argon2Parallelism)
	coord := retro.New(store.New(db), hasher, hub, cfg.Policy, logger)

	ws := realtime.NewHandler(coord, hub, realtime.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		RateLimit:      rate.Limit(cfg.WSRateLimit),
		RateBurst:      cfg.WSRateBurst,
	}, logger)

	srv := &http.Server{
		Addr: cfg.Addr(),
		Handler: router.Setup(router.Deps{
			Rooms:          coord,
			Realtime:       ws,
			ServiceToken:   cfg.ServiceToken,
			AllowedOrigins: cfg.AllowedOrigins,
			Logger:         logger,
		}),
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info().Str("addr", srv.Addr).Msg("retro listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		coord.RunJanitor(gctx, cfg.SweepInterval)
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down retro")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("server stopped with error")
		os.Exit(1)
	}

	logger.Info().Msg("retro stopped")
}
