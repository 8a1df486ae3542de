package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/noirelle/Nozorin-sub001/internal/config"
	"github.com/noirelle/Nozorin-sub001/internal/history"
	"github.com/noirelle/Nozorin-sub001/internal/httpapi"
	"github.com/noirelle/Nozorin-sub001/internal/identity"
	"github.com/noirelle/Nozorin-sub001/internal/match"
	"github.com/noirelle/Nozorin-sub001/internal/media"
	"github.com/noirelle/Nozorin-sub001/internal/reconnect"
	"github.com/noirelle/Nozorin-sub001/internal/rtc"
	"github.com/noirelle/Nozorin-sub001/internal/session"
	"github.com/noirelle/Nozorin-sub001/internal/signaling"
)

const redialWait = 2 * time.Second

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	// Human-friendly output for terminal; in production you may want JSON only.
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	store, err := history.Open(cfg.HistoryDB)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open history store")
	}
	defer store.Close()

	ident := identity.NewProvider(cfg.APIURL+"/auth/refresh", cfg.JWTSecret, cfg.AuthToken)
	channel := signaling.NewChannel(cfg.SignalURL)
	queue := match.NewQueueClient(cfg.APIURL, ident)
	probe := reconnect.NewHTTPProbe(cfg.APIURL, ident)
	device := media.NewCapture()

	coord := rtc.NewCoordinator(channel, device, rtc.NewPionFactory(rtc.DefaultWebRTCConfig()), cfg.QualityInterval)

	ctl := match.NewController(channel, queue, ident, match.Config{
		Mode:            "voice",
		JoinTimeout:     cfg.JoinTimeout,
		DesyncRetryWait: cfg.DesyncRetryWait,
		SkipDebounce:    cfg.SkipDebounce,
	})

	superv := reconnect.NewSupervisor(channel, probe, store, reconnect.Config{
		MaxAttempts:    cfg.RejoinAttempts,
		RetryInterval:  cfg.RejoinInterval,
		IndicatorFloor: cfg.IndicatorFloor,
		StaleThreshold: cfg.StaleThreshold,
	})

	orch := session.NewOrchestrator(channel, ctl, coord, superv, device, store, session.Config{
		RequeueDelay:   cfg.RequeueDelay,
		CancelledDelay: cfg.CancelledDelay,
	})
	ctl.Bind()
	superv.Bind()

	// A dropped transport mid-session is redialed; the cached active
	// call is replayed through the supervisor's bootstrap path.
	channel.OnDisconnect(func() {
		go func() {
			if !connect(ctx, channel, ident, cfg) {
				return
			}
			if rctx, ok, err := store.LoadActiveCall(cfg.StaleThreshold); err == nil && ok {
				superv.Bootstrap(*rctx)
			}
		}()
	})

	if !connect(ctx, channel, ident, cfg) {
		log.Fatal().Msg("could not reach signaling service")
	}
	orch.Start(ctx)

	r := httpapi.SetupRouter(cfg, orch)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("agent control API started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	orch.Stop(context.Background())
	channel.Close()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Agent exited gracefully")
}

// connect dials the signaling channel and identifies, retrying until
// the context is cancelled.
func connect(ctx context.Context, channel *signaling.Channel, ident *identity.Provider, cfg *config.Config) bool {
	for {
		if err := dialAndIdentify(ctx, channel, ident); err == nil {
			return true
		} else {
			log.Warn().Err(err).Msg("signaling connect failed, retrying")
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(redialWait):
		}
	}
}

func dialAndIdentify(ctx context.Context, channel *signaling.Channel, ident *identity.Provider) error {
	if err := channel.Dial(ctx); err != nil {
		return err
	}
	userID, err := ident.UserID()
	if err != nil {
		return err
	}
	idCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return channel.Identify(idCtx, string(userID))
}
