package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"recorder-agent/capture"
	"recorder-agent/config"
	"recorder-agent/constant"
	"recorder-agent/remote"
	"recorder-agent/repository"
	"recorder-agent/session"
	"recorder-agent/uploader"
)

func RunAgent(cfg *config.Config) {
	ctx, cancel := signal.NotifyContext(setupLogger(cfg), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.Ctx(ctx).Info().Str("env", cfg.App.Environment).Bool("isProduction", cfg.App.Environment == constant.EnvironmentProduction.String()).Send()
	if cfg.App.Environment == constant.EnvironmentProduction.String() {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DatabasePath), 0o755); err != nil {
		zerolog.Ctx(ctx).Fatal().Err(err).Msg("failed to create database directory")
	}
	repo, err := repository.NewRepo(cfg.DatabasePath)
	if err != nil {
		zerolog.Ctx(ctx).Fatal().Err(err).Msg("failed to open local database")
	}

	failOverOrphans(ctx, repo)

	supervisor := capture.NewSupervisor(cfg.Capture)
	store := uploader.NewMinioStore(cfg)
	if err := store.EnsureBucket(ctx); err != nil {
		// Recording works without storage; queued tasks will retry once the
		// endpoint is reachable again.
		zerolog.Ctx(ctx).Error().Err(err).Msg("object storage unavailable at startup")
	}
	notifier := uploader.NewNotifier(cfg.Webhook, repo)
	pipeline := uploader.NewPipeline(cfg, repo, store, notifier, uploader.FFmpegThumbnailer(cfg.Capture.FFmpegPath))

	machine := session.NewMachine(cfg.Session, cfg.Capture, repo, supervisor, pipeline)
	supervisor.SetCrashHandler(machine.NotifyCrash)

	watchdog := session.NewWatchdog(cfg.Session, machine)
	channel := remote.NewChannel(cfg.Remote, cfg.App.Hostname, repo, machine)
	machine.AddListener(channel.OnSessionStopped)

	go pipeline.ResumePending(ctx)
	go pipeline.Run(ctx)
	go notifier.ResendLoop(ctx)
	go watchdog.Run(ctx)
	go channel.Run(ctx)

	r := gin.Default()
	addHealth(r, machine)
	newAPI(machine, pipeline, repo).register(r)

	handler := http.Server{
		Handler:           r,
		Addr:              fmt.Sprintf(":%s", cfg.Server.HttpPort),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		zerolog.Ctx(ctx).Info().Str("env", cfg.App.Environment).Msg("start http server")
		if err := handler.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zerolog.Ctx(ctx).Error().Str("env", cfg.App.Environment).Msg(err.Error())
		}
	}()

	<-ctx.Done()
	zerolog.Ctx(ctx).Info().Msg("shutting down agent")

	// Stop any in-progress recording so the capture unit finalizes output
	// before the process exits.
	stopCtx := zerolog.Ctx(ctx).WithContext(context.Background())
	if _, err := machine.Stop(stopCtx, constant.StopReasonManual); err != nil && !errors.Is(err, session.ErrNoActiveSession) {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to stop recording during shutdown")
	}

	if err := handler.Shutdown(stopCtx); err != nil {
		zerolog.Ctx(ctx).Error().Str("env", cfg.App.Environment).Msg(err.Error())
	}

	zerolog.Ctx(ctx).Info().Str("env", cfg.App.Environment).Msg("agent shutdown")
}

// failOverOrphans marks sessions left recording or stopping by a previous
// run as failed. Their subprocesses died with the old process, so the rows
// describe recordings that can no longer complete.
func failOverOrphans(ctx context.Context, repo repository.Repository) {
	orphans, err := repo.ActiveSessions(ctx)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to scan for orphaned sessions")
		return
	}

	now := time.Now()
	for _, sess := range orphans {
		sess.Status = constant.SessionStatusFailed
		sess.StopReason = constant.StopReasonError
		if sess.StoppedAt == nil {
			sess.StoppedAt = &now
		}
		if sess.StartedAt != nil {
			sess.ActualDuration = int(sess.StoppedAt.Sub(*sess.StartedAt).Seconds())
		}
		if err := repo.SaveSession(ctx, sess); err != nil {
			zerolog.Ctx(ctx).Error().Err(err).Str("session_id", sess.ID.String()).Msg("failed to fail over orphaned session")
			continue
		}
		zerolog.Ctx(ctx).Warn().
			Str("session_id", sess.ID.String()).
			Msg("orphaned session from previous run marked failed")
	}
}

func addHealth(r *gin.Engine, machine *session.Machine) {
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":           "ok",
			"recording_active": machine.Snapshot().RecordingActive,
		})
	})
}

func setupLogger(cfg *config.Config) context.Context {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if cfg.App.Environment == constant.EnvironmentDevelop.String() {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	// Log to standard output
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	ctx := logger.WithContext(context.Background())

	return ctx
}
