package reclaimarr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"runtime/debug"
	"strconv"
	"sync"
	"time"

	"github.com/sirrobot01/reclaimarr/internal/config"
	"github.com/sirrobot01/reclaimarr/internal/logger"
	"github.com/sirrobot01/reclaimarr/pkg/arr"
	"github.com/sirrobot01/reclaimarr/pkg/correlate"
	"github.com/sirrobot01/reclaimarr/pkg/debrid/realdebrid"
	debridtypes "github.com/sirrobot01/reclaimarr/pkg/debrid/types"
	"github.com/sirrobot01/reclaimarr/pkg/events"
	"github.com/sirrobot01/reclaimarr/pkg/failure"
	"github.com/sirrobot01/reclaimarr/pkg/rategate"
	"github.com/sirrobot01/reclaimarr/pkg/scheduler"
	"github.com/sirrobot01/reclaimarr/pkg/server"
	"github.com/sirrobot01/reclaimarr/pkg/store"
	"github.com/sirrobot01/reclaimarr/pkg/symlink"
	"github.com/sirrobot01/reclaimarr/pkg/validator"
	"github.com/sirrobot01/reclaimarr/pkg/version"
	"github.com/sirrobot01/reclaimarr/pkg/web"
	"github.com/sirrobot01/reclaimarr/pkg/worker"
)

// Start wires every component together and runs until the context is
// cancelled.
func Start(ctx context.Context, configPath string) error {
	if umaskStr := os.Getenv("UMASK"); umaskStr != "" {
		umask, err := strconv.ParseInt(umaskStr, 8, 32)
		if err != nil {
			return fmt.Errorf("invalid UMASK value: %s", umaskStr)
		}
		SetUmask(int(umask))
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := logger.Init(cfg.Path, cfg.LogLevel); err != nil {
		return err
	}
	_log := logger.Default()

	fmt.Printf(`
+-------------------------------------------------------+
|                                                       |
|  ╦═╗╔═╗╔═╗╦  ╔═╗╦╔╦╗╔═╗╦═╗╦═╗                         |
|  ╠╦╝║╣ ║  ║  ╠═╣║║║║╠═╣╠╦╝╠╦╝ (%s)       |
|  ╩╚═╚═╝╚═╝╩═╝╩ ╩╩╩ ╩╩ ╩╩╚═╩╚═                         |
|                                                       |
+-------------------------------------------------------+
|  Log Level: %s                                        |
+-------------------------------------------------------+
`, version.GetInfo(), cfg.LogLevel)

	if cfg.IsDryRun() {
		_log.Info().Msg("Dry run enabled, no remote submissions or local deletions will happen")
	}

	st, err := store.Open(cfg.DatabasePath, logger.New("store"))
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			_log.Error().Err(err).Msg("Error closing store")
		}
	}()

	gate := rategate.New(rategate.Options{
		MaxCalls:       cfg.Gate.MaxCalls,
		Window:         time.Duration(cfg.Gate.WindowSeconds) * time.Second,
		AcquireTimeout: time.Duration(cfg.Gate.AcquireTimeout) * time.Second,
		Logger:         logger.New("rategate"),
	})
	client := realdebrid.New(cfg.Provider, gate, cfg.MaxConcurrentTorrents)

	hold := time.Duration(cfg.RetryHoldHours) * time.Hour
	hub := events.NewHub(logger.New("events"))
	defer hub.Shutdown()

	walker := symlink.NewWalker(symlink.Options{
		Root:      cfg.MediaRoot,
		StatePath: cfg.SymlinkStateFile(),
		Workers:   cfg.Symlinks.Workers,
		Refresh:   time.Duration(cfg.Symlinks.RefreshHours) * time.Hour,
		Logger:    logger.New("symlink"),
	})
	correlator := correlate.New(st, cfg.Matching.PromoteThreshold, logger.New("correlate"))
	notifier := arr.NewNotifier(cfg.Arrs, gate, cfg.IsDryRun(), logger.New("arr"))
	vdtor := validator.New(logger.New("validator"))

	failures := failure.New(failure.Options{
		Store:    st,
		Notifier: notifier,
		Denylist: vdtor,
		ScheduleRetry: func(ctx context.Context, t store.Torrent, errType, errMsg string) error {
			now := time.Now().UTC()
			return st.ScheduleRetry(ctx, store.RetryEntry{
				TorrentID:       t.ID,
				Filename:        t.Filename,
				ErrorType:       errType,
				ErrorMessage:    errMsg,
				OriginalFailure: now,
				ScheduledRetry:  now.Add(hold),
			})
		},
		CleanupThreshold: cfg.Matching.CleanupThreshold,
		DryRun:           cfg.IsDryRun(),
		Logger:           logger.New("failure"),
	})

	reinjector := worker.NewReinjector(worker.ReinjectorOptions{
		Store:       st,
		Provider:    client,
		Validator:   vdtor,
		Failures:    failures,
		Hub:         hub,
		DryRun:      cfg.IsDryRun(),
		MaxAttempts: cfg.MaxRetryAttempts,
		Hold:        hold,
		Logger:      logger.New("reinject"),
	})
	cleanup := worker.NewCleanup(worker.CleanupOptions{
		Store:      st,
		Reinjector: reinjector,
		MaxRetries: cfg.MaxRetryAttempts,
		Hold:       hold,
		Logger:     logger.New("cleanup"),
	})
	tester := worker.NewTester(worker.TesterOptions{
		Store:      st,
		Reinjector: reinjector,
		BatchSize:  cfg.Symlinks.BatchSize,
		Logger:     logger.New("tester"),
	})

	sched := scheduler.New(scheduler.Options{
		Config:     cfg,
		Store:      st,
		Catalog:    client,
		Reinjector: reinjector,
		Cleanup:    cleanup,
		Tester:     tester,
		Walker:     walker,
		Correlator: correlator,
		Validator:  vdtor,
		Gate:       gate,
		Hub:        hub,
		Logger:     logger.New("scheduler"),
	})

	ui := web.New(web.Options{
		Config:     cfg,
		Store:      st,
		Scanner:    sched,
		Reinjector: reinjector,
		Gate:       gate,
		Hub:        hub,
		Logger:     logger.New("web"),
	})
	srv := server.New(cfg, map[string]http.Handler{
		"/": ui.Routes(),
	})

	// token check before the pipeline starts; a rejected token keeps the
	// control plane up but pauses everything provider-bound
	pipelineOK := true
	if user, err := client.GetUser(ctx); err != nil {
		if errors.Is(err, debridtypes.AuthFailureError) {
			_log.Error().Err(err).Msg("Provider rejected the API token, re-submission is paused until the config is fixed")
			pipelineOK = false
		} else {
			_log.Warn().Err(err).Msg("Provider account check failed, continuing anyway")
		}
	} else {
		_log.Info().Str("username", user.Username).Str("type", user.Type).Msg("Provider account verified")
	}

	return startServices(ctx, srv, sched, pipelineOK)
}

func startServices(ctx context.Context, srv *server.Server, sched *scheduler.Scheduler, pipelineOK bool) error {
	var wg sync.WaitGroup
	errChan := make(chan error)

	_log := logger.Default()

	safeGo := func(f func() error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					stack := debug.Stack()
					_log.Error().
						Interface("panic", r).
						Str("stack", string(stack)).
						Msg("Recovered from panic in goroutine")
					errChan <- fmt.Errorf("panic: %v", r)
				}
			}()
			if err := f(); err != nil {
				errChan <- err
			}
		}()
	}

	svcCtx, cancelSvc := context.WithCancel(ctx)
	defer cancelSvc()

	safeGo(func() error {
		return srv.Start(svcCtx)
	})
	if pipelineOK {
		safeGo(func() error {
			return sched.Start(svcCtx)
		})
	}

	go func() {
		wg.Wait()
		close(errChan)
	}()

	go func() {
		for err := range errChan {
			if err != nil {
				_log.Error().Err(err).Msg("Service error detected")
				if svcCtx.Err() == nil {
					_log.Error().Msg("Stopping services due to error")
					cancelSvc()
				}
			}
		}
	}()

	<-svcCtx.Done()
	wg.Wait()
	return nil
}
