package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Mutter0815/DripMailer/internal/bulk"
	"github.com/Mutter0815/DripMailer/internal/engine"
	"github.com/Mutter0815/DripMailer/internal/mailer"
	"github.com/Mutter0815/DripMailer/internal/sched"
	"github.com/Mutter0815/DripMailer/internal/store"
	"github.com/Mutter0815/DripMailer/pkg/config"
	"github.com/Mutter0815/DripMailer/pkg/db"
	"github.com/Mutter0815/DripMailer/pkg/logx"
	"github.com/Mutter0815/DripMailer/pkg/rmq"
	"github.com/Mutter0815/DripMailer/services/engine-api/server"
)

func main() {
	logx.Init()
	defer logx.Sync()

	config.MustLoadAPI()
	cfg := config.API

	sqlDB, err := db.Open(cfg.DBDSN)
	if err != nil {
		logx.L().Fatalw("db_open_error", "error", err)
	}
	defer func() {
		if err := sqlDB.Close(); err != nil {
			logx.L().Warnw("db_close_error", "error", err)
		}
	}()

	st := store.New(sqlDB)

	var events *rmq.Publisher
	if cfg.RMQURL != "" {
		events, err = rmq.NewPublisher(cfg.RMQURL, cfg.EventsQueue)
		if err != nil {
			logx.L().Fatalw("rmq_init_error", "error", err)
		}
		defer func() {
			if err := events.Close(); err != nil {
				logx.L().Warnw("rmq_close_error", "error", err)
			}
		}()
	} else {
		logx.L().Infow("outcome_events_disabled")
	}

	scheduler := sched.New()
	defer scheduler.Stop()

	resolver := &mailer.Resolver{Accounts: st, Default: cfg.SMTP}

	eng := engine.New(st, scheduler, resolver, events)
	worker := bulk.NewWorker(st, resolver, events, bulk.WorkerConfig{
		RatePerMinute: cfg.RatePerMin,
		BaseURL:       cfg.BaseURL,
	})
	dispatcher := bulk.NewDispatcher(st, worker, scheduler)

	// Timers do not survive restarts; rebuild them from the store.
	bootCtx, bootCancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := eng.Recover(bootCtx); err != nil {
		logx.L().Fatalw("execution_recovery_error", "error", err)
	}
	if err := dispatcher.Recover(bootCtx); err != nil {
		logx.L().Fatalw("job_recovery_error", "error", err)
	}
	bootCancel()

	h := server.NewHandlers(eng, dispatcher)
	srv := server.NewHTTPServer(":"+cfg.Port, h)

	go func() {
		logx.L().Infow("api_listen_start", "addr", ":"+cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logx.L().Fatalw("http_server_error", "error", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	sig := <-stop
	logx.L().Infow("signal_received", "signal", sig.String())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logx.L().Errorw("server_shutdown_error", "error", err)
	} else {
		logx.L().Infow("server_shutdown_success")
	}
}
