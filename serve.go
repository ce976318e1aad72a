package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"github.com/urfave/negroni/v2"
	"golang.org/x/sync/errgroup"

	"fknsrs.biz/p/catalogfill/handlers"
	"fknsrs.biz/p/catalogfill/internal/backfill"
	"fknsrs.biz/p/catalogfill/internal/config"
	"fknsrs.biz/p/catalogfill/internal/ctxbackfill"
	"fknsrs.biz/p/catalogfill/internal/ctxclock"
	"fknsrs.biz/p/catalogfill/internal/ctxconfig"
	"fknsrs.biz/p/catalogfill/internal/ctxdb"
	"fknsrs.biz/p/catalogfill/internal/ctxhttpclient"
	"fknsrs.biz/p/catalogfill/internal/ctxjobqueue"
	"fknsrs.biz/p/catalogfill/internal/ctxlogger"
	"fknsrs.biz/p/catalogfill/internal/ctxtimer"
	"fknsrs.biz/p/catalogfill/internal/jobqueue"
	"fknsrs.biz/p/catalogfill/internal/queuenames"
)

func runServe(ctx context.Context, cfg config.Config) error {
	w := jobqueue.NewWorker(nil)

	if err := w.RegisterAll(map[string]jobqueue.WorkerFunction{
		queuenames.VideoReconcile: reconcileJob,
	}); err != nil {
		return fmt.Errorf("runServe: %w", err)
	}

	ctx = ctxjobqueue.WithWorker(ctx, w)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return runApplicationWorker(ctxlogger.WithFields(ctx, logrus.Fields{"worker.name": "application"}), cfg.ApplicationAddr)
	})

	for i := 0; i < cfg.BackgroundWorkers; i++ {
		workerCtx := ctxlogger.WithFields(ctx, logrus.Fields{
			"worker.id":   i + 1,
			"worker.name": fmt.Sprintf("job_queue.%d", i),
		})

		g.Go(func() error {
			return w.Run(workerCtx)
		})
	}

	return g.Wait()
}

// reconcileJob handles one video_reconcile job. The payload is the external
// id, optionally with force=1. Failed records fail the job so it is retried.
func reconcileJob(ctx context.Context, w *jobqueue.Worker, j *jobqueue.Job) (string, error) {
	externalID, params, err := jobqueue.ParsePayload(j.Payload)
	if err != nil {
		return "", err
	}

	p := ctxbackfill.GetPipeline(ctx)
	if p == nil {
		return "", ctxbackfill.ErrNoPipeline
	}

	s, err := p.RunSingle(ctx, externalID, params.Get("force") == "1")
	if err != nil {
		return "", err
	}

	for _, o := range s.Outcomes {
		if o.Kind == backfill.OutcomeFailed {
			return s.String(), fmt.Errorf("%s", o)
		}
	}

	return s.String(), nil
}

func runApplicationWorker(ctx context.Context, addr string) error {
	l := ctxlogger.GetLogger(ctx)

	l.WithFields(logrus.Fields{
		"args.addr": addr,
	}).Info("running application worker")

	m := mux.NewRouter()

	m.Methods(http.MethodGet).Path("/api/stats").HandlerFunc(handlers.Stats)
	m.Methods(http.MethodGet).Path("/api/issues").HandlerFunc(handlers.Issues)
	m.Methods(http.MethodGet).Path("/api/videos/{id}").HandlerFunc(handlers.Video)
	m.Methods(http.MethodPost).Path("/api/backfill").HandlerFunc(handlers.Backfill)
	m.Methods(http.MethodGet).Path("/api/jobs").HandlerFunc(handlers.Jobs)

	n := negroni.New()

	n.Use(negroni.NewRecovery())
	n.UseFunc(ctxlogger.Register(l))
	n.UseFunc(ctxtimer.Register(nil))
	n.UseFunc(ctxclock.Register(ctxclock.GetClock(ctx)))
	n.UseFunc(ctxconfig.Register(ctxconfig.GetConfig(ctx)))
	n.UseFunc(ctxdb.Register(ctxdb.GetDB(ctx)))
	n.UseFunc(ctxhttpclient.Register(ctxhttpclient.GetHTTPClient(ctx)))
	n.UseFunc(ctxjobqueue.Register(ctxjobqueue.GetWorker(ctx)))
	n.UseFunc(ctxbackfill.Register(ctxbackfill.GetPipeline(ctx)))
	n.UseFunc(ctxtimer.AddLoggerHooks())
	n.UseFunc(ctxclock.AddLoggerHooks())
	n.UseFunc(ctxlogger.Log())

	n.UseHandler(m)

	s := &http.Server{
		Addr:              addr,
		Handler:           n,
		ReadHeaderTimeout: time.Second * 10,
		BaseContext:       func(l net.Listener) context.Context { return ctx },
	}

	errs := make(chan error, 1)

	go func() {
		l.Info("starting server")
		errs <- s.ListenAndServe()
	}()

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second*10)
		defer cancel()

		if err := s.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}

		return ctx.Err()
	}
}
