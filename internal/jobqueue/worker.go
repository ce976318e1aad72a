package jobqueue

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"fknsrs.biz/p/sorm"
	"github.com/sirupsen/logrus"

	"fknsrs.biz/p/catalogfill/internal/catchpanic"
	"fknsrs.biz/p/catalogfill/internal/ctxclock"
	"fknsrs.biz/p/catalogfill/internal/ctxdb"
	"fknsrs.biz/p/catalogfill/internal/ctxlogger"
	"fknsrs.biz/p/catalogfill/internal/sqltypes"
)

// worker

var (
	ErrWorkerExists       = fmt.Errorf("worker already exists")
	ErrWorkerDoesNotExist = fmt.Errorf("worker does not exist")
	ErrNoPendingJobs      = fmt.Errorf("no pending jobs")
)

type WorkerFunction func(ctx context.Context, w *Worker, j *Job) (string, error)

type Worker struct {
	l  sync.RWMutex
	ch chan struct{}
	m  map[string]WorkerFunction
}

func NewWorker(workerFunctions map[string]WorkerFunction) *Worker {
	if workerFunctions == nil {
		workerFunctions = make(map[string]WorkerFunction)
	}

	return &Worker{
		ch: make(chan struct{}, 100),
		m:  workerFunctions,
	}
}

func (w *Worker) failIfAnyDoNotExist(queueNames []string) error {
	var a []string

	for _, queueName := range queueNames {
		if _, ok := w.m[queueName]; !ok {
			a = append(a, queueName)
		}
	}

	if len(a) > 0 {
		return fmt.Errorf("jobqueue.Worker.failIfAnyDoNotExist: worker(s) do not exist: %v: %w", a, ErrWorkerDoesNotExist)
	}

	return nil
}

func (w *Worker) failIfAnyExist(queueNames []string) error {
	var a []string

	for _, queueName := range queueNames {
		if _, ok := w.m[queueName]; ok {
			a = append(a, queueName)
		}
	}

	if len(a) > 0 {
		return fmt.Errorf("jobqueue.Worker.failIfAnyExist: worker(s) already exist: %v: %w", a, ErrWorkerExists)
	}

	return nil
}

func (w *Worker) Add(ctx context.Context, tx *sql.Tx, job *Job) error {
	w.l.RLock()
	if err := w.failIfAnyDoNotExist([]string{job.QueueName}); err != nil {
		w.l.RUnlock()
		return fmt.Errorf("jobqueue.Worker.Add: %w", err)
	}
	w.l.RUnlock()

	now := ctxclock.NowOrReal(ctx).UTC()

	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	if job.RunAfter.IsZero() {
		job.RunAfter = now
	}
	job.CreatedAt = job.CreatedAt.UTC()
	job.RunAfter = job.RunAfter.UTC()
	if job.FailureDelay == 0 {
		job.FailureDelay = DefaultFailureDelay
	}
	if job.AttemptsRemaining == 0 {
		job.AttemptsRemaining = DefaultAttemptsRemaining
	}

	if err := sorm.CreateRecord(ctx, tx, job); err != nil {
		return fmt.Errorf("jobqueue.Worker.Add: could not create job record: %w", err)
	}

	w.Trigger(ctx)

	return nil
}

func (w *Worker) Trigger(ctx context.Context) {
	select {
	case w.ch <- struct{}{}:
	default:
	}
}

func (w *Worker) Register(queueName string, workerFunction WorkerFunction) error {
	w.l.RLock()
	if err := w.failIfAnyExist([]string{queueName}); err != nil {
		w.l.RUnlock()
		return fmt.Errorf("jobqueue.Worker.Register: %w", err)
	}
	w.l.RUnlock()

	w.l.Lock()
	defer w.l.Unlock()

	if err := w.failIfAnyExist([]string{queueName}); err != nil {
		return fmt.Errorf("jobqueue.Worker.Register: %w", err)
	}

	w.m[queueName] = workerFunction

	return nil
}

func (w *Worker) RegisterAll(workers map[string]WorkerFunction) error {
	var queueNames []string
	for queueName := range workers {
		queueNames = append(queueNames, queueName)
	}

	w.l.RLock()
	if err := w.failIfAnyExist(queueNames); err != nil {
		w.l.RUnlock()
		return fmt.Errorf("jobqueue.Worker.RegisterAll: %w", err)
	}
	w.l.RUnlock()

	w.l.Lock()
	defer w.l.Unlock()

	if err := w.failIfAnyExist(queueNames); err != nil {
		return fmt.Errorf("jobqueue.Worker.RegisterAll: %w", err)
	}

	for queueName, workerFunc := range workers {
		w.m[queueName] = workerFunc
	}

	return nil
}

func (w *Worker) GetQueueNames() []string {
	w.l.RLock()
	defer w.l.RUnlock()

	var queueNames []string

	for k := range w.m {
		queueNames = append(queueNames, k)
	}

	return queueNames
}

func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	db := ctxdb.GetDB(ctx)
	if db == nil {
		return false, fmt.Errorf("jobqueue.Worker.RunOnce: %w", ctxdb.ErrNoDB)
	}

	var job *Job
	if err := ctxdb.RetryBusy(ctx, 25, func() error {
		return ctxdb.UsingTxOn(ctx, db, nil, func(ctx context.Context, tx *sql.Tx) error {
			j, err := findNextAndReserve(ctx, tx, w.GetQueueNames(), ctxclock.NowOrReal(ctx).UTC(), time.Minute*5)
			job = j
			return err
		})
	}); err != nil {
		return false, fmt.Errorf("jobqueue.Worker.RunOnce: could not find/reserve job: %w", err)
	}

	if job == nil {
		return false, ErrNoPendingJobs
	}

	l := ctxlogger.GetLogger(ctx).WithFields(logrus.Fields{
		"job.queue_name": job.QueueName,
		"job.id":         job.ID,
		"job.payload":    job.Payload,
	})

	l.Info("found pending job, running function")

	w.l.RLock()
	workerFunction, ok := w.m[job.QueueName]
	w.l.RUnlock()
	if !ok {
		return false, fmt.Errorf("jobqueue.Worker.RunOnce: worker function not set for queue: %s", job.QueueName)
	}

	var errorMessage string
	outputMessage, err := catchpanic.CatchErr1(func() (string, error) { return workerFunction(ctxlogger.WithLogger(ctx, l), w, job) })
	if err != nil {
		errorMessage = err.Error()
	}

	l.WithFields(logrus.Fields{"job.error_message": errorMessage, "job.output_message": outputMessage}).Info("finished job")

	if err := ctxdb.RetryBusy(ctx, 25, func() error {
		return ctxdb.UsingTxOn(ctx, db, nil, func(ctx context.Context, tx *sql.Tx) error {
			j := *job
			j.ErrorMessages = append(sqltypes.JSONStringSlice(nil), job.ErrorMessages...)
			j.OutputMessages = append(sqltypes.JSONStringSlice(nil), job.OutputMessages...)
			return finish(ctx, tx, &j, ctxclock.NowOrReal(ctx).UTC(), errorMessage, outputMessage)
		})
	}); err != nil {
		return false, fmt.Errorf("jobqueue.Worker.RunOnce: could not finish job: %w", err)
	}

	return true, nil
}

func (w *Worker) Run(ctx context.Context) error {
	delay := time.Second * 5

	w.Trigger(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		case <-w.ch:
		}

		didRunJob, err := w.RunOnce(ctx)
		switch {
		case err != nil && err != ErrNoPendingJobs:
			ctxlogger.GetLogger(ctx).WithError(err).Error("could not run job")
			delay = time.Second * 30
		case didRunJob:
			delay = 0
		default:
			delay = time.Second * 30
		}
	}
}
