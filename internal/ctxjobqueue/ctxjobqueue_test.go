package ctxjobqueue

import (
	"context"
	"database/sql"
	"errors"
	"net/url"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"

	"fknsrs.biz/p/catalogfill/internal/ctxdb"
	"fknsrs.biz/p/catalogfill/internal/jobqueue"
)

func TestEnqueue(t *testing.T) {
	a := assert.New(t)

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	db.SetMaxOpenConns(1)

	ctx := context.Background()
	if err := jobqueue.Migrate(ctx, db); err != nil {
		t.Fatal(err)
	}

	w := jobqueue.NewWorker(map[string]jobqueue.WorkerFunction{
		"video_reconcile": func(ctx context.Context, w *jobqueue.Worker, j *jobqueue.Job) (string, error) {
			return "", nil
		},
	})

	var job *jobqueue.Job
	err = ctxdb.UsingTxOn(WithWorker(ctx, w), db, nil, func(ctx context.Context, tx *sql.Tx) error {
		var err error
		job, err = Enqueue(ctx, tx, "video_reconcile", "1abcde", url.Values{"force": []string{"1"}})
		return err
	})
	a.NoError(err)

	if a.NotNil(job) {
		a.NotZero(job.ID)
		a.Equal("1abcde?force=1", job.Payload)
	}

	jobs, err := jobqueue.ListUnfinished(ctx, db, 10)
	a.NoError(err)
	a.Len(jobs, 1)
}

func TestEnqueueWithoutWorker(t *testing.T) {
	a := assert.New(t)

	_, err := Enqueue(context.Background(), nil, "video_reconcile", "1abcde", nil)
	a.True(errors.Is(err, ErrNoWorker))
}
