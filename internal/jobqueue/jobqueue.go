package jobqueue

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"
	"time"

	"fknsrs.biz/p/sorm"

	"fknsrs.biz/p/catalogfill/internal/sqltypes"
)

func init() {
	sorm.SetParameterPrefix("?")
}

const Schema = `create table if not exists backfill_jobs (
  id integer primary key autoincrement,
  created_at datetime not null,
  queue_name text not null,
  payload text not null,
  run_after datetime not null,
  failure_delay integer not null default 0,
  attempts_remaining integer not null default 0,
  reserved_at datetime,
  reserved_until datetime,
  finished_at datetime,
  error_messages text not null default '[]',
  output_messages text not null default '[]'
);
create index if not exists backfill_jobs_pending on backfill_jobs (queue_name, finished_at, run_after);`

func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("jobqueue.Migrate: %w", err)
	}

	return nil
}

func ParsePayload(s string) (string, url.Values, error) {
	if !strings.Contains(s, "?") {
		return s, url.Values{}, nil
	}

	a := strings.SplitN(s, "?", 2)

	m, err := url.ParseQuery(a[1])
	if err != nil {
		return a[0], url.Values{}, err
	}

	return a[0], m, nil
}

func FormatPayload(s string, m url.Values) string {
	if m == nil {
		return s
	}

	return s + "?" + m.Encode()
}

const (
	DefaultFailureDelay      = time.Second * 30
	DefaultAttemptsRemaining = 3
)

// job definition

type Job struct {
	ID                int `sql:",table:backfill_jobs"`
	CreatedAt         time.Time
	QueueName         string
	Payload           string
	RunAfter          time.Time
	FailureDelay      time.Duration
	AttemptsRemaining int
	ReservedAt        *time.Time
	ReservedUntil     *time.Time
	FinishedAt        *time.Time
	ErrorMessages     sqltypes.JSONStringSlice
	OutputMessages    sqltypes.JSONStringSlice
}

func (j *Job) OverrideScan(names []string, scanners []sql.Scanner) error {
	for i, name := range names {
		switch name {
		case "CreatedAt":
			scanners[i] = &sqltypes.TimeScanner{Value: &j.CreatedAt}
		case "RunAfter":
			scanners[i] = &sqltypes.TimeScanner{Value: &j.RunAfter}
		case "ReservedAt":
			scanners[i] = &sqltypes.TimePointerScanner{Value: &j.ReservedAt}
		case "ReservedUntil":
			scanners[i] = &sqltypes.TimePointerScanner{Value: &j.ReservedUntil}
		case "FinishedAt":
			scanners[i] = &sqltypes.TimePointerScanner{Value: &j.FinishedAt}
		}
	}

	return nil
}

func (j *Job) LastError() string {
	for i := len(j.ErrorMessages) - 1; i >= 0; i-- {
		if j.ErrorMessages[i] != "" {
			return j.ErrorMessages[i]
		}
	}

	return ""
}

func ListUnfinished(ctx context.Context, db sorm.Querier, limit int) ([]Job, error) {
	if limit <= 0 {
		limit = 500
	}

	var jobs []Job
	if err := sorm.FindWhere(ctx, db, &jobs, "where finished_at is null order by id desc limit ?1", limit); err != nil {
		return nil, fmt.Errorf("jobqueue.ListUnfinished: %w", err)
	}

	return jobs, nil
}

func findNext(ctx context.Context, db sorm.Querier, queueNames []string, now time.Time) (*Job, error) {
	var parameters []interface{}
	var placeholders []string

	for i := range queueNames {
		parameters = append(parameters, queueNames[i])
		placeholders = append(placeholders, fmt.Sprintf("?%d", i+1))
	}

	parameters = append(parameters, now)

	query := fmt.Sprintf(
		"where queue_name in (%s) and run_after < ?%d and (reserved_until is null or reserved_until < ?%d) and finished_at is null order by run_after asc",
		strings.Join(placeholders, ", "),
		len(parameters),
		len(parameters),
	)

	var job Job
	if err := sorm.FindFirstWhere(ctx, db, &job, query, parameters...); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}

		return nil, fmt.Errorf("jobqueue.findNext: could not find pending job record: %w", err)
	}

	return &job, nil
}

func reserve(ctx context.Context, tx *sql.Tx, job *Job, now time.Time, reserveDuration time.Duration) error {
	if job.ReservedUntil != nil && job.ReservedUntil.After(now) {
		return fmt.Errorf("jobqueue.reserve: can't reserve a job with a non-expired reservation")
	}
	if job.FinishedAt != nil {
		return fmt.Errorf("jobqueue.reserve: can't reserve a job that has already finished")
	}

	if reserveDuration == 0 {
		reserveDuration = time.Minute * 5
	}

	reservedUntil := now.Add(reserveDuration)
	job.ReservedAt = &now
	job.ReservedUntil = &reservedUntil

	if err := sorm.SaveRecord(ctx, tx, job); err != nil {
		return fmt.Errorf("jobqueue.reserve: could not save job record: %w", err)
	}

	return nil
}

func findNextAndReserve(ctx context.Context, tx *sql.Tx, queueNames []string, now time.Time, reserveDuration time.Duration) (*Job, error) {
	j, err := findNext(ctx, tx, queueNames, now)
	if err != nil {
		return nil, fmt.Errorf("jobqueue.findNextAndReserve: could not find next job: %w", err)
	}

	if j == nil {
		return nil, nil
	}

	if err := reserve(ctx, tx, j, now, reserveDuration); err != nil {
		return nil, fmt.Errorf("jobqueue.findNextAndReserve: could not reserve job: %w", err)
	}

	return j, nil
}

func finish(ctx context.Context, tx *sql.Tx, job *Job, now time.Time, errorMessage, outputMessage string) error {
	if job.FinishedAt != nil {
		return fmt.Errorf("jobqueue.finish: can't finish a job that has already finished")
	}

	job.FinishedAt = &now
	job.ErrorMessages = append(job.ErrorMessages, errorMessage)
	job.OutputMessages = append(job.OutputMessages, outputMessage)

	if errorMessage != "" && job.AttemptsRemaining > 0 {
		job.AttemptsRemaining--
		job.RunAfter = now.Add(job.FailureDelay)
		job.ReservedAt = nil
		job.ReservedUntil = nil
		job.FinishedAt = nil
	}

	if err := sorm.SaveRecord(ctx, tx, job); err != nil {
		return fmt.Errorf("jobqueue.finish: could not save job record: %w", err)
	}

	return nil
}
