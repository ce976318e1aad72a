package handlers

import (
	"net/http"
	"time"

	"fknsrs.biz/p/catalogfill/internal/ctxdb"
	"fknsrs.biz/p/catalogfill/internal/httputil"
	"fknsrs.biz/p/catalogfill/internal/jobqueue"
)

type jobView struct {
	ID                int        `json:"id"`
	QueueName         string     `json:"queue_name"`
	Payload           string     `json:"payload"`
	CreatedAt         time.Time  `json:"created_at"`
	RunAfter          time.Time  `json:"run_after"`
	AttemptsRemaining int        `json:"attempts_remaining"`
	ReservedUntil     *time.Time `json:"reserved_until,omitempty"`
	LastError         string     `json:"last_error,omitempty"`
}

func Jobs(rw http.ResponseWriter, r *http.Request) {
	jobs, err := jobqueue.ListUnfinished(r.Context(), ctxdb.GetDB(r.Context()), 500)
	if err != nil {
		panic(err)
	}

	views := make([]jobView, len(jobs))
	for i, j := range jobs {
		views[i] = jobView{
			ID:                j.ID,
			QueueName:         j.QueueName,
			Payload:           j.Payload,
			CreatedAt:         j.CreatedAt,
			RunAfter:          j.RunAfter,
			AttemptsRemaining: j.AttemptsRemaining,
			ReservedUntil:     j.ReservedUntil,
			LastError:         j.LastError(),
		}
	}

	httputil.WriteJSON(rw, r, http.StatusOK, views)
}
