package handlers

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"net/url"

	"github.com/monoculum/formam"

	"fknsrs.biz/p/catalogfill/internal/ctxdb"
	"fknsrs.biz/p/catalogfill/internal/ctxjobqueue"
	"fknsrs.biz/p/catalogfill/internal/httputil"
	"fknsrs.biz/p/catalogfill/internal/queuenames"
	"fknsrs.biz/p/catalogfill/internal/terautil"
)

// Backfill queues one reconcile job per external id or share URL in the
// external_ids form field.
func Backfill(rw http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		httputil.BadRequest(rw, r, "Could not parse form: "+err.Error())
		return
	}

	var input struct {
		ExternalIDs string `formam:"external_ids"`
		Force       bool   `formam:"force"`
	}

	if err := formam.Decode(r.PostForm, &input); err != nil {
		httputil.BadRequest(rw, r, "Could not decode form: "+err.Error())
		return
	}

	ids, err := terautil.ExtractExternalIDs(input.ExternalIDs, false)
	if err != nil {
		httputil.BadRequest(rw, r, "Could not extract IDs from input: "+err.Error())
		return
	}

	if len(ids) == 0 {
		httputil.BadRequest(rw, r, "No IDs found in input")
		return
	}

	var params url.Values
	if input.Force {
		params = url.Values{"force": []string{"1"}}
	}

	var jobIDs []int

	if err := ctxdb.UsingTx(r.Context(), nil, func(ctx context.Context, tx *sql.Tx) error {
		for _, id := range ids {
			job, err := ctxjobqueue.Enqueue(ctx, tx, queuenames.VideoReconcile, id, params)
			if err != nil {
				return fmt.Errorf("could not queue %q: %w", id, err)
			}

			jobIDs = append(jobIDs, job.ID)
		}

		return nil
	}); err != nil {
		panic(err)
	}

	httputil.WriteJSON(rw, r, http.StatusAccepted, map[string]interface{}{
		"external_ids": ids,
		"job_ids":      jobIDs,
		"force":        input.Force,
	})
}
