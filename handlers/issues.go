package handlers

import (
	"net/http"

	"fknsrs.biz/p/catalogfill/internal/ctxbackfill"
	"fknsrs.biz/p/catalogfill/internal/httputil"
)

// Issues reports records with missing or suspect metadata. It never writes;
// repairs go through POST /api/backfill.
func Issues(rw http.ResponseWriter, r *http.Request) {
	report, err := ctxbackfill.Verify(r.Context(), false)
	if err != nil {
		panic(err)
	}

	httputil.WriteJSON(rw, r, http.StatusOK, report)
}
