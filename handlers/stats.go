package handlers

import (
	"net/http"

	"fknsrs.biz/p/catalogfill/internal/catalog"
	"fknsrs.biz/p/catalogfill/internal/ctxconfig"
	"fknsrs.biz/p/catalogfill/internal/ctxdb"
	"fknsrs.biz/p/catalogfill/internal/httputil"
)

func store(r *http.Request) *catalog.Store {
	return catalog.NewStore(ctxdb.GetDB(r.Context()), ctxconfig.PosterHosts(r.Context()))
}

func Stats(rw http.ResponseWriter, r *http.Request) {
	stats, err := store(r).Stats(r.Context())
	if err != nil {
		panic(err)
	}

	httputil.WriteJSON(rw, r, http.StatusOK, stats)
}
