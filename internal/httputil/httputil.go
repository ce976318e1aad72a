package httputil

import (
	"encoding/json"
	"net/http"

	"fknsrs.biz/p/catalogfill/internal/ctxlogger"
)

func WriteJSON(rw http.ResponseWriter, r *http.Request, status int, v interface{}) {
	rw.Header().Set("content-type", "application/json; charset=utf-8")
	rw.WriteHeader(status)

	if err := json.NewEncoder(rw).Encode(v); err != nil {
		ctxlogger.GetLogger(r.Context()).WithError(err).Warn("httputil.WriteJSON: could not write response")
	}
}

func WriteError(rw http.ResponseWriter, r *http.Request, status int, message string) {
	WriteJSON(rw, r, status, map[string]string{"error": message})
}

func NotFound(rw http.ResponseWriter, r *http.Request) {
	WriteError(rw, r, http.StatusNotFound, "Not found")
}

func BadRequest(rw http.ResponseWriter, r *http.Request, message string) {
	WriteError(rw, r, http.StatusBadRequest, message)
}
