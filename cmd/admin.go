package main

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"skabillium/memoq/cmd/db"
)

type ErrorResponse struct {
	HttpStatusCode int
	Message        string
}

type QueueResponse struct {
	Key    string   `json:"key"`
	Length int      `json:"length"`
	Values []string `json:"values"`
}

func (s *Server) adminRouter() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK\n"))
	})
	r.Handle("/metrics", promhttp.HandlerFor(s.reg, promhttp.HandlerOpts{}))
	r.Route("/debug/queues", func(r chi.Router) {
		r.Get("/{key}", s.getQueueHandler)
	})
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) getQueueHandler(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	s.mtx.Lock()
	kind := s.db.Type(key)
	values, err := s.db.Range(key, 0, -1)
	s.mtx.Unlock()

	switch {
	case kind == "none":
		writeJSON(w, http.StatusNotFound, ErrorResponse{
			HttpStatusCode: http.StatusNotFound,
			Message:        "no queue at key " + key,
		})
	case err == db.ErrWrongType:
		writeJSON(w, http.StatusConflict, ErrorResponse{
			HttpStatusCode: http.StatusConflict,
			Message:        err.Error(),
		})
	case err != nil:
		level.Error(s.logger).Log("msg", "reading queue", "key", key, "err", err)
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{
			HttpStatusCode: http.StatusInternalServerError,
			Message:        err.Error(),
		})
	default:
		writeJSON(w, http.StatusOK, QueueResponse{Key: key, Length: len(values), Values: values})
	}
}
