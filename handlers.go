package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"example.com/pdf-fusion/internal/fusion"
	"example.com/pdf-fusion/internal/merge"
	apperrors "example.com/pdf-fusion/pkg/errors"
	"example.com/pdf-fusion/pkg/health"
	"example.com/pdf-fusion/pkg/logger"
	"example.com/pdf-fusion/pkg/metrics"
	"example.com/pdf-fusion/pkg/middleware"
)

const serviceName = "fusion-pdf"

// merger is the part of fusion.Service the handlers use.
type merger interface {
	Merge(ctx context.Context, req *merge.Request) (*fusion.Output, error)
}

type server struct {
	svc     merger
	health  *health.Checker
	metrics *metrics.Metrics
	maxBody int64
}

// routes wires the endpoints behind the request id, logging and metrics
// middleware.
func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", handleIndex)
	mux.HandleFunc("GET /fusion-pdf", handleFusionHint)
	mux.HandleFunc("POST /fusion-pdf", s.handleFusion)
	mux.Handle("GET /healthz/live", s.health.LiveHandler())
	mux.Handle("GET /healthz/ready", s.health.ReadyHandler())
	if s.metrics != nil {
		mux.Handle("GET /metrics", metrics.Handler())
	}
	return middleware.RequestID(middleware.Logging(middleware.Metrics(s.metrics)(mux)))
}

func handleIndex(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "service": serviceName})
}

func handleFusionHint(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "hint": "Use POST /fusion-pdf with JSON body"})
}

func (s *server) handleFusion(w http.ResponseWriter, r *http.Request) {
	if s.maxBody > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxBody)
	}
	var in fusionPayload
	if err := json.NewDecoder(bufio.NewReader(r.Body)).Decode(&in); err != nil {
		status, msg := http.StatusBadRequest, "bad request: "+err.Error()
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			status, msg = http.StatusRequestEntityTooLarge, "request body too large"
		}
		writeJSON(w, status, errorBody{Error: msg, Kind: "validation", RequestID: logger.RequestID(r.Context())})
		return
	}

	out, err := s.svc.Merge(r.Context(), in.request())
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer out.Body.Close()

	h := w.Header()
	h.Set("Content-Type", "application/pdf")
	h.Set("Content-Disposition", contentDisposition(out.Filename))
	h.Set("Content-Length", strconv.FormatInt(out.Size, 10))
	h.Set("X-Merge-Pages", strconv.Itoa(out.Pages))
	if out.Cached {
		h.Set("X-Merge-Cache", "hit")
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, out.Body); err != nil {
		logger.FromContext(r.Context()).Warn("streaming merged document aborted", "error", err)
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	body := errorBody{
		Error:     err.Error(),
		Kind:      apperrors.Kind(err),
		RequestID: logger.RequestID(r.Context()),
	}
	var se *merge.SourceError
	if errors.As(err, &se) {
		body.Source = &sourceRef{Index: se.Index, Supplier: se.Supplier, URL: se.URL}
	}
	writeJSON(w, apperrors.HTTPStatusCode(err), body)
}
