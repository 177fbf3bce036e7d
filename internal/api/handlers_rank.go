package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/dgallion1/docrank/internal/instruction"
	"github.com/dgallion1/docrank/internal/logger"
	"github.com/dgallion1/docrank/internal/pipeline"
	"github.com/dgallion1/docrank/internal/result"
)

// requestSource names instructions that arrive over HTTP. It doubles as the
// test case name when the record carries none.
const requestSource = "request.json"

func (s *Server) handleRank(w http.ResponseWriter, r *http.Request) {
	data, ok := s.readBody(w, r, s.cfg.MaxUploadBytes)
	if !ok {
		return
	}

	in, err := instruction.Parse(data, requestSource)
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	run, err := s.orchestrator.Submit(in)
	if err != nil {
		jsonError(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	writeJSON(w, http.StatusAccepted, submitted(run))
}

func (s *Server) handleBatchRank(w http.ResponseWriter, r *http.Request) {
	data, ok := s.readBody(w, r, s.cfg.MaxUploadBytes*10)
	if !ok {
		return
	}

	var req struct {
		Instructions []json.RawMessage `json:"instructions"`
	}
	if err := json.Unmarshal(data, &req); err != nil {
		jsonError(w, "invalid batch body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if len(req.Instructions) == 0 {
		jsonError(w, "at least one instruction is required", http.StatusBadRequest)
		return
	}

	results := make([]map[string]any, 0, len(req.Instructions))
	for i, raw := range req.Instructions {
		in, err := instruction.Parse(raw, fmt.Sprintf("request_%d.json", i+1))
		if err != nil {
			results = append(results, map[string]any{"index": i, "error": err.Error()})
			continue
		}
		run, err := s.orchestrator.Submit(in)
		if err != nil {
			results = append(results, map[string]any{"index": i, "error": err.Error()})
			continue
		}
		entry := submitted(run)
		entry["index"] = i
		results = append(results, entry)
	}

	writeJSON(w, http.StatusAccepted, map[string]any{"runs": results})
}

func (s *Server) handleRankStatus(w http.ResponseWriter, r *http.Request) {
	run := s.orchestrator.GetRun(chi.URLParam(r, "runID"))
	if run == nil {
		jsonError(w, "run not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, run.Snapshot())
}

func (s *Server) handleRankResult(w http.ResponseWriter, r *http.Request) {
	run := s.orchestrator.GetRun(chi.URLParam(r, "runID"))
	if run == nil {
		jsonError(w, "run not found", http.StatusNotFound)
		return
	}

	snap := run.Snapshot()
	switch {
	case snap.Status == pipeline.StatusFailed:
		jsonError(w, "run failed: "+snap.Error, http.StatusUnprocessableEntity)
		return
	case !snap.Status.Done():
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":  "run not finished",
			"status": snap.Status,
		})
		return
	}

	data, err := result.Marshal(run.Output())
	if err != nil {
		logger.FromContext(r.Context()).Error("marshal result failed", zap.String("run_id", snap.ID), zap.Error(err))
		jsonError(w, "failed to encode result", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

func (s *Server) handleEmbeddingStats(w http.ResponseWriter, r *http.Request) {
	if s.stats == nil {
		jsonError(w, "embedding stats unavailable", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"stats":       s.stats.Stats(),
		"queue_depth": s.orchestrator.QueueDepth(),
	})
}

// readBody reads at most limit bytes of the request body, replying with an
// error and returning false when that fails.
func (s *Server) readBody(w http.ResponseWriter, r *http.Request, limit int64) ([]byte, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	data, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			jsonError(w, fmt.Sprintf("body exceeds max size (%d bytes)", limit), http.StatusRequestEntityTooLarge)
			return nil, false
		}
		jsonError(w, "failed to read body", http.StatusBadRequest)
		return nil, false
	}
	return data, true
}

func submitted(run *pipeline.Run) map[string]any {
	snap := run.Snapshot()
	return map[string]any{
		"run_id":         snap.ID,
		"test_case_name": snap.TestCaseName,
		"status":         snap.Status,
		"poll_url":       fmt.Sprintf("/api/rank/%s/status", snap.ID),
		"result_url":     fmt.Sprintf("/api/rank/%s/result", snap.ID),
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	writeJSON(w, code, map[string]string{"error": msg})
}
