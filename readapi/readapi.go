// Copyright 2016 Google LLC. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package readapi serves the dashboard-facing read-only JSON surface over
// the monitor's Store: the active log list, a single log's record, and
// aggregate counts. It holds no transactions across a response boundary —
// every handler does exactly one Store call.
package readapi

import (
	"context"
	"encoding/hex"
	"errors"
	"net/http"

	"github.com/ctlogwatch/monitor/store"
)

// Store is the subset of *store.Store the Read API needs.
type Store interface {
	ListActiveLogSummaries(ctx context.Context) ([]store.LogSummary, error)
	GetLog(ctx context.Context, logID store.LogID) (store.Log, error)
	Stats(ctx context.Context) (store.Stats, error)
}

// Handler serves the three read-only endpoints over st.
type Handler struct {
	st Store
}

// NewHandler returns a Handler backed by st.
func NewHandler(st Store) *Handler {
	return &Handler{st: st}
}

// Mux builds the http.Handler exposing /api/ctlogs, /api/log/, and
// /api/stats. Every response carries Access-Control-Allow-Origin: * so a
// separately-hosted dashboard can fetch it directly.
func (h *Handler) Mux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/ctlogs", h.handleListActiveLogs)
	mux.HandleFunc("GET /api/log/{id}", h.handleGetLog)
	mux.HandleFunc("GET /api/stats", h.handleStats)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		mux.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if v != nil {
		_ = jsonEncode(w, v)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(err.Error()))
}

func (h *Handler) handleListActiveLogs(w http.ResponseWriter, r *http.Request) {
	summaries, err := h.st.ListActiveLogSummaries(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	out := make([]ctlogEntry, len(summaries))
	for i, s := range summaries {
		out[i] = toCTLogEntry(s)
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleGetLog(w http.ResponseWriter, r *http.Request) {
	idHex := r.PathValue("id")
	raw, err := hex.DecodeString(idHex)
	if err != nil || len(raw) != 32 {
		writeError(w, http.StatusBadRequest, errors.New("readapi: log id must be 32 bytes of hex"))
		return
	}
	var logID store.LogID
	copy(logID[:], raw)

	l, err := h.st.GetLog(r.Context(), logID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, toLogRecord(l))
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.st.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, statsResponse{
		ActiveLogs: stats.ActiveLogs,
		TotalLogs:  stats.TotalLogs,
	})
}
