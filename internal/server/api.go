package server

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/bytedance/sonic"

	"github.com/sjawhar/voice-journal/internal/session"
	"github.com/sjawhar/voice-journal/internal/storage"
)

// Session is the part of session.Controller the HTTP surface drives.
type Session interface {
	Trigger() (string, error)
	History() []session.Entry
	Status() session.Status
	LatestSpeech() (string, bool)
	EndSession(reason string) error
}

type RunStore interface {
	GetRuns(limit int) ([]storage.Run, error)
}

const maxRunLimit = 500

func registerAPIRoutes(mux *http.ServeMux, sess Session, runs RunStore, controls ControlHooks) {
	mux.HandleFunc("POST /api/record", func(w http.ResponseWriter, r *http.Request) {
		runID, err := sess.Trigger()
		switch {
		case errors.Is(err, session.ErrBusy):
			writeJSONError(w, http.StatusConflict, err.Error())
			return
		case errors.Is(err, session.ErrClosed):
			writeJSONError(w, http.StatusServiceUnavailable, err.Error())
			return
		case err != nil:
			writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("start turn: %v", err))
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"run_id": runID})
	})

	mux.HandleFunc("GET /api/history", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, sess.History())
	})

	mux.HandleFunc("GET /api/status", func(w http.ResponseWriter, r *http.Request) {
		status := sess.Status()
		var warnings []string
		if controls.Warnings != nil {
			warnings = controls.Warnings()
		}
		if warnings == nil {
			warnings = []string{}
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"state":      status.State,
			"run_id":     status.RunID,
			"last_error": status.LastError,
			"warnings":   warnings,
		})
	})

	mux.HandleFunc("GET /api/speech/latest", func(w http.ResponseWriter, r *http.Request) {
		path, ok := sess.LatestSpeech()
		if !ok {
			writeJSONError(w, http.StatusNotFound, "no speech available")
			return
		}

		f, err := os.Open(path)
		if err != nil {
			writeJSONError(w, http.StatusNotFound, "speech file not found")
			return
		}
		defer func() { _ = f.Close() }()

		info, err := f.Stat()
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("stat speech: %v", err))
			return
		}

		w.Header().Set("Accept-Ranges", "bytes")
		w.Header().Set("Cache-Control", "no-store")
		w.Header().Set("Content-Type", contentTypeForAudio(path))
		http.ServeContent(w, r, filepath.Base(path), info.ModTime(), f)
	})

	mux.HandleFunc("POST /api/session/reset", func(w http.ResponseWriter, r *http.Request) {
		err := sess.EndSession(session.EndReasonReset)
		switch {
		case errors.Is(err, session.ErrBusy):
			writeJSONError(w, http.StatusConflict, err.Error())
			return
		case err != nil:
			writeJSONError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("GET /api/runs", func(w http.ResponseWriter, r *http.Request) {
		if runs == nil {
			writeJSON(w, http.StatusOK, []storage.Run{})
			return
		}

		limit := 0
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 1 || n > maxRunLimit {
				writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("limit must be between 1 and %d", maxRunLimit))
				return
			}
			limit = n
		}

		list, err := runs.GetRuns(limit)
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("list runs: %v", err))
			return
		}
		writeJSON(w, http.StatusOK, list)
	})
}

func contentTypeForAudio(path string) string {
	switch filepath.Ext(path) {
	case ".mp3":
		return "audio/mpeg"
	case ".wav":
		return "audio/wav"
	default:
		return "application/octet-stream"
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	body, err := sonic.Marshal(payload)
	if err != nil {
		http.Error(w, fmt.Sprintf("encode response: %v", err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
