package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/MrWong99/endpointd/internal/journal"
	"github.com/MrWong99/endpointd/internal/observe"
)

const (
	defaultCompletionLimit = 50
	maxCompletionLimit     = 500
)

type completion struct {
	ChannelID   string    `json:"channel_id"`
	RequestID   uint32    `json:"request_id"`
	Cause       string    `json:"cause"`
	Text        string    `json:"text,omitempty"`
	ElapsedMS   int64     `json:"elapsed_ms"`
	CompletedAt time.Time `json:"completed_at"`
}

// handleCompletions serves GET /v1/completions. Query parameters: q (text
// search), channel, cause, after (RFC 3339) and limit.
func (s *Server) handleCompletions(w http.ResponseWriter, r *http.Request) {
	v := r.URL.Query()
	q := journal.Query{
		ChannelID: v.Get("channel"),
		Cause:     v.Get("cause"),
		Limit:     defaultCompletionLimit,
	}
	if raw := v.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "limit must be a positive integer"})
			return
		}
		q.Limit = min(n, maxCompletionLimit)
	}
	if raw := v.Get("after"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "after must be an RFC 3339 timestamp"})
			return
		}
		q.After = t
	}

	var (
		entries []journal.Entry
		err     error
	)
	if text := v.Get("q"); text != "" {
		entries, err = s.journal.Search(r.Context(), text, q)
	} else {
		entries, err = s.journal.Recent(r.Context(), q)
	}
	if err != nil {
		observe.Logger(r.Context()).Error("journal query failed", "err", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "journal unavailable"})
		return
	}

	out := make([]completion, len(entries))
	for i, e := range entries {
		out[i] = completion{
			ChannelID:   e.ChannelID,
			RequestID:   e.RequestID,
			Cause:       e.Cause,
			Text:        e.Text,
			ElapsedMS:   e.Elapsed.Milliseconds(),
			CompletedAt: e.CompletedAt,
		}
	}
	writeJSON(w, http.StatusOK, out)
}
