package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/chainguard-dev/clog"

	"github.com/dreamware/comboq/internal/combo"
	"github.com/dreamware/comboq/internal/events"
	"github.com/dreamware/comboq/internal/shard"
)

// handleFetch dequeues up to ?limit= rows (default and maximum: the store
// fetch limit).
//
//	200 {"data":[...]}              rows, no errors
//	200 {"data":[...],"errors":[]}  rows and errors
//	500 {"errors":[...]}            errors only
//	204                             nothing queued in the scanned shard
func (s *server) handleFetch(w http.ResponseWriter, r *http.Request) {
	st, ok := s.store(w, r)
	if !ok {
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			failure(w, r, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		if err := st.CheckLimit(n); err != nil {
			failure(w, r, http.StatusBadRequest, err.Error())
			return
		}
		limit = n
	}

	res := st.Dequeue(r.Context(), limit)
	switch res.Status {
	case combo.StatusEmpty:
		w.WriteHeader(http.StatusNoContent)
	case combo.StatusFailed:
		writeJSON(w, r, http.StatusInternalServerError, res)
	default:
		writeJSON(w, r, http.StatusOK, res)
	}
}

func (s *server) handleAdd(w http.ResponseWriter, r *http.Request) {
	st, ok := s.store(w, r)
	if !ok {
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxAddBody))
	if err != nil {
		failure(w, r, http.StatusRequestEntityTooLarge, "could not read body")
		return
	}
	combos, skipped := ParseCombos(string(body))
	params := ParamsFromHeader(r.Header)

	var msgs []string
	for _, err := range st.Add(r.Context(), combos, params) {
		msgs = append(msgs, err.Error())
	}

	resp := response{Success: true, Errors: msgs, Skipped: skipped}
	if len(msgs) > 0 {
		resp.Message = fmt.Sprintf("tried to add %d combos (see errors)", len(combos))
	} else {
		resp.Message = fmt.Sprintf("Successfully added %d combos", len(combos))
	}
	if skipped > 0 {
		resp.Message += fmt.Sprintf(", skipped %d malformed lines", skipped)
	}
	writeJSON(w, r, http.StatusOK, resp)
}

type invalidateRequest struct {
	UUID string `json:"uuid"`
	ID   string `json:"id"`
}

func (s *server) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	st, ok := s.store(w, r)
	if !ok {
		return
	}

	var req invalidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		failure(w, r, http.StatusBadRequest, "bad json")
		return
	}
	id := req.UUID
	if id == "" {
		id = req.ID
	}
	if id == "" {
		failure(w, r, http.StatusBadRequest, "missing uuid")
		return
	}

	if err := st.Invalidate(r.Context(), id); err != nil {
		if errors.Is(err, shard.ErrMalformedID) {
			failure(w, r, http.StatusBadRequest, err.Error())
			return
		}
		clog.FromContext(r.Context()).Errorf("Failed to invalidate %s: %v", id, err)
		writeJSON(w, r, http.StatusInternalServerError, response{
			Success: false,
			Message: "could not remove combo",
			Errors:  []string{err.Error()},
		})
		return
	}
	writeJSON(w, r, http.StatusOK, response{Success: true, Message: "Successfully invalidated combo"})
}

func (s *server) handleShards(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, struct {
		Shards     int                 `json:"shards"`
		Categories []shard.RouterStats `json:"categories"`
	}{
		Shards:     s.registry.NumShards(),
		Categories: s.registry.Stats(),
	})
}

func (s *server) handlePeers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, struct {
		Peers []events.PeerHealth `json:"peers"`
	}{
		Peers: s.peers.Peers(),
	})
}
