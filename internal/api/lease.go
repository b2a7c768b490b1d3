package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/nerrad567/devicelink/internal/agent"
	"github.com/nerrad567/devicelink/internal/arbitration"
	"github.com/nerrad567/devicelink/internal/history"
)

// LeaseResponse is the JSON view of the current lease.
type LeaseResponse struct {
	Active       bool       `json:"active"`
	ControllerID string     `json:"controller_id,omitempty"`
	GrantedAt    *time.Time `json:"granted_at,omitempty"`
	LastActivity *time.Time `json:"last_activity,omitempty"`
}

// LeaseEventResponse is the JSON view of a lease grant or release.
type LeaseEventResponse struct {
	ID           string `json:"id,omitempty"`
	Kind         string `json:"kind"`
	ControllerID string `json:"controller_id"`
	Reason       string `json:"reason,omitempty"`
	HeldMS       int64  `json:"held_ms,omitempty"`
	OccurredAt   string `json:"occurred_at"`
}

func leaseResponse(l arbitration.Lease) LeaseResponse {
	resp := LeaseResponse{Active: l.Active}
	if !l.Active {
		return resp
	}
	granted := l.GrantedAt.UTC()
	last := l.LastActivity.UTC()
	resp.ControllerID = l.ControllerID
	resp.GrantedAt = &granted
	resp.LastActivity = &last
	return resp
}

func historyEventResponse(ev history.Event) LeaseEventResponse {
	return LeaseEventResponse{
		ID:           ev.ID,
		Kind:         string(ev.Kind),
		ControllerID: ev.ControllerID,
		Reason:       string(ev.Reason),
		HeldMS:       ev.Held.Milliseconds(),
		OccurredAt:   ev.OccurredAt.UTC().Format(time.RFC3339Nano),
	}
}

func leaseEventResponse(ev arbitration.Event) LeaseEventResponse {
	return LeaseEventResponse{
		Kind:         string(ev.Kind),
		ControllerID: ev.ControllerID,
		Reason:       string(ev.Reason),
		HeldMS:       ev.Held.Milliseconds(),
		OccurredAt:   ev.At.UTC().Format(time.RFC3339Nano),
	}
}

func (s *Server) handleGetLease(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, leaseResponse(s.lease.Lease()))
}

// handleReleaseLease ends the current lease as if the holder went silent,
// except the recorded reason is "explicit". Releasing while idle republishes
// the empty claim and acknowledge markers.
func (s *Server) handleReleaseLease(w http.ResponseWriter, r *http.Request) {
	before := s.lease.Lease()

	if err := s.lease.Release(r.Context()); err != nil {
		if errors.Is(err, agent.ErrNotRunning) {
			writeUnavailable(w, "agent is not running")
			return
		}
		s.logger.Error("lease release failed", "error", err)
		writeInternalError(w, "lease release failed")
		return
	}

	s.logger.Info("lease released via API",
		"controller_id", before.ControllerID,
		"was_active", before.Active,
	)
	writeJSON(w, http.StatusOK, map[string]any{
		"released":      before.Active,
		"controller_id": before.ControllerID,
		"lease":         leaseResponse(s.lease.Lease()),
	})
}

// handleLeaseHistory lists persisted lease events, newest first.
//
// Query parameters: controller_id, kind (granted|released), since (RFC 3339),
// limit (1..500).
func (s *Server) handleLeaseHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeNotFound(w, "lease history is not enabled")
		return
	}

	filter, msg := parseHistoryFilter(r)
	if msg != "" {
		writeBadRequest(w, msg)
		return
	}

	events, err := s.history.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("listing lease history failed", "error", err)
		writeInternalError(w, "failed to list lease history")
		return
	}

	out := make([]LeaseEventResponse, 0, len(events))
	for _, ev := range events {
		out = append(out, historyEventResponse(ev))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"events": out,
		"count":  len(out),
	})
}

// parseHistoryFilter returns a non-empty message when a parameter is invalid.
func parseHistoryFilter(r *http.Request) (history.Filter, string) {
	q := r.URL.Query()
	filter := history.Filter{ControllerID: q.Get("controller_id")}

	switch kind := arbitration.EventKind(q.Get("kind")); kind {
	case "":
	case arbitration.EventGranted, arbitration.EventReleased:
		filter.Kind = kind
	default:
		return filter, "kind must be granted or released"
	}

	if v := q.Get("since"); v != "" {
		since, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filter, "since must be an RFC 3339 timestamp"
		}
		filter.Since = since
	}

	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 1 || limit > 500 {
			return filter, "limit must be between 1 and 500"
		}
		filter.Limit = limit
	}

	return filter, ""
}
