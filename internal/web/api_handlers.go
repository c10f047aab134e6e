package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/joestump/congress-roster/internal/alert"
	"github.com/joestump/congress-roster/internal/db"
	"github.com/joestump/congress-roster/internal/monitor"
	"github.com/joestump/congress-roster/internal/roster"
)

const maxPageSize = 1000

// --- JSON Helpers ---

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// dbError logs err and answers 500 without leaking it.
func (s *Server) dbError(w http.ResponseWriter, op string, err error) {
	s.logger.Error(op, "error", err)
	s.writeError(w, http.StatusInternalServerError, "database error")
}

// requireJSON checks the Content-Type header and returns false (with a 415 response) if it is not application/json.
func (s *Server) requireJSON(w http.ResponseWriter, r *http.Request) bool {
	ct := r.Header.Get("Content-Type")
	if ct == "" || !strings.HasPrefix(ct, "application/json") {
		s.writeError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
		return false
	}
	return true
}

// parseLimitOffset extracts limit and offset query params with defaults and validation.
func parseLimitOffset(r *http.Request, defaultLimit int) (limit, offset int, err error) {
	limit = defaultLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, err = strconv.Atoi(v)
		if err != nil || limit < 0 {
			return 0, 0, fmt.Errorf("limit must be a non-negative integer")
		}
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		offset, err = strconv.Atoi(v)
		if err != nil || offset < 0 {
			return 0, 0, fmt.Errorf("offset must be a non-negative integer")
		}
	}
	return limit, offset, nil
}

// parseChamber reads the optional chamber query param.
func parseChamber(r *http.Request) (roster.Chamber, error) {
	v := r.URL.Query().Get("chamber")
	if v == "" {
		return "", nil
	}
	c, ok := roster.ParseChamber(v)
	if !ok {
		return "", fmt.Errorf("unknown chamber %q", v)
	}
	return c, nil
}

// congressParam returns the congress query param, defaulting to the
// published view's Congress (0 before the first publish).
func (s *Server) congressParam(ctx context.Context, r *http.Request) (int, error) {
	if v := r.URL.Query().Get("congress"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return 0, fmt.Errorf("congress must be a positive integer")
		}
		return n, nil
	}
	meta, err := s.db.GetViewMeta(ctx)
	if err != nil || meta == nil {
		return 0, err
	}
	return meta.CongressNumber, nil
}

// --- API Handlers ---

// handleAPIHealth returns the latest health report.
func (s *Server) handleAPIHealth(w http.ResponseWriter, r *http.Request) {
	rep, err := s.reports.Latest(r.Context())
	if err != nil {
		s.dbError(w, "load health report", err)
		return
	}
	if rep == nil {
		s.writeError(w, http.StatusServiceUnavailable, "no health report yet")
		return
	}
	s.writeJSON(w, http.StatusOK, rep)
}

// handleAPIListMembers returns published members. current defaults to true.
func (s *Server) handleAPIListMembers(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := parseLimitOffset(r, 100)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	chamber, err := parseChamber(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	f := db.MemberFilter{
		Chamber:     chamber,
		State:       strings.ToUpper(r.URL.Query().Get("state")),
		CurrentOnly: r.URL.Query().Get("current") != "false",
	}

	members, err := s.db.ListMembers(r.Context(), f, limit, offset)
	if err != nil {
		s.dbError(w, "list members", err)
		return
	}
	s.writeJSON(w, http.StatusOK, APIMembersResponse{Members: toAPIMembers(members)})
}

// handleAPIGetMember returns one member with their seats in the published
// Congress.
func (s *Server) handleAPIGetMember(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	m, err := s.db.GetMember(ctx, r.PathValue("id"))
	if err != nil {
		s.dbError(w, "get member", err)
		return
	}
	if m == nil {
		s.writeError(w, http.StatusNotFound, "member not found")
		return
	}

	out := toAPIMember(*m)
	congress, err := s.congressParam(ctx, r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	seats, err := s.db.ListMemberships(ctx, "", congress)
	if err != nil {
		s.dbError(w, "list memberships", err)
		return
	}
	for _, ms := range seats {
		if ms.BioguideID == m.BioguideID {
			out.Memberships = append(out.Memberships, toAPIMemberships([]roster.Membership{ms})...)
		}
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAPIListCommittees(w http.ResponseWriter, r *http.Request) {
	chamber, err := parseChamber(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	committees, err := s.db.ListCommittees(r.Context(), chamber)
	if err != nil {
		s.dbError(w, "list committees", err)
		return
	}
	s.writeJSON(w, http.StatusOK, APICommitteesResponse{Committees: toAPICommittees(committees)})
}

// handleAPIGetCommittee returns a committee with its subcommittees and its
// roster for one Congress, leadership first.
func (s *Server) handleAPIGetCommittee(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	code := strings.ToUpper(r.PathValue("code"))
	c, err := s.db.GetCommittee(ctx, code)
	if err != nil {
		s.dbError(w, "get committee", err)
		return
	}
	if c == nil {
		s.writeError(w, http.StatusNotFound, "committee not found")
		return
	}
	congress, err := s.congressParam(ctx, r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	out := toAPICommittee(*c)
	siblings, err := s.db.ListCommittees(ctx, c.Chamber)
	if err != nil {
		s.dbError(w, "list committees", err)
		return
	}
	for _, sub := range siblings {
		if sub.ParentCode == c.Code {
			out.Subcommittees = append(out.Subcommittees, toAPICommittee(sub))
		}
	}
	seats, err := s.db.ListMemberships(ctx, c.Code, congress)
	if err != nil {
		s.dbError(w, "list memberships", err)
		return
	}
	out.Roster = toAPIMemberships(seats)
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAPIListMemberships(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	congress, err := s.congressParam(ctx, r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	code := strings.ToUpper(r.URL.Query().Get("committee"))
	seats, err := s.db.ListMemberships(ctx, code, congress)
	if err != nil {
		s.dbError(w, "list memberships", err)
		return
	}
	s.writeJSON(w, http.StatusOK, APIMembershipsResponse{Congress: congress, Memberships: toAPIMemberships(seats)})
}

func (s *Server) handleAPIListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.db.ListSessions(r.Context())
	if err != nil {
		s.dbError(w, "list sessions", err)
		return
	}
	s.writeJSON(w, http.StatusOK, APISessionsResponse{Sessions: toAPISessions(sessions)})
}

func (s *Server) handleAPIListConflicts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	conflicts, err := s.db.ListConflicts(ctx)
	if err != nil {
		s.dbError(w, "list conflicts", err)
		return
	}
	pending, err := s.db.ListPending(ctx)
	if err != nil {
		s.dbError(w, "list pending", err)
		return
	}
	s.writeJSON(w, http.StatusOK, APIConflictsResponse{
		Conflicts: toAPIConflicts(conflicts),
		Pending:   toAPIPending(pending),
	})
}

// handleAPIListAlerts returns alerts newest first. ?open=true limits the list
// to unacknowledged alerts.
func (s *Server) handleAPIListAlerts(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := parseLimitOffset(r, 50)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	alerts, err := s.db.ListAlerts(r.Context(), r.URL.Query().Get("open") == "true", limit, offset)
	if err != nil {
		s.dbError(w, "list alerts", err)
		return
	}
	s.writeJSON(w, http.StatusOK, APIAlertsResponse{Alerts: toAPIAlerts(alerts)})
}

type ackRequest struct {
	By string `json:"by"`
}

// handleAPIAckAlert acknowledges an alert, stopping its escalation.
func (s *Server) handleAPIAckAlert(w http.ResponseWriter, r *http.Request) {
	if s.acks == nil {
		s.writeError(w, http.StatusServiceUnavailable, "alerting is not configured")
		return
	}
	if !s.requireJSON(w, r) {
		return
	}
	var req ackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.By) == "" {
		s.writeError(w, http.StatusBadRequest, "by is required")
		return
	}

	id := r.PathValue("id")
	err := s.acks.Acknowledge(r.Context(), id, req.By)
	switch {
	case errors.Is(err, alert.ErrNotFound):
		s.writeError(w, http.StatusNotFound, "alert not found")
	case errors.Is(err, alert.ErrAlreadyAcknowledged):
		s.writeError(w, http.StatusConflict, "alert already acknowledged")
	case err != nil:
		s.dbError(w, "acknowledge alert", err)
	default:
		s.writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": "acknowledged"})
	}
}

func (s *Server) handleAPIListRuns(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := parseLimitOffset(r, 20)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	runs, err := s.db.ListRefreshRuns(r.Context(), limit, offset)
	if err != nil {
		s.dbError(w, "list refresh runs", err)
		return
	}
	s.writeJSON(w, http.StatusOK, APIRunsResponse{Runs: toAPIRuns(runs)})
}

func (s *Server) handleAPIGetRun(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	run, err := s.db.GetRefreshRun(r.Context(), id)
	if err != nil {
		s.dbError(w, "get refresh run", err)
		return
	}
	if run == nil {
		s.writeError(w, http.StatusNotFound, "run not found")
		return
	}
	adapters, err := s.db.ListAdapterRuns(r.Context(), id)
	if err != nil {
		s.dbError(w, "list adapter runs", err)
		return
	}
	s.writeJSON(w, http.StatusOK, APIRunDetailResponse{
		APIRun:    toAPIRun(*run),
		Streaming: s.hub != nil && s.hub.IsActive(id),
		Adapters:  toAPIAdapterRuns(adapters),
	})
}

// handleAPIListFacts returns the raw observation history behind one entity,
// newest first.
func (s *Server) handleAPIListFacts(w http.ResponseWriter, r *http.Request) {
	kind := roster.EntityKind(r.PathValue("kind"))
	switch kind {
	case roster.KindMember, roster.KindCommittee, roster.KindMembership, roster.KindPendingIdentity:
	default:
		s.writeError(w, http.StatusBadRequest, "kind must be member, committee, membership or pending_identity")
		return
	}
	id := r.PathValue("id")
	facts, err := s.db.EntityFacts(r.Context(), kind, id)
	if err != nil {
		s.dbError(w, "list facts", err)
		return
	}
	s.writeJSON(w, http.StatusOK, APIFactsResponse{Kind: string(kind), EntityID: id, Facts: toAPIFacts(facts)})
}

func (s *Server) handleAPIListTriggers(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := parseLimitOffset(r, 50)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	execs, err := s.db.ListTriggerExecutions(r.Context(), limit, offset)
	if err != nil {
		s.dbError(w, "list trigger executions", err)
		return
	}
	s.writeJSON(w, http.StatusOK, APITriggersResponse{Executions: toAPITriggerExecutions(execs)})
}

type refreshRequest struct {
	Reason string `json:"reason"`
}

// handleAPIRefresh queues an emergency re-ingest. The body is optional.
func (s *Server) handleAPIRefresh(w http.ResponseWriter, r *http.Request) {
	if s.trigger == nil {
		s.writeError(w, http.StatusServiceUnavailable, "refresh is not available")
		return
	}
	req := refreshRequest{Reason: "api request"}
	if r.ContentLength > 0 {
		if !s.requireJSON(w, r) {
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}

	runID, err := s.trigger.TriggerEmergency(req.Reason)
	if errors.Is(err, monitor.ErrBusy) {
		s.writeError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		s.logger.Error("trigger emergency refresh", "error", err)
		s.writeError(w, http.StatusInternalServerError, "could not queue refresh")
		return
	}
	s.writeJSON(w, http.StatusAccepted, APIRefreshResponse{
		RunID:     runID,
		StreamURL: "/api/v1/runs/" + runID + "/stream",
	})
}
