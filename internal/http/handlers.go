package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync/atomic"
	"time"

	"smartpocket/internal/chat"
	"smartpocket/internal/core"
	"smartpocket/internal/log"
	"smartpocket/internal/profile"
)

type (
	sessionView struct {
		Username        string        `json:"username"`
		Initialized     bool          `json:"initialized"`
		TotalBudget     string        `json:"total_budget"`
		RemainingBudget string        `json:"remaining_budget"`
		DailyAllowance  string        `json:"daily_allowance"`
		TotalDays       int           `json:"total_days"`
		RemainingDays   int           `json:"remaining_days"`
		DaysElapsed     int           `json:"days_elapsed"`
		Overspent       bool          `json:"overspent"`
		Display         displayView   `json:"display"`
		ChatHistory     []turnView    `json:"chat_history"`
		Expenses        []expenseView `json:"expenses"`
	}

	// displayView carries the amounts already formatted in the configured currency.
	displayView struct {
		TotalBudget     string `json:"total_budget"`
		RemainingBudget string `json:"remaining_budget"`
		DailyAllowance  string `json:"daily_allowance"`
	}

	turnView struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}

	expenseView struct {
		Day         int       `json:"day"`
		Amount      string    `json:"amount"`
		Display     string    `json:"display"`
		Description string    `json:"description"`
		RecordedAt  time.Time `json:"recorded_at"`
	}

	stateResponse struct {
		Session      *sessionView `json:"session,omitempty"`
		Reply        string       `json:"reply,omitempty"`
		ReplyIsError bool         `json:"reply_is_error,omitempty"`
		LoggedOut    bool         `json:"logged_out,omitempty"`
		Cleared      bool         `json:"cleared,omitempty"`
		Warning      string       `json:"warning,omitempty"`
	}
)

func (s *Server) view(username string, sess core.BudgetSession) *sessionView {
	v := &sessionView{
		Username:        username,
		Initialized:     sess.Initialized,
		TotalBudget:     sess.TotalBudget.String(),
		RemainingBudget: sess.RemainingBudget.String(),
		DailyAllowance:  sess.DailyAllowance.String(),
		TotalDays:       sess.TotalDays,
		RemainingDays:   sess.RemainingDays,
		DaysElapsed:     sess.DaysElapsed(),
		Overspent:       sess.Overspent(),
		Display: displayView{
			TotalBudget:     core.FormatAmount(sess.TotalBudget, s.currency),
			RemainingBudget: core.FormatAmount(sess.RemainingBudget, s.currency),
			DailyAllowance:  core.FormatAmount(sess.DailyAllowance, s.currency),
		},
		ChatHistory: make([]turnView, 0, len(sess.ChatHistory)),
		Expenses:    make([]expenseView, 0, len(sess.Expenses)),
	}
	for _, t := range sess.ChatHistory {
		v.ChatHistory = append(v.ChatHistory, turnView{Role: string(t.Role), Content: t.Content})
	}
	for _, e := range sess.Expenses {
		v.Expenses = append(v.Expenses, expenseView{
			Day:         e.Day,
			Amount:      e.Amount.String(),
			Display:     core.FormatAmount(e.Amount, s.currency),
			Description: e.Description,
			RecordedAt:  e.RecordedAt,
		})
	}
	return v
}

func reqLogger(r *http.Request) *log.Logger {
	return log.FromContext(r.Context())
}

// pathUser returns the normalized username of the route.
func pathUser(r *http.Request) (string, error) {
	return core.NormalizeUsername(r.PathValue("username"))
}

// parseBody reads the request body or writes a 422 and returns nil.
func parseBody(w http.ResponseWriter, r *http.Request) *RequestBodyParser {
	p := NewRequestBodyParser(r)
	if err := p.Parse(); err != nil {
		UnprocessableEntityError(err.Error()).Write(w)
		return nil
	}
	return p
}

// respondMutation writes the new state. A persistence failure still returns
// 200 with the state because the change was applied in memory.
func (s *Server) respondMutation(w http.ResponseWriter, r *http.Request, op, username string, sess core.BudgetSession, err error, resp stateResponse) {
	var pe *profile.PersistenceError
	switch {
	case err == nil:
	case errors.As(err, &pe):
		s.countWarning()
		reqLogger(r).WarnContext(r.Context(), "State changed but not persisted",
			log.FieldOperation, op,
			log.FieldUsername, username,
			log.FieldError, err)
		resp.Warning = "your changes could not be saved and may be lost on restart"
	default:
		s.logFailure(r, op, username, err)
		ErrorFor(err).Write(w)
		return
	}
	resp.Session = s.view(username, sess)
	NewJSONResponse().Payload(resp).Write(w)
}

func (s *Server) logFailure(r *http.Request, op, username string, err error) {
	b := ErrorFor(err)
	if b.statusCode >= http.StatusInternalServerError {
		reqLogger(r).ErrorContext(r.Context(), "Operation failed",
			log.FieldOperation, op,
			log.FieldUsername, username,
			log.FieldError, err,
			"error_type", log.ErrorTypeInternal)
		return
	}
	reqLogger(r).InfoContext(r.Context(), "Operation rejected",
		log.FieldOperation, op,
		log.FieldUsername, username,
		log.FieldError, err,
		"error_type", log.ErrorTypeValidation)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	p := parseBody(w, r)
	if p == nil {
		return
	}
	username, err := core.NormalizeUsername(p.Get("username"))
	if err != nil {
		UnprocessableEntityError("username is required").Write(w)
		return
	}

	sess, err := s.sessions.Login(r.Context(), username)
	if err != nil {
		s.logFailure(r, log.OpLogin, username, err)
		ErrorFor(err).Write(w)
		return
	}
	NewJSONResponse().Payload(stateResponse{Session: s.view(username, sess)}).Write(w)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	username, err := pathUser(r)
	if err != nil {
		ErrorFor(err).Write(w)
		return
	}

	resp := stateResponse{LoggedOut: true}
	var pe *profile.PersistenceError
	if err := s.sessions.Logout(r.Context(), username); err != nil {
		if !errors.As(err, &pe) {
			s.logFailure(r, log.OpLogout, username, err)
			ErrorFor(err).Write(w)
			return
		}
		s.countWarning()
		resp.Warning = "logged out, but the latest changes could not be saved"
	}
	NewJSONResponse().Payload(resp).Write(w)
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	username, err := pathUser(r)
	if err != nil {
		ErrorFor(err).Write(w)
		return
	}
	sess, err := s.sessions.Session(username)
	if err != nil {
		ErrorFor(err).Write(w)
		return
	}
	NewJSONResponse().Payload(stateResponse{Session: s.view(username, sess)}).Write(w)
}

func (s *Server) handleStartBudget(w http.ResponseWriter, r *http.Request) {
	username, err := pathUser(r)
	if err != nil {
		ErrorFor(err).Write(w)
		return
	}
	p := parseBody(w, r)
	if p == nil {
		return
	}
	total, err := core.ParseAmount(p.Get("total_budget"))
	if err != nil {
		UnprocessableEntityError("total_budget must be a positive amount").Write(w)
		return
	}
	days, err := p.GetInt("total_days")
	if err != nil {
		UnprocessableEntityError(err.Error()).Write(w)
		return
	}

	sess, err := s.sessions.StartBudget(r.Context(), username, total, days)
	s.respondMutation(w, r, log.OpStartBudget, username, sess, err, stateResponse{})
}

func (s *Server) handleRecordExpense(w http.ResponseWriter, r *http.Request) {
	username, err := pathUser(r)
	if err != nil {
		ErrorFor(err).Write(w)
		return
	}
	p := parseBody(w, r)
	if p == nil {
		return
	}
	amount, err := core.ParseAmount(p.Get("amount"))
	if err != nil {
		UnprocessableEntityError("amount must be zero or a positive number").Write(w)
		return
	}

	sess, err := s.sessions.RecordExpense(r.Context(), username, amount, p.Get("description"))
	if err == nil || errors.As(err, new(*profile.PersistenceError)) {
		atomic.AddInt64(&s.appMetrics.expenses, 1)
	}
	s.respondMutation(w, r, log.OpRecordExpense, username, sess, err, stateResponse{})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	username, err := pathUser(r)
	if err != nil {
		ErrorFor(err).Write(w)
		return
	}
	p := parseBody(w, r)
	if p == nil {
		return
	}

	sess, reply, err := s.sessions.SubmitMessage(r.Context(), username, p.Get("message"))
	if err == nil || errors.As(err, new(*profile.PersistenceError)) {
		atomic.AddInt64(&s.appMetrics.chatMessages, 1)
	}
	s.respondMutation(w, r, log.OpChat, username, sess, err, stateResponse{
		Reply:        reply,
		ReplyIsError: chat.IsErrorReply(reply),
	})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	username, err := pathUser(r)
	if err != nil {
		ErrorFor(err).Write(w)
		return
	}
	sess, err := s.sessions.ResetBudgetAndChat(r.Context(), username)
	s.respondMutation(w, r, log.OpReset, username, sess, err, stateResponse{})
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	username, err := pathUser(r)
	if err != nil {
		ErrorFor(err).Write(w)
		return
	}

	resp := stateResponse{Cleared: true}
	var pe *profile.PersistenceError
	if err := s.sessions.ClearSessionEntirely(r.Context(), username); err != nil {
		if !errors.As(err, &pe) {
			s.logFailure(r, log.OpDelete, username, err)
			ErrorFor(err).Write(w)
			return
		}
		s.countWarning()
		resp.Warning = "session cleared, but the stored profile could not be deleted"
	}
	NewJSONResponse().Payload(resp).Write(w)
}

// handleHealth performs basic liveness check
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	NewJSONResponse().Payload(map[string]any{
		"status":    "ok",
		"timestamp": time.Now().Format(time.RFC3339),
		"uptime":    time.Since(s.appMetrics.uptime).String(),
	}).Write(w)
}

// handleReady runs every registered dependency check.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	httpStatus := http.StatusOK
	checks := make(map[string]string, len(s.checks))
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			checks[name] = "failed: " + err.Error()
			status = "not_ready"
			httpStatus = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}

	NewJSONResponse().Status(httpStatus).Payload(map[string]any{
		"status":          status,
		"timestamp":       time.Now().Format(time.RFC3339),
		"active_sessions": s.sessions.ActiveSessions(),
		"checks":          checks,
	}).Write(w)
}

// handleMetrics provides application and security metrics in plain text format
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")

	securityMetrics := s.securityDetector.GetMetrics()
	rateLimitMetrics := s.rateLimiter.GetMetrics()
	traceMetrics := s.traceMiddleware.GetMetrics()

	metrics := []struct {
		name, help, kind string
		value            int64
	}{
		{"http_requests_total", "Total number of HTTP requests", "counter", traceMetrics.TotalRequests},
		{"http_server_errors_total", "HTTP responses with a 5xx status", "counter", traceMetrics.ServerErrors},
		{"http_response_time_avg_microseconds", "Average HTTP response time", "gauge", traceMetrics.AverageResponseTimeUs},
		{"invalid_forwarded_ip_total", "Forwarded client addresses that failed to parse", "counter", securityMetrics.InvalidIPAttempts},
		{"expenses_recorded_total", "Total number of expenses recorded", "counter", atomic.LoadInt64(&s.appMetrics.expenses)},
		{"chat_messages_total", "Total number of chat messages answered", "counter", atomic.LoadInt64(&s.appMetrics.chatMessages)},
		{"persistence_warnings_total", "Mutations applied but not persisted", "counter", atomic.LoadInt64(&s.appMetrics.warnings)},
		{"active_sessions", "Currently logged-in users", "gauge", int64(s.sessions.ActiveSessions())},
		{"rate_limit_hits_total", "Total rate limit hits", "counter", rateLimitMetrics.TotalHits},
		{"active_rate_limit_clients", "Currently tracked rate limit clients", "gauge", rateLimitMetrics.ClientCount},
		{"suspicious_requests_total", "Total suspicious requests detected", "counter", securityMetrics.SuspiciousRequests},
		{"uptime_seconds", "Application uptime in seconds", "gauge", int64(time.Since(s.appMetrics.uptime).Seconds())},
	}
	sort.SliceStable(metrics, func(i, j int) bool { return metrics[i].name < metrics[j].name })

	w.WriteHeader(http.StatusOK)
	for _, m := range metrics {
		fmt.Fprintf(w, "# HELP %s %s\n", m.name, m.help)
		fmt.Fprintf(w, "# TYPE %s %s\n", m.name, m.kind)
		fmt.Fprintf(w, "%s %d\n\n", m.name, m.value)
	}
}
