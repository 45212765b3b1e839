package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/mickamy/pgdiag/internal/model"
	"github.com/mickamy/pgdiag/internal/parser"
	"github.com/mickamy/pgdiag/internal/report"
	"github.com/mickamy/pgdiag/internal/rule"
	"github.com/mickamy/pgdiag/internal/store"
)

const defaultListLimit = 50

// LintRequest is the body of POST /api/v1/statements/lint.
type LintRequest struct {
	SQL string `json:"sql"`
}

// LintResponse carries the text findings and suggestions for one statement.
type LintResponse = report.LintResult

// RuleInfo describes one registered rule in GET /api/v1/rules.
type RuleInfo struct {
	Code     string        `json:"code"`
	Kind     string        `json:"kind"`
	Category rule.Category `json:"category"`
	Severity rule.Severity `json:"severity"`
}

// AnalyzeStatementsRequest is the body of POST /api/v1/statements/analyze.
type AnalyzeStatementsRequest struct {
	Statements []model.SqlStatement `json:"statements"`
	Limit      int                  `json:"limit"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": s.version})
}

func (s *Server) handleAnalyzePlan(w http.ResponseWriter, r *http.Request) {
	plan, err := parser.ParseJSON(http.MaxBytesReader(w, r.Body, s.maxBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	pr, err := s.builder.AnalyzePlan(r.Context(), plan)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	if s.store != nil {
		if err := s.store.SavePlanReport(r.Context(), pr); err != nil {
			s.logger.WarnContext(r.Context(), "report not stored", "error", err)
		}
	}
	writeJSON(w, http.StatusOK, pr)
}

func (s *Server) handleLint(w http.ResponseWriter, r *http.Request) {
	var req LintRequest
	if err := s.decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.SQL == "" {
		writeError(w, http.StatusBadRequest, errors.New("sql is required"))
		return
	}
	res, err := s.builder.LintStatement(r.Context(), model.SqlStatement{Text: req.SQL})
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleListRules(w http.ResponseWriter, _ *http.Request) {
	rules := s.builder.Engine.Rules()
	out := make([]RuleInfo, 0, len(rules.Plan)+len(rules.Text))
	for _, r := range rules.Plan {
		out = append(out, RuleInfo{Code: r.Code(), Kind: "plan", Category: r.Category(), Severity: r.DefaultSeverity()})
	}
	for _, r := range rules.Text {
		out = append(out, RuleInfo{Code: r.Code(), Kind: "text", Category: r.Category(), Severity: r.DefaultSeverity()})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAnalyzeStatements(w http.ResponseWriter, r *http.Request) {
	var req AnalyzeStatementsRequest
	if err := s.decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Limit < 0 {
		writeError(w, http.StatusBadRequest, errors.New("limit must not be negative"))
		return
	}
	rep, err := s.builder.AnalyzeStatements(r.Context(), req.Statements, report.Options{Limit: req.Limit})
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	if s.store != nil {
		if err := s.store.SaveStatementReport(r.Context(), rep); err != nil {
			s.logger.WarnContext(r.Context(), "report not stored", "error", err)
		}
	}
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) handleGetReport(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.record(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// handleReportFindings returns every finding of a stored report, decoded from its payload.
func (s *Server) handleReportFindings(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.record(w, r)
	if !ok {
		return
	}
	findings := []rule.Finding{}
	switch rec.Kind {
	case store.KindPlan:
		pr, err := rec.Plan()
		if err != nil {
			s.internalError(w, r, err)
			return
		}
		findings = append(findings, pr.Findings...)
	case store.KindStatements:
		rep, err := rec.Statements()
		if err != nil {
			s.internalError(w, r, err)
			return
		}
		findings = append(findings, rep.Notices...)
		for _, res := range rep.Results {
			findings = append(findings, res.Findings...)
		}
	default:
		s.internalError(w, r, fmt.Errorf("report %s has unknown kind %q", rec.ID, rec.Kind))
		return
	}
	writeJSON(w, http.StatusOK, findings)
}

// record loads the report named by the {id} URL parameter, writing the error response itself.
func (s *Server) record(w http.ResponseWriter, r *http.Request) (store.Record, bool) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("report store disabled"))
		return store.Record{}, false
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid report id: %w", err))
		return store.Record{}, false
	}
	rec, err := s.store.Get(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, err)
		return store.Record{}, false
	}
	if err != nil {
		s.internalError(w, r, err)
		return store.Record{}, false
	}
	return rec, true
}

func (s *Server) handleListReports(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("report store disabled"))
		return
	}
	limit := defaultListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid limit %q", v))
			return
		}
		limit = n
	}
	recs, err := s.store.List(r.Context(), limit)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode request: %w", err)
	}
	return nil
}

func (s *Server) internalError(w http.ResponseWriter, r *http.Request, err error) {
	s.logger.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "error", err)
	writeError(w, http.StatusInternalServerError, err)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
