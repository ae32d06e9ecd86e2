// Package chi serves the HTTP API over a go-chi router.
package chi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	gochi "github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"go.uber.org/zap"

	"github.com/kailas-cloud/filingbrief/internal/domain"
	"github.com/kailas-cloud/filingbrief/internal/domain/brief"
	domusage "github.com/kailas-cloud/filingbrief/internal/domain/usage"
	"github.com/kailas-cloud/filingbrief/internal/logger"
	analysisuc "github.com/kailas-cloud/filingbrief/internal/usecase/analysis"
	batchuc "github.com/kailas-cloud/filingbrief/internal/usecase/batch"
	healthuc "github.com/kailas-cloud/filingbrief/internal/usecase/health"
)

const (
	maxBodyBytes       = 1 << 20
	maxIngestBodyBytes = 16 << 20
	defaultHistoryN    = 10
)

var md = goldmark.New(goldmark.WithExtensions(extension.Table))

// errorHandler tries to handle a domain error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, err error, msg string) bool

// Server holds the API handlers.
type Server struct {
	analysis      Analyzer
	memory        Memory
	ingest        Ingester
	usage         UsageReporter
	health        HealthChecker
	logger        *zap.Logger
	errorHandlers []errorHandler
}

// NewServer creates an HTTP API server.
func NewServer(
	analysis Analyzer,
	memory Memory,
	ingest Ingester,
	usage UsageReporter,
	health HealthChecker,
	logger *zap.Logger,
) *Server {
	s := &Server{
		analysis: analysis,
		memory:   memory,
		ingest:   ingest,
		usage:    usage,
		health:   health,
		logger:   logger,
	}
	s.errorHandlers = []errorHandler{stageErrorHandler}
	for _, m := range sentinelTable {
		s.errorHandlers = append(s.errorHandlers, sentinelHandler(m.err, m.status, m.code))
	}
	return s
}

// Routes mounts every endpoint on r.
func (s *Server) Routes(r gochi.Router) {
	r.Get("/health", s.HealthCheck)
	r.Get("/metrics", s.Metrics)

	r.Route("/v1", func(r gochi.Router) {
		r.Post("/sessions", s.CreateSession)
		r.Get("/sessions/{sessionID}/history", s.GetHistory)
		r.Post("/briefs", s.CreateBrief)
		r.Get("/users/{userID}/memory/{key}", s.GetGlobalMemory)
		r.Put("/users/{userID}/memory/{key}", s.PutGlobalMemory)
		r.Get("/usage", s.GetUsage)
		r.Post("/admin/sweep", s.Sweep)
		r.Post("/admin/chunks", s.IngestChunks)
	})
}

// CreateSession handles POST /v1/sessions.
func (s *Server) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if !decodeBody(w, r, maxBodyBytes, &req) {
		return
	}
	id, err := s.memory.StartSession(r.Context(), req.UserID)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, createSessionResponse{SessionID: id})
}

// CreateBrief handles POST /v1/briefs. The Accept header selects JSON, markdown or HTML.
func (s *Server) CreateBrief(w http.ResponseWriter, r *http.Request) {
	var req briefRequest
	if !decodeBody(w, r, maxBodyBytes, &req) {
		return
	}

	ctx := logger.WithDefault(r.Context(), s.logger)
	res, err := s.analysis.Run(ctx, analysisuc.Request{
		UserID:     req.UserID,
		SessionID:  req.SessionID,
		NewSession: req.NewSession,
		Query:      req.Query,
	})
	if err != nil {
		if errors.Is(err, domain.ErrAuditFailed) && res.Brief.Title != "" {
			s.writeAuditFailure(w, err, res.Brief)
			return
		}
		s.handleDomainError(w, r, err)
		return
	}

	w.Header().Set("X-Turn-ID", res.TurnID)
	if res.SessionID != "" {
		w.Header().Set("X-Session-ID", res.SessionID)
	}
	w.Header().Set("X-Embedding-Tokens", strconv.Itoa(res.Usage.EmbeddingTokens))
	w.Header().Set("X-LLM-Tokens", strconv.Itoa(res.Usage.LLMTokens))

	switch negotiate(r.Header.Get("Accept")) {
	case formatMarkdown:
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, res.Brief.Markdown())
	case formatHTML:
		html, err := renderHTML(res.Brief)
		if err != nil {
			s.handleDomainError(w, r, err)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(html)
	default:
		writeJSON(w, http.StatusOK, resultToResponse(res))
	}
}

func (s *Server) writeAuditFailure(w http.ResponseWriter, err error, b brief.Brief) {
	payload := briefToPayload(b)
	resp := ErrorResponse{Code: CodeAuditFailed, Message: "the brief failed verification", Brief: &payload}
	var se *domain.StageError
	if errors.As(err, &se) {
		resp.Stage = string(se.Stage)
		resp.Message = se.Message
	}
	s.logger.Warn("brief failed audit", zap.Int("findings", len(b.Findings)))
	writeJSON(w, http.StatusUnprocessableEntity, resp)
}

// GetHistory handles GET /v1/sessions/{sessionID}/history?user_id=&n=.
func (s *Server) GetHistory(w http.ResponseWriter, r *http.Request) {
	sessionID := gochi.URLParam(r, "sessionID")
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, CodeValidationFailed, "user_id query parameter is required")
		return
	}
	n := defaultHistoryN
	if raw := r.URL.Query().Get("n"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			writeError(w, http.StatusBadRequest, CodeValidationFailed, "n must be a positive integer")
			return
		}
		n = v
	}

	owner, err := s.memory.SessionOwner(r.Context(), sessionID)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	if owner != userID {
		// foreign sessions look exactly like missing ones
		writeError(w, http.StatusNotFound, CodeNotFound, domain.ErrNotFound.Error())
		return
	}

	turns, err := s.memory.History(r.Context(), sessionID, n)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, historyResponse{SessionID: sessionID, Turns: turns})
}

// GetGlobalMemory handles GET /v1/users/{userID}/memory/{key}.
func (s *Server) GetGlobalMemory(w http.ResponseWriter, r *http.Request) {
	rec, err := s.memory.GetGlobal(r.Context(), gochi.URLParam(r, "userID"), gochi.URLParam(r, "key"))
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, recordToResponse(rec))
}

// PutGlobalMemory handles PUT /v1/users/{userID}/memory/{key}. The body is the raw JSON value.
func (s *Server) PutGlobalMemory(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "could not read request body")
		return
	}
	body = bytes.TrimSpace(body)
	if !json.Valid(body) {
		writeError(w, http.StatusBadRequest, CodeValidationFailed, "body must be a JSON value")
		return
	}

	rec, err := s.memory.PutGlobal(r.Context(), gochi.URLParam(r, "userID"), gochi.URLParam(r, "key"), body)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, recordToResponse(rec))
}

// Sweep handles POST /v1/admin/sweep.
func (s *Server) Sweep(w http.ResponseWriter, r *http.Request) {
	n, err := s.memory.Sweep(r.Context())
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sweepResponse{Evicted: n})
}

// IngestChunks handles POST /v1/admin/chunks.
func (s *Server) IngestChunks(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if !decodeBody(w, r, maxIngestBodyBytes, &req) {
		return
	}
	if len(req.Chunks) == 0 || len(req.Chunks) > s.ingest.MaxBatchSize() {
		writeError(w, http.StatusBadRequest, CodeValidationFailed,
			"chunks count must be between 1 and "+strconv.Itoa(s.ingest.MaxBatchSize()))
		return
	}

	items := make([]batchuc.Item, len(req.Chunks))
	for i, c := range req.Chunks {
		items[i] = batchuc.Item{
			ID:           c.ID,
			Text:         c.Text,
			Ticker:       c.Ticker,
			FiscalYear:   c.FiscalYear,
			Section:      c.Section,
			SourceOffset: c.SourceOffset,
		}
	}

	ctx, usage := domain.NewContextWithUsage(r.Context())
	results, err := s.ingest.Ingest(ctx, items)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	if embTokens, _ := usage.Totals(); embTokens > 0 {
		w.Header().Set("X-Embedding-Tokens", strconv.Itoa(embTokens))
	}
	writeJSON(w, http.StatusOK, ingestToResponse(results))
}

// GetUsage handles GET /v1/usage?period=day|month.
func (s *Server) GetUsage(w http.ResponseWriter, r *http.Request) {
	period, err := domusage.ParsePeriod(r.URL.Query().Get("period"))
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeValidationFailed, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, usageToResponse(s.usage.GetReport(r.Context(), period)))
}

// HealthCheck handles GET /health.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())

	checks := make(map[string]string, len(report.Checks))
	for k, v := range report.Checks {
		checks[k] = string(v)
	}

	httpStatus := http.StatusOK
	if report.Status == healthuc.Unhealthy {
		httpStatus = http.StatusServiceUnavailable
	}
	writeJSON(w, httpStatus, healthResponse{Status: string(report.Status), Checks: checks})
}

// Metrics handles GET /metrics.
func (s *Server) Metrics(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

type format int

const (
	formatJSON format = iota
	formatMarkdown
	formatHTML
)

func negotiate(accept string) format {
	accept = strings.ToLower(accept)
	switch {
	case strings.Contains(accept, "text/markdown"):
		return formatMarkdown
	case strings.Contains(accept, "text/html"):
		return formatHTML
	default:
		return formatJSON
	}
}

func renderHTML(b brief.Brief) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString("<!DOCTYPE html>\n<html><head><meta charset=\"utf-8\"><title>")
	buf.WriteString(htmlEscape(b.Title))
	buf.WriteString("</title></head><body>\n")
	if err := md.Convert([]byte(b.Markdown()), &buf); err != nil {
		return nil, err
	}
	buf.WriteString("</body></html>\n")
	return buf.Bytes(), nil
}

var htmlReplacer = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;")

func htmlEscape(s string) string { return htmlReplacer.Replace(s) }

func decodeBody(w http.ResponseWriter, r *http.Request, limit int64, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, limit)).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "Invalid request body: "+err.Error())
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code ErrorCode, message string) {
	writeJSON(w, status, ErrorResponse{Code: code, Message: message})
}

type sentinelMapping struct {
	err    error
	status int
	code   ErrorCode
}

// sentinelTable maps domain sentinels to HTTP status codes; first match wins.
var sentinelTable = []sentinelMapping{
	{domain.ErrInvalidRequest, http.StatusBadRequest, CodeValidationFailed},
	{domain.ErrInvalidChunk, http.StatusBadRequest, CodeValidationFailed},
	{domain.ErrInvalidScope, http.StatusBadRequest, CodeValidationFailed},
	{domain.ErrAmbiguousScope, http.StatusUnprocessableEntity, CodeAmbiguousScope},
	{domain.ErrNotFound, http.StatusNotFound, CodeNotFound},
	{domain.ErrChunkNotFound, http.StatusNotFound, CodeNotFound},
	{domain.ErrAuditFailed, http.StatusUnprocessableEntity, CodeAuditFailed},
	{domain.ErrMemoryStoreUnavailable, http.StatusServiceUnavailable, CodeMemoryUnavail},
	{domain.ErrTokenBudgetExceeded, http.StatusPaymentRequired, CodeBudgetExceeded},
	{domain.ErrRateLimited, http.StatusTooManyRequests, CodeRateLimited},
	{domain.ErrEmbeddingProviderError, http.StatusBadGateway, CodeProviderError},
	{domain.ErrLLMProviderError, http.StatusBadGateway, CodeProviderError},
	{domain.ErrMarketDataUnavailable, http.StatusBadGateway, CodeProviderError},
	{domain.ErrRetrievalTimeout, http.StatusGatewayTimeout, CodeTimeout},
	{context.DeadlineExceeded, http.StatusGatewayTimeout, CodeTimeout},
}

// classify returns the status and code for err, falling back to 500.
func classify(err error) (int, ErrorCode) {
	for _, m := range sentinelTable {
		if errors.Is(err, m.err) {
			return m.status, m.code
		}
	}
	return http.StatusInternalServerError, CodeInternal
}

// safeDomainMessage returns a sentinel error message for the client without exposing internals.
func safeDomainMessage(err error) string {
	for _, m := range sentinelTable {
		if errors.Is(err, m.err) {
			return m.err.Error()
		}
	}
	return "internal error"
}

// sentinelHandler returns an errorHandler that matches a single sentinel error.
func sentinelHandler(sentinel error, status int, code ErrorCode) errorHandler {
	return func(w http.ResponseWriter, err error, msg string) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeError(w, status, code, msg)
		return true
	}
}

// stageErrorHandler renders pipeline failures as {code, stage, message}. The
// message is the user-facing text carried by the StageError.
func stageErrorHandler(w http.ResponseWriter, err error, _ string) bool {
	var se *domain.StageError
	if !errors.As(err, &se) {
		return false
	}
	status, code := classify(se.Err)
	writeJSON(w, status, ErrorResponse{Code: code, Stage: string(se.Stage), Message: se.Message})
	return true
}

func (s *Server) handleDomainError(w http.ResponseWriter, r *http.Request, err error) {
	log := logger.FromContext(logger.WithDefault(r.Context(), s.logger))
	msg := safeDomainMessage(err)
	for _, h := range s.errorHandlers {
		if h(w, err, msg) {
			log.Warn("domain error", zap.Error(err))
			return
		}
	}
	log.Error("internal error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, CodeInternal, "internal error")
}
