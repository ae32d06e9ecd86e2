package chi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gochi "github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/kailas-cloud/filingbrief/internal/domain"
	dombatch "github.com/kailas-cloud/filingbrief/internal/domain/batch"
	dommem "github.com/kailas-cloud/filingbrief/internal/domain/memory"
	domusage "github.com/kailas-cloud/filingbrief/internal/domain/usage"
	analysisuc "github.com/kailas-cloud/filingbrief/internal/usecase/analysis"
	batchuc "github.com/kailas-cloud/filingbrief/internal/usecase/batch"
	healthuc "github.com/kailas-cloud/filingbrief/internal/usecase/health"
)

type fakeAnalyzer struct {
	res analysisuc.Result
	err error
	got analysisuc.Request
}

func (f *fakeAnalyzer) Run(_ context.Context, req analysisuc.Request) (analysisuc.Result, error) {
	f.got = req
	return f.res, f.err
}

type fakeMemory struct {
	owners  map[string]string
	records map[string]dommem.Record
	turns   []dommem.Turn
	swept   int
	err     error
}

func newFakeMemory() *fakeMemory {
	return &fakeMemory{owners: map[string]string{}, records: map[string]dommem.Record{}}
}

func (m *fakeMemory) StartSession(_ context.Context, userID string) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	if err := dommem.ValidateOwner(userID); err != nil {
		return "", domain.ErrInvalidRequest
	}
	m.owners["sess-1"] = userID
	return "sess-1", nil
}

func (m *fakeMemory) SessionOwner(_ context.Context, sessionID string) (string, error) {
	owner, ok := m.owners[sessionID]
	if !ok {
		return "", domain.ErrNotFound
	}
	return owner, nil
}

func (m *fakeMemory) GetGlobal(_ context.Context, userID, key string) (dommem.Record, error) {
	if m.err != nil {
		return dommem.Record{}, m.err
	}
	r, ok := m.records[userID+"/"+key]
	if !ok {
		return dommem.Record{}, domain.ErrNotFound
	}
	return r, nil
}

func (m *fakeMemory) PutGlobal(_ context.Context, userID, key string, value json.RawMessage) (dommem.Record, error) {
	if m.err != nil {
		return dommem.Record{}, m.err
	}
	r, err := dommem.NewRecord(dommem.Global, userID, key, value, time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		return dommem.Record{}, domain.ErrInvalidRequest
	}
	m.records[userID+"/"+key] = r
	return r, nil
}

func (m *fakeMemory) History(_ context.Context, _ string, n int) ([]dommem.Turn, error) {
	if n < len(m.turns) {
		return m.turns[len(m.turns)-n:], nil
	}
	return m.turns, nil
}

func (m *fakeMemory) Sweep(_ context.Context) (int, error) { return m.swept, m.err }

type fakeIngester struct {
	results []dombatch.Result
	err     error
	items   []batchuc.Item
}

func (f *fakeIngester) Ingest(_ context.Context, items []batchuc.Item) ([]dombatch.Result, error) {
	f.items = items
	return f.results, f.err
}

func (f *fakeIngester) MaxBatchSize() int { return 2 }

type fakeUsage struct{}

func (fakeUsage) GetReport(_ context.Context, p domusage.Period) domusage.Report {
	start, end := p.Bounds(time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC))
	return domusage.NewReport(p, start, end, []domusage.Line{
		domusage.NewLine("llm", "openai", 1000, 250, 750),
	})
}

type fakeHealth struct{ report healthuc.Report }

func (f fakeHealth) Check(_ context.Context) healthuc.Report { return f.report }

type fixture struct {
	analysis *fakeAnalyzer
	memory   *fakeMemory
	ingest   *fakeIngester
	health   fakeHealth
}

func newFixture() *fixture {
	return &fixture{
		analysis: &fakeAnalyzer{},
		memory:   newFakeMemory(),
		ingest:   &fakeIngester{},
		health:   fakeHealth{report: healthuc.Report{Status: healthuc.Healthy, Checks: map[string]healthuc.CheckResult{"database": healthuc.CheckOK}}},
	}
}

func (f *fixture) router() http.Handler {
	s := NewServer(f.analysis, f.memory, f.ingest, fakeUsage{}, f.health, zap.NewNop())
	r := gochi.NewRouter()
	s.Routes(r)
	return r
}

func (f *fixture) do(t *testing.T, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rr := httptest.NewRecorder()
	f.router().ServeHTTP(rr, req)
	return rr
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var e ErrorResponse
	if err := json.NewDecoder(rr.Body).Decode(&e); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return e
}
