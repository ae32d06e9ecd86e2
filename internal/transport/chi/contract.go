package chi

import (
	"context"
	"encoding/json"

	dombatch "github.com/kailas-cloud/filingbrief/internal/domain/batch"
	dommem "github.com/kailas-cloud/filingbrief/internal/domain/memory"
	domusage "github.com/kailas-cloud/filingbrief/internal/domain/usage"
	analysisuc "github.com/kailas-cloud/filingbrief/internal/usecase/analysis"
	batchuc "github.com/kailas-cloud/filingbrief/internal/usecase/batch"
	healthuc "github.com/kailas-cloud/filingbrief/internal/usecase/health"
)

// Analyzer runs one analysis turn.
type Analyzer interface {
	Run(ctx context.Context, req analysisuc.Request) (analysisuc.Result, error)
}

// Memory is the slice of the memory service the API exposes.
type Memory interface {
	StartSession(ctx context.Context, userID string) (string, error)
	SessionOwner(ctx context.Context, sessionID string) (string, error)
	GetGlobal(ctx context.Context, userID, key string) (dommem.Record, error)
	PutGlobal(ctx context.Context, userID, key string, value json.RawMessage) (dommem.Record, error)
	History(ctx context.Context, sessionID string, n int) ([]dommem.Turn, error)
	Sweep(ctx context.Context) (int, error)
}

// Ingester loads filing chunks.
type Ingester interface {
	Ingest(ctx context.Context, items []batchuc.Item) ([]dombatch.Result, error)
	MaxBatchSize() int
}

// UsageReporter builds token usage reports.
type UsageReporter interface {
	GetReport(ctx context.Context, period domusage.Period) domusage.Report
}

// HealthChecker aggregates dependency health.
type HealthChecker interface {
	Check(ctx context.Context) healthuc.Report
}
