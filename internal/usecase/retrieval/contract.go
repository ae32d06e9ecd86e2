package retrieval

import (
	"context"

	"github.com/kailas-cloud/filingbrief/internal/domain/chunk"
	"github.com/kailas-cloud/filingbrief/internal/domain/scope"
)

// Backend runs the two retrieval paths for one scope. Results need not be sorted
// and may (wrongly) include chunks outside the scope; the service re-checks both.
type Backend interface {
	Dense(ctx context.Context, sc scope.Scope, text string, n int) ([]chunk.Scored, error)
	Sparse(ctx context.Context, sc scope.Scope, text string, n int) ([]chunk.Scored, error)
}

// ChunkSearcher is the server-side search surface of the document store.
type ChunkSearcher interface {
	SearchDense(ctx context.Context, sc scope.Scope, vector []float32, n int) ([]chunk.Scored, error)
	SearchSparse(ctx context.Context, sc scope.Scope, text string, n int) ([]chunk.Scored, error)
}
