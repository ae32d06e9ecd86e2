// Package batch describes the per-chunk outcome of an ingest request.
package batch

// ItemStatus says what happened to one submitted chunk.
type ItemStatus string

const (
	// StatusStored chunks are embedded and searchable.
	StatusStored ItemStatus = "stored"
	// StatusRejected chunks failed validation and never reached the embedder.
	StatusRejected ItemStatus = "rejected"
	// StatusFailed chunks were valid but embedding or storage failed.
	StatusFailed ItemStatus = "failed"
)

// Result is the outcome for one chunk, in request order.
type Result struct {
	id     string
	status ItemStatus
	err    error
}

// Stored marks a chunk as written.
func Stored(id string) Result { return Result{id: id, status: StatusStored} }

// Rejected marks a chunk that did not validate.
func Rejected(id string, err error) Result { return Result{id: id, status: StatusRejected, err: err} }

// Failed marks a valid chunk lost to a provider or store error; retrying may help.
func Failed(id string, err error) Result { return Result{id: id, status: StatusFailed, err: err} }

func (r Result) ID() string         { return r.id }
func (r Result) Status() ItemStatus { return r.status }
func (r Result) Err() error         { return r.err }

// Stored reports whether the chunk landed in the index.
func (r Result) Stored() bool { return r.status == StatusStored }

// Counts tallies results by status.
type Counts struct {
	Stored   int
	Rejected int
	Failed   int
}

// Tally counts results by status.
func Tally(results []Result) Counts {
	var c Counts
	for _, r := range results {
		switch r.status {
		case StatusStored:
			c.Stored++
		case StatusRejected:
			c.Rejected++
		case StatusFailed:
			c.Failed++
		}
	}
	return c
}
