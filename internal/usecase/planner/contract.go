package planner

import "context"

// Completer is the LLM surface used for optional topic extraction.
type Completer interface {
	Complete(ctx context.Context, prompt, context string) (string, error)
}

// SessionContext is what memory knows about the conversation at plan time.
type SessionContext struct {
	TurnID        string
	PrimaryTicker string // session memory
	DefaultTicker string // user's global preference
}
