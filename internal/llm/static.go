package llm

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Reply is one scripted StaticProvider answer
type Reply struct {
	Text  string
	Err   error
	Delay time.Duration
}

// StaticProvider replays scripted replies in order, repeating the last one
// It backs offline runs and tests
type StaticProvider struct {
	mu      sync.Mutex
	replies []Reply
	next    int
	calls   atomic.Int32
	prompts []string
}

// NewStaticProvider creates a provider that answers with replies
func NewStaticProvider(replies ...Reply) *StaticProvider {
	return &StaticProvider{replies: replies}
}

// Name returns the provider name
func (p *StaticProvider) Name() string { return "static" }

// IsAvailable always reports true
func (p *StaticProvider) IsAvailable(context.Context) bool { return true }

// Calls returns how many times Generate ran
func (p *StaticProvider) Calls() int { return int(p.calls.Load()) }

// Prompts returns every prompt received
func (p *StaticProvider) Prompts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.prompts...)
}

// Generate returns the next scripted reply
func (p *StaticProvider) Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error) {
	p.calls.Add(1)

	p.mu.Lock()
	p.prompts = append(p.prompts, req.Prompt)
	var r Reply
	if len(p.replies) > 0 {
		r = p.replies[min(p.next, len(p.replies)-1)]
		p.next++
	}
	p.mu.Unlock()

	if r.Delay > 0 {
		select {
		case <-time.After(r.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if r.Err != nil {
		return nil, r.Err
	}
	return &GenerateResponse{Text: r.Text, Model: "static"}, nil
}
