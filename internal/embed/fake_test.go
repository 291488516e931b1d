package embed

import (
	"context"
	"sync"
)

// scriptedProvider returns errors from a script, then hash vectors.
type scriptedProvider struct {
	mu      sync.Mutex
	dims    int
	errs    []error
	batches [][]string
	outDims int
}

func newScripted(dims int, errs ...error) *scriptedProvider {
	return &scriptedProvider{dims: dims, errs: errs}
}

func (p *scriptedProvider) Name() string    { return "scripted" }
func (p *scriptedProvider) Model() string   { return "test" }
func (p *scriptedProvider) Dimensions() int { return p.dims }

func (p *scriptedProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.batches = append(p.batches, append([]string(nil), texts...))
	if len(p.errs) > 0 {
		err := p.errs[0]
		p.errs = p.errs[1:]
		if err != nil {
			return nil, err
		}
	}

	dims := p.dims
	if p.outDims > 0 {
		dims = p.outDims
	}
	return NewHashProvider(dims).Embed(ctx, texts)
}

func (p *scriptedProvider) batchSizes() []int {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]int, len(p.batches))
	for i, b := range p.batches {
		out[i] = len(b)
	}
	return out
}

// pingingProvider fails Ping with pingErr.
type pingingProvider struct {
	*scriptedProvider
	pingErr error
	pings   int
}

func (p *pingingProvider) Ping(context.Context) error {
	p.pings++
	return p.pingErr
}
