package inference

import (
	"fmt"
	"sync/atomic"

	"github.com/brensch/alphafour/game"
)

// OnnxPool spreads Predict calls over several sessions, each with its own
// batching loop. A call goes to the session with the shortest queue; ties
// rotate so idle sessions share the load.
type OnnxPool struct {
	clients []*OnnxClient
	next    atomic.Uint64
}

func NewOnnxClientPool(modelPath string, sessions int) (*OnnxPool, error) {
	return NewOnnxClientPoolWithConfig(modelPath, sessions, OnnxClientConfig{BatchSize: DefaultBatchSize, BatchTimeout: DefaultBatchTimeout})
}

func NewOnnxClientPoolWithConfig(modelPath string, sessions int, cfg OnnxClientConfig) (*OnnxPool, error) {
	return newPool(sessions, func(int) (*OnnxClient, error) {
		return NewOnnxClientWithConfig(modelPath, cfg)
	})
}

// newPool opens sessions clients. If one fails the ones already open are
// closed.
func newPool(sessions int, open func(i int) (*OnnxClient, error)) (*OnnxPool, error) {
	sessions = max(sessions, 1)
	p := &OnnxPool{clients: make([]*OnnxClient, 0, sessions)}
	for i := range sessions {
		c, err := open(i)
		if err != nil {
			_ = p.Close()
			return nil, fmt.Errorf("create onnx client %d/%d: %w", i+1, sessions, err)
		}
		p.clients = append(p.clients, c)
	}
	return p, nil
}

func (p *OnnxPool) pick() *OnnxClient {
	start := int(p.next.Add(1)-1) % len(p.clients)
	best := p.clients[start]
	for i := 1; i < len(p.clients); i++ {
		c := p.clients[(start+i)%len(p.clients)]
		if len(c.requestsChan) < len(best.requestsChan) {
			best = c
		}
	}
	return best
}

func (p *OnnxPool) Predict(state *game.GameState) ([]float32, []float32, error) {
	if len(p.clients) == 0 {
		return nil, nil, ErrClosed
	}
	return p.pick().Predict(state)
}

// Stats sums the counters of every session.
func (p *OnnxPool) Stats() RuntimeStats {
	var total RuntimeStats
	for _, c := range p.clients {
		total = total.Add(c.Stats())
	}
	return total
}

func (p *OnnxPool) Close() error {
	var firstErr error
	for _, c := range p.clients {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
