// Package streamutil provides the channel pipeline that carries translated
// stream frames from the upstream bridge to the HTTP writer, and the shared
// idle watcher guarding upstream reads.
package streamutil

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Chunk is a single unit of client-bound stream data: one SSE frame or one
// NDJSON line, already encoded for the wire.
type Chunk struct {
	Data []byte
	Err  error
}

// Pipeline moves chunks from producer goroutines to one consumer. Producers
// run in an errgroup sharing a derived context; the consumer ranges over
// Output and stops when it closes. Cancelling the parent context unblocks
// every pending Send.
type Pipeline struct {
	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group
	out    chan Chunk
	once   sync.Once
	err    error
}

// PipelineConfig sizes the output channel.
type PipelineConfig struct {
	// BufferSize for the output channel (default: 128)
	BufferSize int
}

func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{BufferSize: 128}
}

// NewPipeline creates a pipeline bound to parent. A producer error cancels
// the other producers through the errgroup context.
func NewPipeline(parent context.Context, cfg PipelineConfig) *Pipeline {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 128
	}
	ctx, cancel := context.WithCancel(parent)
	g, gctx := errgroup.WithContext(ctx)
	return &Pipeline{
		ctx:    gctx,
		cancel: cancel,
		group:  g,
		out:    make(chan Chunk, cfg.BufferSize),
	}
}

// Output is closed once all producers have returned (after Start or Close).
func (p *Pipeline) Output() <-chan Chunk {
	return p.out
}

// Go starts a producer goroutine.
func (p *Pipeline) Go(f func(ctx context.Context) error) {
	p.group.Go(func() error {
		return f(p.ctx)
	})
}

// Send delivers a chunk to the consumer. False means the pipeline was
// cancelled and the producer should stop.
func (p *Pipeline) Send(chunk Chunk) bool {
	select {
	case p.out <- chunk:
		return true
	case <-p.ctx.Done():
		return false
	}
}

// SendData sends encoded wire bytes.
func (p *Pipeline) SendData(data []byte) bool {
	return p.Send(Chunk{Data: data})
}

// Close waits for all producers, closes the output channel and returns the
// first producer error. Safe to call more than once.
func (p *Pipeline) Close() error {
	p.once.Do(func() {
		p.err = p.group.Wait()
		close(p.out)
		p.cancel()
	})
	return p.err
}

// Start closes the pipeline in the background once all producers return,
// letting the consumer detect completion via channel close.
func (p *Pipeline) Start() {
	go func() {
		_ = p.Close()
	}()
}
