package streamutil

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestPipelineDeliversInOrder(t *testing.T) {
	p := NewPipeline(context.Background(), DefaultPipelineConfig())
	p.Go(func(ctx context.Context) error {
		p.SendData([]byte("one"))
		p.SendData([]byte("two"))
		return nil
	})
	p.Start()

	var got []string
	for chunk := range p.Output() {
		if chunk.Err != nil {
			t.Fatalf("unexpected error chunk: %v", chunk.Err)
		}
		got = append(got, string(chunk.Data))
	}
	if len(got) != 2 || got[0] != "one" || got[1] != "two" {
		t.Fatalf("got %v", got)
	}
}

func TestPipelineErrorCancelsGroup(t *testing.T) {
	errBoom := errors.New("boom")
	p := NewPipeline(context.Background(), DefaultPipelineConfig())
	p.Go(func(ctx context.Context) error {
		return errBoom
	})
	p.Go(func(ctx context.Context) error {
		<-ctx.Done()
		return nil
	})
	if err := p.Close(); !errors.Is(err, errBoom) {
		t.Fatalf("Close() = %v, want %v", err, errBoom)
	}
}

func TestPipelineSendAfterCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := NewPipeline(ctx, DefaultPipelineConfig())
	cancel()
	// Buffered channel still accepts one chunk; drain then cancel path.
	for i := 0; i < 256; i++ {
		if !p.Send(Chunk{Data: []byte("x")}) {
			return
		}
	}
	t.Fatal("Send kept succeeding after cancel with full buffer")
}

func TestIdleWatcherFires(t *testing.T) {
	w := NewIdleWatcher(10 * time.Millisecond)
	defer w.Stop()

	fired := make(chan struct{})
	_, done := w.Watch(20*time.Millisecond, func() {
		close(fired)
	})
	defer done()

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("idle callback never fired")
	}
}

func TestIdleWatcherTouchDefersIdle(t *testing.T) {
	w := NewIdleWatcher(5 * time.Millisecond)
	defer w.Stop()

	idle := make(chan struct{}, 1)
	touch, done := w.Watch(50*time.Millisecond, func() {
		select {
		case idle <- struct{}{}:
		default:
		}
	})
	defer done()

	deadline := time.Now().Add(120 * time.Millisecond)
	for time.Now().Before(deadline) {
		touch()
		time.Sleep(5 * time.Millisecond)
	}
	select {
	case <-idle:
		t.Fatal("idle fired despite continuous activity")
	default:
	}
}
