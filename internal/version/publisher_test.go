package version

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/corefin/fifo-engine/internal/engine"
)

type fakeCommitter struct {
	err      error
	requests []*engine.CommitRequest
	advances []bool
}

func (f *fakeCommitter) CommitBatch(_ context.Context, req *engine.CommitRequest, advance bool) error {
	if f.err != nil {
		return f.err
	}
	f.requests = append(f.requests, req)
	f.advances = append(f.advances, advance)
	return nil
}

type fakeInvalidator struct {
	symbols []string
}

func (f *fakeInvalidator) Invalidate(symbol string) {
	f.symbols = append(f.symbols, symbol)
}

func testRun(status engine.RunStatus) *engine.Run {
	return &engine.Run{
		BatchID:    "batch-1",
		Symbol:     "BTC-USD",
		Type:       engine.RunTypeFull,
		Version:    3,
		Status:     status,
		StartedAt:  time.Now().UTC(),
		FinishedAt: time.Now().UTC(),
	}
}

func TestPublisher_CompletedAdvancesPointer(t *testing.T) {
	committer := &fakeCommitter{}
	invalidator := &fakeInvalidator{}
	pub := NewPublisher(&PublisherConfig{
		Committer:   committer,
		Invalidator: invalidator,
		Logger:      zap.NewNop(),
	})

	err := pub.Publish(context.Background(), &engine.CommitRequest{Run: testRun(engine.RunStatusCompleted)})
	require.NoError(t, err)

	require.Len(t, committer.advances, 1)
	assert.True(t, committer.advances[0])
	assert.Equal(t, []string{"BTC-USD"}, invalidator.symbols)
}

func TestPublisher_PartialLeavesPointer(t *testing.T) {
	committer := &fakeCommitter{}
	invalidator := &fakeInvalidator{}
	pub := NewPublisher(&PublisherConfig{
		Committer:   committer,
		Invalidator: invalidator,
		Logger:      zap.NewNop(),
	})

	run := testRun(engine.RunStatusPartial)
	run.UnmatchedCount = 2

	err := pub.Publish(context.Background(), &engine.CommitRequest{Run: run})
	require.NoError(t, err)

	require.Len(t, committer.advances, 1)
	assert.False(t, committer.advances[0])
	assert.Empty(t, invalidator.symbols)
}

func TestPublisher_RejectsNonTerminalRun(t *testing.T) {
	pub := NewPublisher(&PublisherConfig{
		Committer: &fakeCommitter{},
		Logger:    zap.NewNop(),
	})

	err := pub.Publish(context.Background(), &engine.CommitRequest{Run: testRun(engine.RunStatusRunning)})
	assert.Error(t, err)

	err = pub.Publish(context.Background(), &engine.CommitRequest{Run: testRun(engine.RunStatusFailed)})
	assert.Error(t, err)
}

func TestPublisher_CommitErrorPropagates(t *testing.T) {
	committer := &fakeCommitter{err: errors.New("connection reset")}
	invalidator := &fakeInvalidator{}
	pub := NewPublisher(&PublisherConfig{
		Committer:   committer,
		Invalidator: invalidator,
		Logger:      zap.NewNop(),
	})

	err := pub.Publish(context.Background(), &engine.CommitRequest{Run: testRun(engine.RunStatusCompleted)})
	require.Error(t, err)
	assert.Empty(t, invalidator.symbols)
}
