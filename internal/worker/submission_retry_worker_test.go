package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/exstem-integrity/internal/config"
	"github.com/stemsi/exstem-integrity/internal/model"
)

type fakeSubmitter struct {
	mu      sync.Mutex
	err     error
	records []model.SubmissionRecord
}

func (s *fakeSubmitter) Submit(_ context.Context, rec model.SubmissionRecord) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	if s.err != nil {
		return "", s.err
	}
	return "sub-1", nil
}

func (s *fakeSubmitter) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

func retryItem(t *testing.T, attempts int) string {
	t.Helper()
	data, err := json.Marshal(model.SubmissionRetry{
		Record: model.SubmissionRecord{
			AssignmentID: uuid.New(),
			UserID:       7,
			Status:       model.SubmissionStatusStoppedWithCaution,
		},
		Cause:    "503",
		Attempts: attempts,
		QueuedAt: time.Now().UTC(),
	})
	require.NoError(t, err)
	return string(data)
}

func TestSubmissionRetryWorker_Success(t *testing.T) {
	mr, rdb := newTestRedis(t)
	api := &fakeSubmitter{}
	w := NewSubmissionRetryWorker(api, rdb, zerolog.Nop())

	assert.True(t, w.retry(context.Background(), retryItem(t, 0)))
	assert.Equal(t, 1, api.calls())
	assert.Zero(t, queueLen(mr, config.WorkerKey.RetrySubmissionsQueue))
}

func TestSubmissionRetryWorker_FailureRequeuesWithAttempt(t *testing.T) {
	mr, rdb := newTestRedis(t)
	api := &fakeSubmitter{err: errors.New("still down")}
	w := NewSubmissionRetryWorker(api, rdb, zerolog.Nop())

	assert.False(t, w.retry(context.Background(), retryItem(t, 1)))

	items, err := mr.List(config.WorkerKey.RetrySubmissionsQueue)
	require.NoError(t, err)
	require.Len(t, items, 1)

	var item model.SubmissionRetry
	require.NoError(t, json.Unmarshal([]byte(items[0]), &item))
	assert.Equal(t, 2, item.Attempts)
	assert.Equal(t, "still down", item.Cause)
}

func TestSubmissionRetryWorker_DeadLettersAfterMaxAttempts(t *testing.T) {
	mr, rdb := newTestRedis(t)
	api := &fakeSubmitter{err: errors.New("still down")}
	w := NewSubmissionRetryWorker(api, rdb, zerolog.Nop())

	assert.False(t, w.retry(context.Background(), retryItem(t, MaxSubmitAttempts-1)))

	assert.Zero(t, queueLen(mr, config.WorkerKey.RetrySubmissionsQueue))
	assert.Equal(t, 1, queueLen(mr, config.WorkerKey.DeadSubmissionsQueue))
}

func TestSubmissionRetryWorker_MalformedItemIsDiscarded(t *testing.T) {
	mr, rdb := newTestRedis(t)
	api := &fakeSubmitter{}
	w := NewSubmissionRetryWorker(api, rdb, zerolog.Nop())

	assert.True(t, w.retry(context.Background(), "{"))
	assert.Zero(t, api.calls())
	assert.Zero(t, queueLen(mr, config.WorkerKey.RetrySubmissionsQueue))
}

func TestSubmissionRetryWorker_StartProcessesQueueAndStops(t *testing.T) {
	mr, rdb := newTestRedis(t)
	api := &fakeSubmitter{}
	w := NewSubmissionRetryWorker(api, rdb, zerolog.Nop())

	_, err := mr.Push(config.WorkerKey.RetrySubmissionsQueue, retryItem(t, 0), retryItem(t, 2))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Start(ctx) }()

	require.Eventually(t, func() bool { return api.calls() == 2 }, 3*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop")
	}
}

func TestSubmissionRetryWorker_DrainAttemptsEachItemOnce(t *testing.T) {
	mr, rdb := newTestRedis(t)
	api := &fakeSubmitter{err: errors.New("down")}
	w := NewSubmissionRetryWorker(api, rdb, zerolog.Nop())

	_, err := mr.Push(config.WorkerKey.RetrySubmissionsQueue, retryItem(t, 0), retryItem(t, 0))
	require.NoError(t, err)

	w.drain(context.Background())

	assert.Equal(t, 2, api.calls(), "failed items are requeued but not retried again in the same drain")
	assert.Equal(t, 2, queueLen(mr, config.WorkerKey.RetrySubmissionsQueue))
}
