package redisstream

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/folio/internal/core/domain"
)

type fakeRedis struct {
	args []*redis.XAddArgs
	err  error
}

var _ XAdder = (*fakeRedis)(nil)

func (f *fakeRedis) XAdd(_ context.Context, a *redis.XAddArgs) *redis.StringCmd {
	f.args = append(f.args, a)
	return redis.NewStringResult("1-0", f.err)
}

func TestPublisher_Publish(t *testing.T) {
	fake := &fakeRedis{}
	pub := New(fake, "")

	err := pub.Publish(context.Background(), domain.Event{
		Type:  domain.EventJobStateChanged,
		JobID: "job-1",
		State: domain.JobSucceeded,
	})
	require.NoError(t, err)
	require.Len(t, fake.args, 1)

	args := fake.args[0]
	assert.Equal(t, DefaultStream, args.Stream)
	assert.Equal(t, int64(DefaultMaxLen), args.MaxLen)
	assert.True(t, args.Approx)

	values := args.Values.(map[string]any)
	assert.Equal(t, "job.state_changed", values["type"])

	var got domain.Event
	require.NoError(t, json.Unmarshal(values["event"].([]byte), &got))
	assert.Equal(t, "job-1", got.JobID)
	assert.NotEmpty(t, got.ID)
	assert.False(t, got.OccurredAt.IsZero())
}

func TestPublisher_NoTrim(t *testing.T) {
	fake := &fakeRedis{}
	pub := New(fake, "custom", WithMaxLenApprox(0))

	require.NoError(t, pub.Publish(context.Background(), domain.Event{Type: domain.EventSectionCompleted}))
	assert.Equal(t, "custom", fake.args[0].Stream)
	assert.Zero(t, fake.args[0].MaxLen)
}

func TestPublisher_WrapsError(t *testing.T) {
	fake := &fakeRedis{err: errors.New("connection refused")}
	pub := New(fake, "s")

	err := pub.Publish(context.Background(), domain.Event{Type: domain.EventJobStateChanged})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "xadd s")
}

func TestDial_RequiresAddr(t *testing.T) {
	_, err := Dial(context.Background(), "")
	assert.Error(t, err)
}
