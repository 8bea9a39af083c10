package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/therealutkarshpriyadarshi/poseflow/internal/activity"
)

type fakeChannel struct {
	exchange string
	key      string
	msgs     []amqp.Publishing
	err      error
	closed   bool
}

func (c *fakeChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	if c.err != nil {
		return c.err
	}
	c.exchange = exchange
	c.key = key
	c.msgs = append(c.msgs, msg)
	return nil
}

func (c *fakeChannel) Close() error {
	c.closed = true
	return nil
}

func TestPublishRoutesByKind(t *testing.T) {
	ch := &fakeChannel{}
	p := NewWithChannel(ch, "poseflow.activity")

	err := p.Publish(context.Background(), activity.Event{
		Kind:   activity.JobCompleted,
		JobID:  "job-1",
		Fields: map[string]interface{}{"attempts": 2},
	})
	require.NoError(t, err)

	assert.Equal(t, "poseflow.activity", ch.exchange)
	assert.Equal(t, "job.completed", ch.key)
	require.Len(t, ch.msgs, 1)
	assert.Equal(t, "application/json", ch.msgs[0].ContentType)

	var evt activity.Event
	require.NoError(t, json.Unmarshal(ch.msgs[0].Body, &evt))
	assert.Equal(t, "job-1", evt.JobID)
	assert.Equal(t, activity.JobCompleted, evt.Kind)
}

func TestPublishError(t *testing.T) {
	p := NewWithChannel(&fakeChannel{err: errors.New("channel closed")}, "x")

	err := p.Publish(context.Background(), activity.Event{Kind: activity.JobFailed})
	assert.ErrorContains(t, err, "channel closed")
	assert.Equal(t, "amqp", p.Name())
}

func TestClose(t *testing.T) {
	ch := &fakeChannel{}
	require.NoError(t, NewWithChannel(ch, "x").Close())
	assert.True(t, ch.closed)
}
