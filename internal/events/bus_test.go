package events

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryBus_PublishSubscribe(t *testing.T) {
	bus := NewInMemoryBus(nil)
	ctx := context.Background()

	var received []*Message
	_, err := bus.Subscribe(SubjectConfigChanged, func(ctx context.Context, msg *Message) error {
		received = append(received, msg)
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, bus.Publish(ctx, SubjectConfigChanged, []byte("changed")))
	require.NoError(t, bus.Publish(ctx, SubjectAuditEvent, []byte("ignored")))

	require.Len(t, received, 1)
	assert.Equal(t, SubjectConfigChanged, received[0].Subject)
	assert.Equal(t, "changed", string(received[0].Data))
	assert.False(t, received[0].Timestamp.IsZero())
}

func TestInMemoryBus_FanOut(t *testing.T) {
	bus := NewInMemoryBus(nil)
	count := 0
	for i := 0; i < 3; i++ {
		_, err := bus.Subscribe(SubjectLockout, func(ctx context.Context, msg *Message) error {
			count++
			return nil
		})
		require.NoError(t, err)
	}

	require.NoError(t, bus.Publish(context.Background(), SubjectLockout, []byte("x")))
	assert.Equal(t, 3, count)
}

func TestInMemoryBus_HandlerErrorDoesNotStopDelivery(t *testing.T) {
	bus := NewInMemoryBus(nil)
	delivered := false
	_, err := bus.Subscribe(SubjectAuditEvent, func(ctx context.Context, msg *Message) error {
		return errors.New("boom")
	})
	require.NoError(t, err)
	_, err = bus.Subscribe(SubjectAuditEvent, func(ctx context.Context, msg *Message) error {
		delivered = true
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, bus.Publish(context.Background(), SubjectAuditEvent, []byte("x")))
	assert.True(t, delivered)
}

func TestInMemoryBus_Unsubscribe(t *testing.T) {
	bus := NewInMemoryBus(nil)
	count := 0
	sub, err := bus.Subscribe(SubjectConfigChanged, func(ctx context.Context, msg *Message) error {
		count++
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, bus.Publish(context.Background(), SubjectConfigChanged, nil))
	require.NoError(t, sub.Unsubscribe())
	require.NoError(t, bus.Publish(context.Background(), SubjectConfigChanged, nil))

	assert.Equal(t, 1, count)
	assert.Equal(t, SubjectConfigChanged, sub.Subject())
}
