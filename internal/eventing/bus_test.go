package eventing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stationSeen struct {
	StationID string
}

func TestOnDeliversValuesAndPointers(t *testing.T) {
	bus := NewInMemoryBus()
	var got []string
	On(bus, func(ctx context.Context, e stationSeen) error {
		got = append(got, e.StationID)
		return nil
	})

	require.NoError(t, bus.Publish(context.Background(), stationSeen{StationID: "ST-1"}))
	require.NoError(t, bus.Publish(context.Background(), &stationSeen{StationID: "ST-2"}))
	assert.Equal(t, []string{"ST-1", "ST-2"}, got)
}

func TestPublishRunsAllHandlersAndJoinsErrors(t *testing.T) {
	bus := NewInMemoryBus()
	calls := 0
	bus.Subscribe(EventTypeOf[stationSeen](), func(ctx context.Context, event any) error {
		calls++
		return errors.New("first")
	})
	bus.Subscribe(EventTypeOf[stationSeen](), func(ctx context.Context, event any) error {
		calls++
		return nil
	})

	err := bus.Publish(context.Background(), stationSeen{})
	assert.EqualError(t, err, "first")
	assert.Equal(t, 2, calls)
}

func TestPublishNil(t *testing.T) {
	assert.ErrorIs(t, NewInMemoryBus().Publish(context.Background(), nil), ErrNilEvent)
}

func TestPublishWithoutSubscribers(t *testing.T) {
	assert.NoError(t, NewInMemoryBus().Publish(context.Background(), stationSeen{}))
}
