package aggregator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeonardoBeccarini/sensordash/internal/model"
)

var t0 = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func temp(v float64, at time.Time) model.FeedEvent {
	return model.NewReadingEvent(model.Temperature, v, at)
}

func startAggregator(t *testing.T) (*DataAggregatorService, context.Context) {
	t.Helper()
	agg := NewDataAggregatorService(Config{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		agg.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return agg, ctx
}

func TestInitialState(t *testing.T) {
	agg := NewDataAggregatorService(Config{})
	s := agg.Snapshot()

	assert.True(t, s.Loading)
	assert.False(t, s.HasError())
	assert.Nil(t, s.Temperature)
	assert.Nil(t, s.Presence)
	assert.Nil(t, s.SoilMoisture)
	assert.Nil(t, s.Humidity)
	assert.Nil(t, s.LastUpdateTime)
	assert.Equal(t, []float64{0, 0, 0, 0, 0}, s.TemperatureHistory)
}

func TestApplyTemperatureAndPresence(t *testing.T) {
	agg := NewDataAggregatorService(Config{})

	agg.Apply(temp(21, t0))
	agg.Apply(temp(23, t0.Add(time.Minute)))
	s := agg.Apply(model.NewPresenceEvent(true, t0.Add(2*time.Minute)))

	require.NotNil(t, s.Temperature)
	require.NotNil(t, s.Presence)
	assert.Equal(t, 23.0, *s.Temperature)
	assert.True(t, *s.Presence)
	assert.Equal(t, []float64{0, 0, 0, 21, 23}, s.TemperatureHistory)
	assert.False(t, s.Loading)
	require.NotNil(t, s.LastUpdateTime)
	assert.Equal(t, t0.Add(2*time.Minute), *s.LastUpdateTime)
	assert.Equal(t, uint64(3), s.Version)
}

func TestSoilAndHumidityDoNotTouchLastUpdate(t *testing.T) {
	agg := NewDataAggregatorService(Config{})

	agg.Apply(temp(20, t0))
	agg.Apply(model.NewReadingEvent(model.SoilMoisture, 41, t0.Add(time.Hour)))
	s := agg.Apply(model.NewReadingEvent(model.Humidity, 55, t0.Add(2*time.Hour)))

	assert.Equal(t, 41.0, *s.SoilMoisture)
	assert.Equal(t, 55.0, *s.Humidity)
	assert.Equal(t, t0, *s.LastUpdateTime)
}

func TestLastWriteWinsPerFeed(t *testing.T) {
	agg := NewDataAggregatorService(Config{})

	events := []model.FeedEvent{
		model.NewReadingEvent(model.Humidity, 40, t0),
		temp(18, t0),
		model.NewPresenceEvent(true, t0),
		model.NewReadingEvent(model.Humidity, 42, t0),
		model.NewReadingEvent(model.SoilMoisture, 30, t0),
		model.NewPresenceEvent(false, t0),
		temp(19, t0),
		model.NewReadingEvent(model.SoilMoisture, 31, t0),
	}
	var s DashboardState
	for _, ev := range events {
		s = agg.Apply(ev)
	}

	assert.Equal(t, 19.0, *s.Temperature)
	assert.False(t, *s.Presence)
	assert.Equal(t, 31.0, *s.SoilMoisture)
	assert.Equal(t, 42.0, *s.Humidity)
}

func TestHistoryIsBounded(t *testing.T) {
	agg := NewDataAggregatorService(Config{})
	var s DashboardState
	for v := 1.0; v <= 7; v++ {
		s = agg.Apply(temp(v, t0))
	}
	assert.Equal(t, []float64{3, 4, 5, 6, 7}, s.TemperatureHistory)
}

func TestApplyIgnoresEmptyEvent(t *testing.T) {
	agg := NewDataAggregatorService(Config{})
	s := agg.Apply(model.FeedEvent{Feed: model.Temperature, Timestamp: t0})

	assert.True(t, s.Loading)
	assert.Nil(t, s.Temperature)
	assert.Equal(t, uint64(0), s.Version)
}

func TestPublishedSnapshotsAreImmutable(t *testing.T) {
	agg := NewDataAggregatorService(Config{})
	agg.Apply(temp(21, t0))
	first := agg.Apply(temp(22, t0))

	first.TemperatureHistory[4] = -1
	agg.Apply(temp(23, t0))

	assert.Equal(t, []float64{0, 0, 21, 22, 23}, agg.Snapshot().TemperatureHistory)
}

func TestTransportErrorBeforeData(t *testing.T) {
	agg, ctx := startAggregator(t)

	require.NoError(t, agg.Reset(ctx, 1))
	require.NoError(t, agg.Fail(ctx, 1, "network down"))

	require.Eventually(t, func() bool { return agg.Snapshot().HasError() }, time.Second, 5*time.Millisecond)
	s := agg.Snapshot()
	assert.Equal(t, "network down", s.Error)
	assert.True(t, s.Loading)
	assert.Nil(t, s.Temperature)
	assert.Nil(t, s.Presence)
	assert.Nil(t, s.SoilMoisture)
	assert.Nil(t, s.Humidity)
}

func TestFirstErrorWins(t *testing.T) {
	agg, ctx := startAggregator(t)

	require.NoError(t, agg.Reset(ctx, 1))
	require.NoError(t, agg.Fail(ctx, 1, "first"))
	require.NoError(t, agg.Fail(ctx, 1, "second"))
	require.NoError(t, agg.Submit(ctx, temp(20, t0).WithEpoch(1)))

	require.Eventually(t, func() bool { return agg.Snapshot().Temperature != nil }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "first", agg.Snapshot().Error)
}

func TestErrorDoesNotBlockOtherFeeds(t *testing.T) {
	agg, ctx := startAggregator(t)

	require.NoError(t, agg.Reset(ctx, 1))
	require.NoError(t, agg.Fail(ctx, 1, "temperature feed unavailable"))
	require.NoError(t, agg.Submit(ctx, model.NewReadingEvent(model.Humidity, 60, t0).WithEpoch(1)))

	require.Eventually(t, func() bool { return agg.Snapshot().Humidity != nil }, time.Second, 5*time.Millisecond)
	s := agg.Snapshot()
	assert.Equal(t, 60.0, *s.Humidity)
	assert.True(t, s.Loading, "a failure halts loading transitions")
	assert.Equal(t, "temperature feed unavailable", s.Error)
}

func TestResetKeepsHistory(t *testing.T) {
	agg, ctx := startAggregator(t)

	require.NoError(t, agg.Reset(ctx, 1))
	require.NoError(t, agg.Submit(ctx, temp(21, t0).WithEpoch(1)))
	require.NoError(t, agg.Submit(ctx, temp(23, t0).WithEpoch(1)))
	require.NoError(t, agg.Fail(ctx, 1, "network down"))
	require.NoError(t, agg.Reset(ctx, 2))

	require.Eventually(t, func() bool {
		s := agg.Snapshot()
		return !s.HasError() && s.Loading && s.Temperature != nil
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []float64{0, 0, 0, 21, 23}, agg.Snapshot().TemperatureHistory)
}

func TestStaleEpochEventsAreDropped(t *testing.T) {
	agg, ctx := startAggregator(t)

	require.NoError(t, agg.Reset(ctx, 2))
	require.NoError(t, agg.Submit(ctx, temp(99, t0).WithEpoch(1)))
	require.NoError(t, agg.Fail(ctx, 1, "late failure"))
	require.NoError(t, agg.Submit(ctx, model.NewReadingEvent(model.Humidity, 50, t0).WithEpoch(2)))

	require.Eventually(t, func() bool { return agg.Snapshot().Humidity != nil }, time.Second, 5*time.Millisecond)
	s := agg.Snapshot()
	assert.Nil(t, s.Temperature)
	assert.False(t, s.HasError())
	assert.False(t, s.Loading)
}

func TestOnLoadedFiresOncePerEpoch(t *testing.T) {
	agg := NewDataAggregatorService(Config{})
	var calls []uint64
	agg.OnLoaded(func(epoch uint64) { calls = append(calls, epoch) })

	agg.Apply(temp(20, t0).WithEpoch(1))
	agg.Apply(temp(21, t0).WithEpoch(1))
	assert.Equal(t, []uint64{1}, calls)
}

func TestSubscribeReceivesSnapshots(t *testing.T) {
	agg, ctx := startAggregator(t)

	ch, cancel := agg.Subscribe()
	defer cancel()

	first := <-ch
	assert.True(t, first.Loading)

	require.NoError(t, agg.Submit(ctx, temp(21, t0)))
	select {
	case s := <-ch:
		require.NotNil(t, s.Temperature)
		assert.Equal(t, 21.0, *s.Temperature)
	case <-time.After(time.Second):
		t.Fatal("no snapshot published")
	}
}

func TestSlowSubscriberGetsLatest(t *testing.T) {
	agg := NewDataAggregatorService(Config{})
	ch, cancel := agg.Subscribe()
	defer cancel()

	for v := 1.0; v <= 4; v++ {
		agg.Apply(temp(v, t0))
	}
	s := <-ch
	assert.Equal(t, 4.0, *s.Temperature)
}

func TestSubscribeClosedWhenStopped(t *testing.T) {
	agg := NewDataAggregatorService(Config{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		agg.Run(ctx)
		close(done)
	}()

	ch, _ := agg.Subscribe()
	<-ch
	cancel()
	<-done

	_, ok := <-ch
	assert.False(t, ok)
	assert.ErrorIs(t, agg.Submit(context.Background(), temp(1, t0)), ErrStopped)
}
