package dispatch

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTasksForSameKeyRunInOrder(t *testing.T) {
	d, err := New(Config{Partitions: 4, QueueSize: 128}, nil)
	require.NoError(t, err)

	var mu sync.Mutex
	order := make(map[string][]int)
	keys := []string{"aaln/1@gw", "aaln/2@gw", "ivr/7@gw"}
	for i := 0; i < 50; i++ {
		for _, key := range keys {
			key, i := key, i
			require.NoError(t, d.Submit(key, func() {
				mu.Lock()
				order[key] = append(order[key], i)
				mu.Unlock()
			}))
		}
	}
	require.NoError(t, d.Close())

	for _, key := range keys {
		require.Len(t, order[key], 50)
		for i, v := range order[key] {
			assert.Equal(t, i, v, "key %s", key)
		}
	}
	stats := d.Stats()
	assert.Equal(t, int64(150), stats.Submitted)
	assert.Equal(t, int64(150), stats.Processed)
}

func TestPartitionOfIsStable(t *testing.T) {
	d, err := New(DefaultConfig(), nil)
	require.NoError(t, err)
	defer d.Close()

	for i := 0; i < 20; i++ {
		key := fmt.Sprintf("aaln/%d@gw", i)
		p := d.PartitionOf(key)
		assert.GreaterOrEqual(t, p, 0)
		assert.Less(t, p, 4)
		assert.Equal(t, p, d.PartitionOf(key))
	}
}

func TestSubmitAfterClose(t *testing.T) {
	d, err := New(DefaultConfig(), nil)
	require.NoError(t, err)
	require.NoError(t, d.Close())
	require.NoError(t, d.Close())

	assert.ErrorIs(t, d.Submit("k", func() {}), ErrClosed)
}

func TestQueueFull(t *testing.T) {
	d, err := New(Config{Partitions: 1, QueueSize: 1}, nil)
	require.NoError(t, err)

	release := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, d.Submit("k", func() {
		close(started)
		<-release
	}))
	<-started
	require.NoError(t, d.Submit("k", func() {}))
	assert.ErrorIs(t, d.Submit("k", func() {}), ErrQueueFull)

	close(release)
	require.NoError(t, d.Close())
}

func TestCloseWithFullQueueDoesNotBlock(t *testing.T) {
	d, err := New(Config{Partitions: 1, QueueSize: 1}, nil)
	require.NoError(t, err)

	release := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, d.Submit("k", func() {
		close(started)
		<-release
	}))
	<-started
	require.NoError(t, d.Submit("k", func() {}))

	closed := make(chan error, 1)
	go func() { closed <- d.Close() }()

	// Submit на полной очереди не ждет места и не мешает Close
	assert.Eventually(t, func() bool {
		err := d.Submit("k", func() {})
		return errors.Is(err, ErrClosed) || errors.Is(err, ErrQueueFull)
	}, time.Second, time.Millisecond)

	close(release)
	select {
	case err := <-closed:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Close не завершился")
	}
	assert.ErrorIs(t, d.Submit("k", func() {}), ErrClosed)
	assert.Equal(t, int64(2), d.Stats().Processed)
}

func TestPanicDoesNotStopPartition(t *testing.T) {
	d, err := New(Config{Partitions: 1, QueueSize: 4}, nil)
	require.NoError(t, err)

	done := make(chan struct{})
	require.NoError(t, d.Submit("k", func() { panic("boom") }))
	require.NoError(t, d.Submit("k", func() { close(done) }))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("секция остановилась после паники")
	}
	require.NoError(t, d.Close())
	assert.Equal(t, int64(1), d.Stats().Panics)
}

func TestConfigValidate(t *testing.T) {
	assert.Error(t, Config{Partitions: 0, QueueSize: 1}.Validate())
	assert.Error(t, Config{Partitions: 1, QueueSize: 0}.Validate())
	_, err := New(Config{}, nil)
	assert.Error(t, err)
}
