package multiplayer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/peppy/osu-server-spectator/internal/models"
	"github.com/peppy/osu-server-spectator/internal/utils"
)

func newTestRegistry(t *testing.T) (*Registry, *Room) {
	t.Helper()
	registry := NewRegistry(utils.NewNopLogger())
	room := &Room{ID: 1}
	return registry, room
}

func TestRegistryGetForUseUnknownRoom(t *testing.T) {
	registry, _ := newTestRegistry(t)

	_, err := registry.GetForUse(context.Background(), 42)
	assert.ErrorIs(t, err, models.ErrRoomNotFound)
}

func TestRegistryTryCreateDuplicate(t *testing.T) {
	registry, room := newTestRegistry(t)

	usage, err := registry.TryCreate(room)
	require.NoError(t, err)
	defer usage.Close()

	_, err = registry.TryCreate(&Room{ID: 1})
	assert.ErrorIs(t, err, models.ErrRoomAlreadyExists)
}

func TestRegistryExclusiveAccess(t *testing.T) {
	registry, room := newTestRegistry(t)

	usage, err := registry.TryCreate(room)
	require.NoError(t, err)

	acquired := make(chan *Usage)
	go func() {
		second, err := registry.GetForUse(context.Background(), 1)
		require.NoError(t, err)
		acquired <- second
	}()

	select {
	case <-acquired:
		t.Fatal("second acquirer got the room while the first still held it")
	case <-time.After(50 * time.Millisecond):
	}

	usage.Close()

	select {
	case second := <-acquired:
		second.Close()
	case <-time.After(time.Second):
		t.Fatal("second acquirer never got the room after release")
	}
}

func TestRegistryFIFOOrdering(t *testing.T) {
	registry, room := newTestRegistry(t)

	first, err := registry.TryCreate(room)
	require.NoError(t, err)

	const waiters = 5
	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	ready := make(chan struct{}, waiters)

	for i := 0; i < waiters; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			// Stagger the queue joins so arrival order is deterministic.
			<-ready
			usage, err := registry.GetForUse(context.Background(), 1)
			require.NoError(t, err)
			mu.Lock()
			order = append(order, n)
			mu.Unlock()
			time.Sleep(5 * time.Millisecond)
			usage.Close()
		}(i)
		ready <- struct{}{}
		time.Sleep(20 * time.Millisecond)
	}

	first.Close()
	wg.Wait()

	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestRegistryGetForUseHonorsContext(t *testing.T) {
	registry, room := newTestRegistry(t)

	usage, err := registry.TryCreate(room)
	require.NoError(t, err)
	defer usage.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = registry.GetForUse(ctx, 1)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRegistryDestroyFailsWaiters(t *testing.T) {
	registry, room := newTestRegistry(t)

	usage, err := registry.TryCreate(room)
	require.NoError(t, err)

	errs := make(chan error, 1)
	go func() {
		_, err := registry.GetForUse(context.Background(), 1)
		errs <- err
	}()

	time.Sleep(20 * time.Millisecond)
	usage.Destroy()

	select {
	case err := <-errs:
		assert.ErrorIs(t, err, models.ErrRoomNotFound)
	case <-time.After(time.Second):
		t.Fatal("waiter was never woken by destroy")
	}

	assert.False(t, registry.Has(1))
}

func TestRegistryUsageCloseIdempotent(t *testing.T) {
	registry, room := newTestRegistry(t)

	usage, err := registry.TryCreate(room)
	require.NoError(t, err)

	usage.Close()
	usage.Close()

	// The room must be acquirable exactly once after the double close.
	again, err := registry.GetForUse(context.Background(), 1)
	require.NoError(t, err)
	defer again.Close()
}

func TestRegistryRefusesCreationDuringShutdown(t *testing.T) {
	registry, room := newTestRegistry(t)
	registry.BeginShutdown()

	_, err := registry.TryCreate(room)
	assert.ErrorIs(t, err, models.ErrServerShuttingDown)
}
