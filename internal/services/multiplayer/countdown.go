package multiplayer

import (
	"context"
	"sync"
	"time"

	"github.com/peppy/osu-server-spectator/internal/models"
	"github.com/peppy/osu-server-spectator/internal/utils"
)

// CountdownCompleteFunc runs when a countdown fires or is skipped. The room
// passed in is freshly leased; the callback must not retain it.
type CountdownCompleteFunc func(room *Room, usage *Usage)

type countdownEntry struct {
	countdown models.Countdown

	stop     chan struct{}
	skip     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	skipOnce sync.Once
}

// CountdownManager runs typed countdowns for a single room. At most one
// countdown of each type is active; starting a new one of the same type
// replaces the old. Mutating methods must be called while holding the
// room's usage.
type CountdownManager struct {
	mu       sync.Mutex
	roomID   int64
	registry *Registry
	active   map[models.CountdownType]*countdownEntry
	nextID   int64
	logger   *utils.Logger
}

func NewCountdownManager(roomID int64, registry *Registry, logger *utils.Logger) *CountdownManager {
	return &CountdownManager{
		roomID:   roomID,
		registry: registry,
		active:   make(map[models.CountdownType]*countdownEntry),
		logger:   logger.Named("countdown"),
	}
}

// StartCountdown begins a countdown of the given type, replacing any active
// countdown of the same type. When the timer fires (or the countdown is
// skipped) the manager re-acquires the room and runs onComplete under the
// fresh usage. Returns the started countdown with its assigned ID.
func (m *CountdownManager) StartCountdown(countdownType models.CountdownType, duration time.Duration, onComplete CountdownCompleteFunc) models.Countdown {
	m.mu.Lock()

	if existing, ok := m.active[countdownType]; ok {
		existing.stopOnce.Do(func() { close(existing.stop) })
		delete(m.active, countdownType)
	}

	m.nextID++
	countdown := models.Countdown{
		ID:        m.nextID,
		Type:      countdownType,
		StartedAt: time.Now(),
		Duration:  duration,
	}

	entry := &countdownEntry{
		countdown: countdown,
		stop:      make(chan struct{}),
		skip:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	m.active[countdownType] = entry
	m.mu.Unlock()

	go m.run(entry, onComplete)

	return countdown
}

func (m *CountdownManager) run(entry *countdownEntry, onComplete CountdownCompleteFunc) {
	timer := time.NewTimer(entry.countdown.TimeRemaining(time.Now()))
	defer timer.Stop()

	select {
	case <-entry.stop:
		close(entry.done)
		return
	case <-timer.C:
	case <-entry.skip:
	}

	// The caller that started the countdown has long since released the
	// room, so take a fresh lease for the completion callback.
	usage, err := m.registry.GetForUse(context.Background(), m.roomID)
	if err != nil {
		m.logger.Debug("Countdown completion skipped, room gone",
			"roomId", m.roomID, "countdownId", entry.countdown.ID)
		close(entry.done)
		return
	}
	defer usage.Close()

	m.mu.Lock()
	current, ok := m.active[entry.countdown.Type]
	if !ok || current != entry {
		// Stopped or replaced while we were acquiring the room.
		m.mu.Unlock()
		close(entry.done)
		return
	}
	delete(m.active, entry.countdown.Type)
	m.mu.Unlock()

	// The countdown is no longer active; let the room know before the
	// completion callback produces its own events.
	usage.Room.notifyCountdownStopped(entry.countdown)

	onComplete(usage.Room, usage)
	close(entry.done)
}

// StopCountdown cancels the active countdown with the given ID without
// running its completion callback. Returns the stopped countdown and true,
// or false if no active countdown matches.
func (m *CountdownManager) StopCountdown(countdownID int64) (models.Countdown, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for typ, entry := range m.active {
		if entry.countdown.ID == countdownID {
			delete(m.active, typ)
			entry.stopOnce.Do(func() { close(entry.stop) })
			return entry.countdown, true
		}
	}
	return models.Countdown{}, false
}

// StopOfType cancels the active countdown of the given type, if any.
// Returns the stopped countdown and true when one was active.
func (m *CountdownManager) StopOfType(countdownType models.CountdownType) (models.Countdown, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if entry, ok := m.active[countdownType]; ok {
		delete(m.active, countdownType)
		entry.stopOnce.Do(func() { close(entry.stop) })
		return entry.countdown, true
	}
	return models.Countdown{}, false
}

// StopAll cancels every active countdown and returns them. Used on room
// closure.
func (m *CountdownManager) StopAll() []models.Countdown {
	m.mu.Lock()
	defer m.mu.Unlock()

	stopped := make([]models.Countdown, 0, len(m.active))
	for typ, entry := range m.active {
		delete(m.active, typ)
		entry.stopOnce.Do(func() { close(entry.stop) })
		stopped = append(stopped, entry.countdown)
	}
	return stopped
}

// SkipToEndOfCountdown forces the countdown of the given type to complete
// immediately. The returned channel closes once the completion callback has
// finished; callers must not wait on it while holding the room's usage. A
// nil channel means no countdown of that type is active.
func (m *CountdownManager) SkipToEndOfCountdown(countdownType models.CountdownType) <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.active[countdownType]
	if !ok {
		return nil
	}
	entry.skipOnce.Do(func() { close(entry.skip) })
	return entry.done
}

// FindOfType returns the active countdown of the given type, if any.
func (m *CountdownManager) FindOfType(countdownType models.CountdownType) (models.Countdown, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if entry, ok := m.active[countdownType]; ok {
		return entry.countdown, true
	}
	return models.Countdown{}, false
}

// Active returns all currently active countdowns.
func (m *CountdownManager) Active() []models.Countdown {
	m.mu.Lock()
	defer m.mu.Unlock()

	countdowns := make([]models.Countdown, 0, len(m.active))
	for _, entry := range m.active {
		countdowns = append(countdowns, entry.countdown)
	}
	return countdowns
}
