package room

import (
	"context"
	"sync"
	"time"

	"github.com/babelroom/babelroom/internal/config"
	"github.com/babelroom/babelroom/internal/observe"
)

// watchdogInterval is how often speaker liveness is evaluated.
const watchdogInterval = 5 * time.Second

// IdleState reports how long the speaker has been silent on each channel.
type IdleState struct {
	EventIdle time.Duration `json:"eventIdleMs"`
	AudioIdle time.Duration `json:"audioIdleMs"`
}

// Watchdog tracks speaker liveness from two wall-clock timestamps: the last
// control-channel message and the last raw-audio heartbeat. When both exceed
// their thresholds it reports a restart advisory. It never mutates room state.
type Watchdog struct {
	eventIdle time.Duration
	audioIdle time.Duration
	onStale   func(IdleState)
	metrics   *observe.Metrics

	mu        sync.Mutex
	lastEvent time.Time
	lastAudio time.Time

	done chan struct{}
	wg   sync.WaitGroup
	now  func() time.Time
}

// NewWatchdog creates a watchdog and starts its ticker. onStale is invoked
// from the watchdog's own goroutine; implementations must re-enter the room
// through its worker.
func NewWatchdog(cfg config.WatchdogConfig, onStale func(IdleState), m *observe.Metrics) *Watchdog {
	eventIdle := time.Duration(cfg.EventIdleMS) * time.Millisecond
	if eventIdle <= 0 {
		eventIdle = 12 * time.Second
	}
	audioIdle := time.Duration(cfg.PCMIdleMS) * time.Millisecond
	if audioIdle <= 0 {
		audioIdle = 7 * time.Second
	}

	w := &Watchdog{
		eventIdle: eventIdle,
		audioIdle: audioIdle,
		onStale:   onStale,
		metrics:   m,
		done:      make(chan struct{}),
		now:       time.Now,
	}
	now := w.now()
	w.lastEvent = now
	w.lastAudio = now

	w.wg.Add(1)
	go w.run()
	return w
}

// TouchEvent resets the control-channel idle timer.
func (w *Watchdog) TouchEvent() {
	w.mu.Lock()
	w.lastEvent = w.now()
	w.mu.Unlock()
}

// TouchAudio resets the raw-audio idle timer.
func (w *Watchdog) TouchAudio() {
	w.mu.Lock()
	w.lastAudio = w.now()
	w.mu.Unlock()
}

// Rearm resets both timers, e.g. after a room reset or a new speaker.
func (w *Watchdog) Rearm() {
	w.mu.Lock()
	now := w.now()
	w.lastEvent = now
	w.lastAudio = now
	w.mu.Unlock()
}

// Stop halts the ticker. Safe to call once.
func (w *Watchdog) Stop() {
	close(w.done)
	w.wg.Wait()
}

func (w *Watchdog) run() {
	defer w.wg.Done()
	ticker := time.NewTicker(watchdogInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			w.check()
		case <-w.done:
			return
		}
	}
}

// check evaluates both idle times and fires the advisory when both thresholds
// are exceeded.
func (w *Watchdog) check() {
	w.mu.Lock()
	now := w.now()
	state := IdleState{
		EventIdle: now.Sub(w.lastEvent),
		AudioIdle: now.Sub(w.lastAudio),
	}
	w.mu.Unlock()

	if state.EventIdle < w.eventIdle || state.AudioIdle < w.audioIdle {
		return
	}
	if w.metrics != nil {
		w.metrics.WatchdogRestarts.Add(context.Background(), 1)
	}
	if w.onStale != nil {
		w.onStale(state)
	}
}
