package ttsq

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/babelroom/babelroom/internal/observe"
	"github.com/babelroom/babelroom/pkg/provider/synth"
	"github.com/babelroom/babelroom/pkg/types"
)

const (
	wordsPerMinute = 160
	minDuration    = 1500 * time.Millisecond
)

// Item is one queued sentence of speech.
type Item struct {
	UnitID     string
	RootUnitID string
	Lang       string
	Text       string
	Voice      string
	Duration   time.Duration
	CreatedAt  time.Time
	SentLen    int
	Version    int64
}

// EnqueueRequest carries one hard, tts-final text into the queue.
type EnqueueRequest struct {
	UnitID  string
	Text    string
	Voice   string
	SentLen []int
	Version int64
}

// Callbacks receives queue events. All callbacks are invoked from the queue's
// worker goroutine (AudioReady, Error) or from the mutating caller (Skipped,
// SpeedRamp); implementations must not call back into the queue.
type Callbacks struct {
	// AudioReady delivers one synthesised sentence with the rate it was
	// rendered at.
	AudioReady func(item Item, clip *synth.Clip, rate float64)

	// Error reports a failed synthesis. The item is dropped.
	Error func(item Item, err error)

	// Skipped reports a rejected enqueue with its reason.
	Skipped func(rootUnitID, reason string)

	// SpeedRamp reports transitions onto (start=true) and off the ramp.
	SpeedRamp func(start bool, rate float64)
}

type prefetchTask struct {
	cancel context.CancelFunc
	done   chan struct{}
	clip   *synth.Clip
	err    error
}

type queueItem struct {
	Item
	cancelled bool
	cancelCh  chan struct{}
	prefetch  *prefetchTask
}

// Queue is the speech queue for one (room, language) pair.
//
// Synthesis is single-flight with a one-ahead prefetch: while the head item's
// audio is being paced out, the next item's synthesis already runs. All
// public methods are safe for concurrent use.
type Queue struct {
	lang    string
	voice   string
	speed   SpeedConfig
	synth   synth.Provider
	cb      Callbacks
	metrics *observe.Metrics

	// persist, if non-nil, receives the remaining items after every mutation.
	persist func(items []Item)

	mu            sync.Mutex
	items         []*queueItem
	latestVersion map[string]int64
	playing       *queueItem
	playingUntil  time.Time
	rate          float64
	ramping       bool

	wake   chan struct{}
	done   chan struct{}
	wg     sync.WaitGroup
	now    func() time.Time
	paceFn func(it *queueItem)
}

// Config holds the construction parameters for a Queue.
type Config struct {
	Lang    string
	Voice   string
	Speed   SpeedConfig
	Persist func(items []Item)
}

// NewQueue creates a queue and starts its worker. rehydrated items, if any,
// are queued immediately.
func NewQueue(cfg Config, provider synth.Provider, cb Callbacks, m *observe.Metrics, rehydrated []Item) *Queue {
	speed := cfg.Speed.withDefaults()
	q := &Queue{
		lang:          cfg.Lang,
		voice:         cfg.Voice,
		speed:         speed,
		synth:         provider,
		cb:            cb,
		metrics:       m,
		persist:       cfg.Persist,
		latestVersion: make(map[string]int64),
		rate:          speed.Base,
		wake:          make(chan struct{}, 1),
		done:          make(chan struct{}),
		now:           time.Now,
	}
	q.paceFn = q.pace
	for _, it := range rehydrated {
		qi := &queueItem{Item: it, cancelCh: make(chan struct{})}
		q.items = append(q.items, qi)
		if it.Version > q.latestVersion[it.RootUnitID] {
			q.latestVersion[it.RootUnitID] = it.Version
		}
	}
	q.wg.Add(1)
	go q.run()
	if len(q.items) > 0 {
		q.signal()
	}
	return q
}

// Enqueue validates, deduplicates, splits, and queues text for synthesis.
func (q *Queue) Enqueue(req EnqueueRequest) {
	text := strings.TrimSpace(req.Text)
	root := types.Root(req.UnitID)

	if text == "" || (wordCount(text) < 2 && !endsWithTerminal(text)) {
		q.skip(root, "too_short")
		return
	}

	q.mu.Lock()
	if latest, ok := q.latestVersion[root]; ok && req.Version <= latest {
		reason := "stale_version"
		if req.Version == latest {
			reason = "duplicate_version"
		}
		q.mu.Unlock()
		q.skip(root, reason)
		return
	}
	q.latestVersion[root] = req.Version

	// A newer revision supersedes everything queued or playing for the root.
	q.cancelRootLocked(root)

	voice := req.Voice
	if voice == "" {
		voice = q.voice
	}

	sentences := splitText(text, req.SentLen)
	createdAt := q.now()
	for i, s := range sentences {
		q.items = append(q.items, &queueItem{
			Item: Item{
				UnitID:     root + "#" + strconv.Itoa(i),
				RootUnitID: root,
				Lang:       q.lang,
				Text:       s,
				Voice:      voice,
				Duration:   q.estimateLocked(s),
				CreatedAt:  createdAt,
				SentLen:    utf8.RuneCountInString(s),
				Version:    req.Version,
			},
			cancelCh: make(chan struct{}),
		})
	}
	q.persistLocked()
	q.updateRateLocked()
	q.mu.Unlock()

	q.signal()
}

// Cancel drops all queued items for a root and interrupts it if playing.
func (q *Queue) Cancel(rootUnitID string) {
	q.mu.Lock()
	q.cancelRootLocked(types.Root(rootUnitID))
	q.persistLocked()
	q.mu.Unlock()
}

// Backlog returns the queued speech time, including the rest of the item
// currently being paced out.
func (q *Queue) Backlog() time.Duration {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.backlogLocked()
}

// Rate returns the current playback-rate multiplier.
func (q *Queue) Rate() float64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.rate
}

// Len returns the number of queued items (excluding the playing one).
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Reset drops all state: queued items, version watermarks, and the rate.
func (q *Queue) Reset() {
	q.mu.Lock()
	for _, it := range q.items {
		q.cancelItemLocked(it)
	}
	if q.playing != nil {
		q.cancelItemLocked(q.playing)
	}
	q.items = nil
	q.latestVersion = make(map[string]int64)
	q.rate = q.speed.Base
	q.ramping = false
	q.persistLocked()
	q.mu.Unlock()
}

// Shutdown resets the queue and stops its worker.
func (q *Queue) Shutdown() {
	q.Reset()
	close(q.done)
	q.wg.Wait()
}

// ─── internals ───

func (q *Queue) run() {
	defer q.wg.Done()
	for {
		select {
		case <-q.done:
			return
		case <-q.wake:
		}
		q.drain()
	}
}

func (q *Queue) drain() {
	for {
		q.mu.Lock()
		if len(q.items) == 0 {
			q.mu.Unlock()
			return
		}
		head := q.items[0]
		if head.cancelled || head.Version < q.latestVersion[head.RootUnitID] {
			q.items = q.items[1:]
			q.persistLocked()
			q.mu.Unlock()
			continue
		}
		q.ensurePrefetchLocked(head)
		if len(q.items) > 1 {
			q.ensurePrefetchLocked(q.items[1])
		}
		q.mu.Unlock()

		select {
		case <-q.done:
			return
		case <-head.prefetch.done:
		}

		q.mu.Lock()
		if len(q.items) > 0 && q.items[0] == head {
			q.items = q.items[1:]
			q.persistLocked()
		}
		cancelled := head.cancelled
		rate := q.rate
		q.mu.Unlock()

		if cancelled {
			continue
		}
		if head.prefetch.err != nil {
			if q.cb.Error != nil {
				q.cb.Error(head.Item, head.prefetch.err)
			}
			continue
		}

		q.mu.Lock()
		q.playing = head
		q.playingUntil = q.now().Add(head.Duration)
		q.updateRateLocked()
		q.mu.Unlock()

		if q.cb.AudioReady != nil {
			q.cb.AudioReady(head.Item, head.prefetch.clip, rate)
		}

		q.paceFn(head)

		q.mu.Lock()
		q.playing = nil
		q.updateRateLocked()
		q.mu.Unlock()
	}
}

// pace holds the worker for the item's estimated duration so delivery matches
// speaking time. Cancellation of the root or shutdown cuts it short.
func (q *Queue) pace(it *queueItem) {
	timer := time.NewTimer(it.Duration)
	defer timer.Stop()
	select {
	case <-q.done:
	case <-it.cancelCh:
	case <-timer.C:
	}
}

func (q *Queue) ensurePrefetchLocked(it *queueItem) {
	if it.prefetch != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	pf := &prefetchTask{cancel: cancel, done: make(chan struct{})}
	it.prefetch = pf

	req := synth.Request{Text: it.Text, Lang: q.lang, Voice: it.Voice, Rate: q.rate}
	go func() {
		defer close(pf.done)
		start := time.Now()
		pf.clip, pf.err = q.synth.Synthesize(ctx, req)
		if q.metrics != nil {
			q.metrics.SynthesisDuration.Record(context.Background(), time.Since(start).Seconds(),
				metric.WithAttributes(
					attribute.String("lang", q.lang),
					attribute.Bool("error", pf.err != nil),
				))
		}
	}()
}

func (q *Queue) cancelRootLocked(root string) {
	keep := q.items[:0]
	for _, it := range q.items {
		if it.RootUnitID == root {
			q.cancelItemLocked(it)
			continue
		}
		keep = append(keep, it)
	}
	q.items = keep

	if q.playing != nil && q.playing.RootUnitID == root {
		q.cancelItemLocked(q.playing)
	}
}

func (q *Queue) cancelItemLocked(it *queueItem) {
	if it.cancelled {
		return
	}
	it.cancelled = true
	close(it.cancelCh)
	if it.prefetch != nil {
		it.prefetch.cancel()
	}
}

func (q *Queue) estimateLocked(text string) time.Duration {
	d := time.Duration(float64(wordCount(text)) / wordsPerMinute * float64(time.Minute))
	if d < minDuration {
		d = minDuration
	}
	return time.Duration(float64(d) / q.rate)
}

func (q *Queue) backlogLocked() time.Duration {
	var total time.Duration
	for _, it := range q.items {
		if !it.cancelled {
			total += it.Duration
		}
	}
	if q.playing != nil && !q.playing.cancelled {
		if remaining := q.playingUntil.Sub(q.now()); remaining > 0 {
			total += remaining
		}
	}
	return total
}

func (q *Queue) updateRateLocked() {
	target := q.speed.targetRate(q.backlogLocked().Seconds())
	next := q.speed.clampStep(q.rate, target)
	if next == q.rate {
		return
	}
	q.rate = next

	onRamp := next > q.speed.Base+rampEpsilon
	if onRamp != q.ramping {
		q.ramping = onRamp
		if q.cb.SpeedRamp != nil {
			q.cb.SpeedRamp(onRamp, next)
		}
		if q.metrics != nil {
			direction := "end"
			if onRamp {
				direction = "start"
			}
			q.metrics.SpeedRamp.Add(context.Background(), 1, metric.WithAttributes(
				attribute.String("direction", direction),
				attribute.String("lang", q.lang),
			))
		}
	}
}

func (q *Queue) skip(rootUnitID, reason string) {
	if q.cb.Skipped != nil {
		q.cb.Skipped(rootUnitID, reason)
	}
	if q.metrics != nil {
		q.metrics.TTSSkipped.Add(context.Background(), 1, metric.WithAttributes(
			attribute.String("reason", reason),
			attribute.String("lang", q.lang),
		))
	}
}

func (q *Queue) persistLocked() {
	if q.persist == nil {
		return
	}
	items := make([]Item, 0, len(q.items))
	for _, it := range q.items {
		if !it.cancelled {
			items = append(items, it.Item)
		}
	}
	q.persist(items)
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}
