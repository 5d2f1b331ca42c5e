package translate

import (
	"strings"
	"sync"
	"time"

	"github.com/babelroom/babelroom/internal/segment"
	"github.com/babelroom/babelroom/pkg/types"
)

// BufferConfig holds the merge-coalescing parameters.
type BufferConfig struct {
	Enabled  bool
	Window   time.Duration
	MinChars int
	MaxCount int
}

// pendingSeg is one hard unit waiting in the buffer, with the context snapshot
// taken at arrival and any backward revision that its arrival triggered.
type pendingSeg struct {
	unit      segment.Unit
	targets   []string
	context   []string
	revision  *Revision
	arrivedAt time.Time
}

// Buffer coalesces short successive hard units into one translation call.
//
// Add never blocks on translation: batches are handed to a single worker
// goroutine, so flushes are serial and output order matches input order. A
// batch is merged into one segment when it has at least two parts that
// arrived within the window and together clear the minimum character count;
// otherwise its parts are translated individually.
type Buffer struct {
	cfg BufferConfig

	// process translates one segment and emits its patches. processRevision
	// re-translates a previous unit with a gender hint. Both run on the
	// worker goroutine only.
	process         func(u segment.Unit, targets, context []string)
	processRevision func(rev *Revision)

	mu      sync.Mutex
	pending []pendingSeg
	timer   *time.Timer
	closed  bool

	batches chan []pendingSeg
	wg      sync.WaitGroup
	now     func() time.Time
}

// NewBuffer creates a Buffer and starts its worker.
func NewBuffer(cfg BufferConfig, process func(u segment.Unit, targets, context []string), processRevision func(rev *Revision)) *Buffer {
	if cfg.MaxCount < 1 {
		cfg.MaxCount = 1
	}
	b := &Buffer{
		cfg:             cfg,
		process:         process,
		processRevision: processRevision,
		batches:         make(chan []pendingSeg, 64),
		now:             time.Now,
	}
	b.wg.Add(1)
	go b.worker()
	return b
}

// Add queues one hard unit. When buffering is disabled the unit is handed to
// the worker immediately as a batch of one.
func (b *Buffer) Add(u segment.Unit, targets, context []string, rev *Revision) {
	seg := pendingSeg{
		unit:      u,
		targets:   targets,
		context:   context,
		revision:  rev,
		arrivedAt: b.now(),
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}

	if !b.cfg.Enabled {
		b.batches <- []pendingSeg{seg}
		return
	}

	b.pending = append(b.pending, seg)
	if len(b.pending) >= b.cfg.MaxCount {
		b.flushLocked()
		return
	}

	if b.timer != nil {
		b.timer.Stop()
	}
	b.timer = time.AfterFunc(b.cfg.Window, b.Flush)
}

// Flush hands any pending units to the worker now.
func (b *Buffer) Flush() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		b.flushLocked()
	}
}

func (b *Buffer) flushLocked() {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	if len(b.pending) == 0 {
		return
	}
	batch := b.pending
	b.pending = nil
	b.batches <- batch
}

// Clear drops pending units without translating them.
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	b.pending = nil
}

// Close flushes pending units and stops the worker after it drains.
func (b *Buffer) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.flushLocked()
	b.closed = true
	close(b.batches)
	b.mu.Unlock()

	b.wg.Wait()
}

func (b *Buffer) worker() {
	defer b.wg.Done()
	for batch := range b.batches {
		if b.shouldMerge(batch) {
			b.process(mergeSegments(batch))
		} else {
			for _, seg := range batch {
				b.process(seg.unit, seg.targets, seg.context)
			}
		}
		for _, seg := range batch {
			if seg.revision != nil && b.processRevision != nil {
				b.processRevision(seg.revision)
			}
		}
	}
}

func (b *Buffer) shouldMerge(batch []pendingSeg) bool {
	if len(batch) < 2 {
		return false
	}
	span := batch[len(batch)-1].arrivedAt.Sub(batch[0].arrivedAt)
	if span > b.cfg.Window {
		return false
	}
	chars := 0
	for _, seg := range batch {
		chars += len(seg.unit.Text)
	}
	return chars >= b.cfg.MinChars
}

// mergeSegments combines a batch into one segment: texts joined with single
// spaces, the first unit's ID suffixed "#merged", ttsFinal ORed across parts,
// targets unioned, and the first part's context snapshot.
func mergeSegments(batch []pendingSeg) (segment.Unit, []string, []string) {
	first := batch[0].unit

	texts := make([]string, 0, len(batch))
	ttsFinal := false
	version := first.Version
	var targets []string
	seen := make(map[string]struct{})

	for _, seg := range batch {
		texts = append(texts, seg.unit.Text)
		ttsFinal = ttsFinal || seg.unit.TTSFinal
		if seg.unit.Version > version {
			version = seg.unit.Version
		}
		for _, t := range seg.targets {
			if _, ok := seen[t]; !ok {
				seen[t] = struct{}{}
				targets = append(targets, t)
			}
		}
	}

	merged := segment.Unit{
		UnitID:    first.UnitID + "#merged",
		Root:      types.Root(first.UnitID),
		Stage:     types.StageHard,
		Version:   version,
		Text:      strings.Join(texts, " "),
		SrcLang:   first.SrcLang,
		TS:        first.TS,
		UpdatedAt: batch[len(batch)-1].unit.UpdatedAt,
		TTSFinal:  ttsFinal,
	}
	return merged, targets, batch[0].context
}
