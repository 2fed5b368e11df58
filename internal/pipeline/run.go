package pipeline

import (
	"context"
	"slices"
	"sync"
	"time"

	"overdub/internal/media"
	"overdub/internal/services"
)

// State is the lifecycle position of a run.
type State string

const (
	StatePending   State = "pending"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// Stage labels shown in snapshots.
const (
	StageQueued       = "queued"
	StageOpening      = "opening"
	StageTranscribing = "transcribing"
	StageTranslating  = "translating"
	StageSynthesizing = "synthesizing"
	StageRendering    = "rendering"
	StageDone         = "done"
)

// Output describes a finished video. Ownership passes to the caller.
type Output struct {
	Path      string `json:"path"`
	SRTPath   string `json:"srt_path,omitempty"`
	Container string `json:"container"`
	SizeBytes int64  `json:"size_bytes"`
	Frames    int    `json:"frames"`
}

// Snapshot is a point-in-time copy of a run.
type Snapshot struct {
	ID           string        `json:"id"`
	Name         string        `json:"name,omitempty"`
	Mode         Mode          `json:"mode"`
	Target       string        `json:"target,omitempty"`
	State        State         `json:"state"`
	Progress     int           `json:"progress"`
	Stage        string        `json:"stage"`
	Source       *media.Handle `json:"source,omitempty"`
	Language     string        `json:"language,omitempty"`
	Segments     int           `json:"segments"`
	Output       *Output       `json:"output,omitempty"`
	ErrorKind    services.Kind `json:"error_kind,omitempty"`
	ErrorMessage string        `json:"error_message,omitempty"`
	Warnings     []string      `json:"warnings,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	StartedAt    time.Time     `json:"started_at,omitzero"`
	FinishedAt   time.Time     `json:"finished_at,omitzero"`
}

// Run is the controller-owned state of one invocation.
type Run struct {
	mu   sync.Mutex
	snap Snapshot

	input  Input
	opts   StartOptions
	cancel context.CancelFunc
	done   chan struct{}
	subs   map[int]chan Snapshot
	nextID int
	// progress is the exact percentage; the snapshot carries its floor.
	progress float64
}

func newRun(id string, input Input, mode Mode, opts StartOptions, now time.Time) *Run {
	return &Run{
		snap: Snapshot{
			ID:        id,
			Name:      input.Name,
			Mode:      mode,
			Target:    opts.Target,
			State:     StatePending,
			Stage:     StageQueued,
			CreatedAt: now,
		},
		input: input,
		opts:  opts,
		done:  make(chan struct{}),
		subs:  make(map[int]chan Snapshot),
	}
}

// source returns the input the run was started with.
func (r *Run) source() Input {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.input
}

// releaseInput drops the uploaded bytes once they are staged or no longer
// needed; the name and path stay for logs.
func (r *Run) releaseInput() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.input = Input{Path: r.input.Path, Name: r.input.Name}
}

// Snapshot returns a copy of the run's current state.
func (r *Run) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

func (r *Run) snapshotLocked() Snapshot {
	snap := r.snap
	snap.Warnings = slices.Clone(r.snap.Warnings)
	if r.snap.Source != nil {
		h := *r.snap.Source
		snap.Source = &h
	}
	if r.snap.Output != nil {
		out := *r.snap.Output
		snap.Output = &out
	}
	return snap
}

// update applies fn under the lock unless the run is terminal, then notifies
// subscribers. It reports whether fn ran.
func (r *Run) update(fn func(*Snapshot)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.snap.State.Terminal() {
		return false
	}
	fn(&r.snap)
	r.publishLocked()
	return true
}

// advance raises progress to pct within the current stage. Lower values are
// ignored. The snapshot, and so every subscriber, sees whole percents only.
func (r *Run) advance(pct float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.snap.State.Terminal() || pct <= r.progress {
		return
	}
	r.progress = min(pct, 100)
	if whole := int(r.progress); whole != r.snap.Progress {
		r.snap.Progress = whole
		r.publishLocked()
	}
}

// finish moves the run to a terminal state exactly once and closes every
// subscriber channel after delivering the final snapshot.
func (r *Run) finish(state State, fn func(*Snapshot)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.snap.State.Terminal() {
		return false
	}
	r.snap.State = state
	if fn != nil {
		fn(&r.snap)
	}
	r.input = Input{Path: r.input.Path, Name: r.input.Name}
	r.publishLocked()
	for id, ch := range r.subs {
		close(ch)
		delete(r.subs, id)
	}
	close(r.done)
	return true
}

func (r *Run) publishLocked() {
	snap := r.snapshotLocked()
	for _, ch := range r.subs {
		offer(ch, snap)
	}
}

// offer delivers snap without blocking, replacing an undelivered older
// snapshot so a slow reader always sees the latest state.
func offer(ch chan Snapshot, snap Snapshot) {
	select {
	case ch <- snap:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- snap:
	default:
	}
}

func (r *Run) subscribe() (<-chan Snapshot, func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch := make(chan Snapshot, 1)
	ch <- r.snapshotLocked()
	if r.snap.State.Terminal() {
		close(ch)
		return ch, func() {}
	}
	id := r.nextID
	r.nextID++
	r.subs[id] = ch
	return ch, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if sub, ok := r.subs[id]; ok {
			close(sub)
			delete(r.subs, id)
		}
	}
}
