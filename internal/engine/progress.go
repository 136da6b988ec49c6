package engine

import (
	"log"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/mwheeler/reelsync/internal/remote"
)

// DefaultProgressInterval is the minimum spacing between published
// updates for one job unless a caller forces through.
const DefaultProgressInterval = time.Second

// Callback receives progress updates for one run. A callback error is
// logged and ignored; it never aborts the run.
type Callback func(processed int, message string) error

// Update is one progress broadcast for one job.
type Update struct {
	JobID     string            `json:"job_id"`
	Kind      remote.EntityKind `json:"entity_type"`
	Processed int               `json:"processed"`
	Total     int               `json:"total"`
	Message   string            `json:"message,omitempty"`
	Final     bool              `json:"final,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// Percent reports completion as 0-100, 0 while the total is unknown.
func (u Update) Percent() float64 {
	if u.Total <= 0 {
		return 0
	}
	return float64(u.Processed) / float64(u.Total) * 100
}

// Sink consumes every published update. Implementations must not block;
// the tracker calls them on the run's goroutine.
type Sink interface {
	ProgressUpdate(u Update)
}

// Tracker throttles and fans out progress for any number of jobs. The
// spacing rule: at most one published update per interval per job,
// except forced and final updates, which always go out.
type Tracker struct {
	interval time.Duration
	logger   *log.Logger

	mu    sync.Mutex
	jobs  map[string]*jobState
	sinks []Sink
}

type jobState struct {
	lastPublish time.Time
	latest      Update
}

// NewTracker creates a tracker. Interval zero or below defaults to
// DefaultProgressInterval; a nil logger defaults to stderr.
func NewTracker(interval time.Duration, logger *log.Logger) *Tracker {
	if interval <= 0 {
		interval = DefaultProgressInterval
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[engine] ", log.LstdFlags)
	}
	return &Tracker{
		interval: interval,
		logger:   logger,
		jobs:     make(map[string]*jobState),
	}
}

// AddSink registers a consumer of every published update.
func (t *Tracker) AddSink(s Sink) {
	t.mu.Lock()
	t.sinks = append(t.sinks, s)
	t.mu.Unlock()
}

// Job reports the most recent update recorded for a job, published or
// throttled, and whether the job is known.
func (t *Tracker) Job(jobID string) (Update, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.jobs[jobID]
	if !ok {
		return Update{}, false
	}
	return st.latest, true
}

// Start returns a reporter for one run. The callback may be nil.
func (t *Tracker) Start(jobID string, kind remote.EntityKind, cb Callback) *Reporter {
	return &Reporter{t: t, jobID: jobID, kind: kind, cb: cb}
}

// publish records the update and, unless throttled, fans it out.
// Returns whether the update went out.
func (t *Tracker) publish(u Update, force bool) bool {
	t.mu.Lock()
	st, ok := t.jobs[u.JobID]
	if !ok {
		st = &jobState{}
		t.jobs[u.JobID] = st
	}
	st.latest = u
	now := time.Now()
	if !force && !u.Final && now.Sub(st.lastPublish) < t.interval {
		t.mu.Unlock()
		return false
	}
	st.lastPublish = now
	sinks := slices.Clone(t.sinks)
	t.mu.Unlock()

	for _, s := range sinks {
		s.ProgressUpdate(u)
	}
	return true
}

// forget releases a finished job's throttle state.
func (t *Tracker) forget(jobID string) {
	t.mu.Lock()
	delete(t.jobs, jobID)
	t.mu.Unlock()
}

// Reporter publishes progress for one run. Not safe for concurrent use;
// a run reports from its own goroutine.
type Reporter struct {
	t     *Tracker
	jobID string
	kind  remote.EntityKind
	cb    Callback

	total     int
	processed int
}

// SetTotal records the expected item count once it is known.
func (r *Reporter) SetTotal(n int) {
	r.total = n
}

// Update publishes throttled progress.
func (r *Reporter) Update(processed int, message string) {
	r.emit(processed, message, false, false)
}

// Force publishes progress bypassing the throttle, used at batch
// boundaries.
func (r *Reporter) Force(processed int, message string) {
	r.emit(processed, message, true, false)
}

// Finish publishes the final update, which is never dropped, and
// releases the job's tracker state.
func (r *Reporter) Finish(processed int, message string) {
	r.emit(processed, message, true, true)
	r.t.forget(r.jobID)
}

func (r *Reporter) emit(processed int, message string, force, final bool) {
	r.processed = processed
	u := Update{
		JobID:     r.jobID,
		Kind:      r.kind,
		Processed: processed,
		Total:     r.total,
		Message:   message,
		Final:     final,
		Timestamp: time.Now().UTC(),
	}
	if !r.t.publish(u, force) {
		return
	}
	if r.cb == nil {
		return
	}
	if err := r.cb(processed, message); err != nil {
		r.t.logger.Printf("WARNING: progress callback failed for job %s: %v", r.jobID, err)
	}
}
