package worker

import (
	"sync"
	"time"
)

// errorRingCap bounds the recent-error buffer.
const errorRingCap = 50

// CycleSummary is the result of one ingestion cycle.
type CycleSummary struct {
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`

	Total       int `json:"total"`
	New         int `json:"new"`
	Cached      int `json:"cached"`
	TooOld      int `json:"too_old"`
	Unavailable int `json:"unavailable"`
	Errors      int `json:"errors"`

	CommentsProcessed int `json:"comments_processed"`
	NewComments       int `json:"new_comments"`
}

// RegenResult is the outcome of one regeneration run.
type RegenResult struct {
	JobID         string        `json:"job_id"`
	Type          string        `json:"type"`
	TargetVersion string        `json:"target_version"`
	Examined      int           `json:"examined"`
	Regenerated   int           `json:"regenerated"`
	Errors        []string      `json:"errors"`
	StartedAt     time.Time     `json:"started_at"`
	Duration      time.Duration `json:"duration"`
}

// State is the process-wide worker state: one logical writer (the
// orchestrator), many readers (status reporting). The mutex exists because
// the HTTP status surface reads from its own goroutines; all mutation still
// happens on the orchestrator's single sequence of steps.
type State struct {
	mu sync.Mutex

	running     bool
	startedAt   time.Time
	lastCycleAt time.Time
	lastCycle   *CycleSummary

	totalProcessed int64
	totalEmbedded  int64

	// Live cycle progress, reset at cycle boundaries.
	current    string
	phase      string
	cycleTotal int
	cycleIndex int

	errors []string // ring, newest last

	regenRunning bool
	regenJobID   string
	lastRegen    *RegenResult
}

// Snapshot is a read-only copy of State for external reporting.
type Snapshot struct {
	Running     bool          `json:"running"`
	StartedAt   time.Time     `json:"started_at"`
	LastCycleAt time.Time     `json:"last_cycle_at"`
	LastCycle   *CycleSummary `json:"last_cycle,omitempty"`

	TotalProcessed int64 `json:"total_processed"`
	TotalEmbedded  int64 `json:"total_embedded"`

	Current    string `json:"current,omitempty"`
	Phase      string `json:"phase,omitempty"`
	CycleTotal int    `json:"cycle_total"`
	CycleIndex int    `json:"cycle_index"`

	RecentErrors []string `json:"recent_errors"`

	RegenRunning bool         `json:"regen_running"`
	RegenJobID   string       `json:"regen_job_id,omitempty"`
	LastRegen    *RegenResult `json:"last_regen,omitempty"`
}

// NewState initializes worker state with running=false.
func NewState() *State {
	return &State{}
}

// SetRunning flips the running flag; set once when the first cycle is
// scheduled.
func (s *State) SetRunning(running bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = running
	if running && s.startedAt.IsZero() {
		s.startedAt = time.Now()
	}
}

// BeginCycle resets the live progress counters for a new cycle.
func (s *State) BeginCycle(total int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cycleTotal = total
	s.cycleIndex = 0
	s.current = ""
	s.phase = "listing"
}

// SetProgress updates the live per-candidate progress.
func (s *State) SetProgress(index int, current, phase string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cycleIndex = index
	s.current = current
	s.phase = phase
}

// RecordError appends to the bounded error ring, evicting the oldest entry
// once the cap is reached.
func (s *State) RecordError(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errors = append(s.errors, msg)
	if len(s.errors) > errorRingCap {
		s.errors = s.errors[len(s.errors)-errorRingCap:]
	}
}

// ItemProcessed bumps the cumulative counters.
func (s *State) ItemProcessed(embedded bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totalProcessed++
	if embedded {
		s.totalEmbedded++
	}
}

// EndCycle records the summary and clears the "currently processing" label.
func (s *State) EndCycle(sum CycleSummary) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastCycleAt = time.Now()
	s.lastCycle = &sum
	s.current = ""
	s.phase = ""
	s.cycleTotal = 0
	s.cycleIndex = 0
}

// BeginRegen marks a regeneration job as running.
func (s *State) BeginRegen(jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.regenRunning = true
	s.regenJobID = jobID
}

// EndRegen records the result of a finished regeneration job.
func (s *State) EndRegen(res *RegenResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.regenRunning = false
	s.regenJobID = ""
	s.lastRegen = res
}

// Snapshot returns a copy safe to hand to external readers.
func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		Running:        s.running,
		StartedAt:      s.startedAt,
		LastCycleAt:    s.lastCycleAt,
		TotalProcessed: s.totalProcessed,
		TotalEmbedded:  s.totalEmbedded,
		Current:        s.current,
		Phase:          s.phase,
		CycleTotal:     s.cycleTotal,
		CycleIndex:     s.cycleIndex,
		RecentErrors:   append([]string(nil), s.errors...),
		RegenRunning:   s.regenRunning,
		RegenJobID:     s.regenJobID,
	}
	if s.lastCycle != nil {
		c := *s.lastCycle
		snap.LastCycle = &c
	}
	if s.lastRegen != nil {
		r := *s.lastRegen
		r.Errors = append([]string(nil), s.lastRegen.Errors...)
		snap.LastRegen = &r
	}
	return snap
}
