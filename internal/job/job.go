package job

import (
	"time"

	"github.com/google/uuid"

	"phaseflow/internal/solver"
)

// State is the lifecycle state of a job.
type State string

const (
	// StateQueued means the job is accepted but no solve request has
	// been dispatched yet.
	StateQueued State = "queued"
	// StateRunning means at least one solve request was dispatched.
	StateRunning State = "running"
	// StateFinished means every trajectory completed successfully.
	StateFinished State = "finished"
	// StateFailed means at least one trajectory failed.
	StateFailed State = "failed"
	// StateCancelled means the job was cancelled before completion.
	StateCancelled State = "cancelled"
)

// Terminal reports whether no further transition can occur.
func (s State) Terminal() bool {
	return s == StateFinished || s == StateFailed || s == StateCancelled
}

// CanTransition reports whether the state machine allows from -> to.
// Exactly one terminal transition occurs per job; a terminal state is
// never left.
func CanTransition(from, to State) bool {
	switch from {
	case StateQueued:
		return to == StateRunning || to == StateCancelled || to == StateFinished
	case StateRunning:
		return to == StateFinished || to == StateFailed || to == StateCancelled
	default:
		return false
	}
}

// NewID returns a fresh job identifier.
func NewID() string { return uuid.NewString() }

// Result is the immutable payload of a terminal job. All trajectories
// share one time grid.
type Result struct {
	Times        []float64     `json:"times"`
	Trajectories [][][]float64 `json:"trajectories"`
	Warnings     []string      `json:"warnings,omitempty"`
}

// Record is the persisted form of a job.
type Record struct {
	ID           string             `json:"id"`
	Name         string             `json:"name,omitempty"`
	Source       string             `json:"source"`
	Vars         []string           `json:"vars,omitempty"`
	Parameters   map[string]float64 `json:"parameters,omitempty"`
	InitialConds [][]float64        `json:"initial_conditions"`
	Span         solver.Span        `json:"span"`
	Solver       string             `json:"solver"`
	Options      solver.Options     `json:"options"`
	State        State              `json:"state"`
	Reason       string             `json:"reason,omitempty"`
	CreatedAt    time.Time          `json:"created_at"`
	FinishedAt   *time.Time         `json:"finished_at,omitempty"`
	Result       *Result            `json:"result,omitempty"`
}

// Clone returns a copy sharing no mutable state with the receiver.
// Trajectory data is shared: results are immutable once terminal.
func (r *Record) Clone() *Record {
	c := *r
	if r.Vars != nil {
		c.Vars = append([]string(nil), r.Vars...)
	}
	if r.Parameters != nil {
		c.Parameters = make(map[string]float64, len(r.Parameters))
		for k, v := range r.Parameters {
			c.Parameters[k] = v
		}
	}
	if r.InitialConds != nil {
		c.InitialConds = make([][]float64, len(r.InitialConds))
		for i, ic := range r.InitialConds {
			c.InitialConds[i] = append([]float64(nil), ic...)
		}
	}
	if r.FinishedAt != nil {
		at := *r.FinishedAt
		c.FinishedAt = &at
	}
	return &c
}
