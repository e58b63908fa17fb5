package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Stage is one batch step of the fulfillment cycle.
type Stage interface {
	Name() string
	Run(ctx context.Context) error
}

// Pipeline runs the fulfillment stages in a fixed order. Cycles are
// single-flight: a trigger arriving while a cycle is running is dropped, so
// two cycles never race over the same orders.
type Pipeline struct {
	stages []Stage

	runMu sync.Mutex

	startedAtUnixNano   int64
	lastCycleUnixNano   atomic.Int64
	lastTriggerUnixNano atomic.Int64
	cycles              atomic.Int64
	stageRuns           atomic.Int64
	stageErrors         atomic.Int64
	running             atomic.Bool

	lastErrorMu sync.Mutex
	lastError   string
}

func New(stages ...Stage) *Pipeline {
	return &Pipeline{
		stages:            stages,
		startedAtUnixNano: time.Now().UTC().UnixNano(),
	}
}

// RunOnce executes one full cycle. A cycle already in progress makes this a
// no-op.
func (p *Pipeline) RunOnce(ctx context.Context) {
	if !p.runMu.TryLock() {
		slog.Warn("pipeline cycle already running, skipping")
		return
	}
	defer p.runMu.Unlock()

	p.running.Store(true)
	defer p.running.Store(false)

	p.lastCycleUnixNano.Store(time.Now().UTC().UnixNano())
	p.cycles.Add(1)

	for _, st := range p.stages {
		if ctx.Err() != nil {
			return
		}
		started := time.Now()
		p.stageRuns.Add(1)
		if err := st.Run(ctx); err != nil {
			p.stageErrors.Add(1)
			p.lastErrorMu.Lock()
			p.lastError = st.Name() + ": " + err.Error()
			p.lastErrorMu.Unlock()
			slog.Error("stage failed", "stage", st.Name(), "error", err.Error())
			continue
		}
		slog.Info("stage finished", "stage", st.Name(), "took", time.Since(started).String())
	}
}

// Trigger starts an out-of-schedule cycle without waiting for it.
func (p *Pipeline) Trigger() {
	p.lastTriggerUnixNano.Store(time.Now().UTC().UnixNano())
	go p.RunOnce(context.Background())
}

type Stats struct {
	StartedAt     time.Time  `json:"startedAt"`
	LastCycleAt   *time.Time `json:"lastCycleAt,omitempty"`
	LastTriggerAt *time.Time `json:"lastTriggerAt,omitempty"`
	Cycles        int64      `json:"cycles"`
	StageRuns     int64      `json:"stageRuns"`
	StageErrors   int64      `json:"stageErrors"`
	Running       bool       `json:"running"`
	LastError     string     `json:"lastError,omitempty"`
}

func (p *Pipeline) Stats() Stats {
	st := Stats{
		StartedAt:   time.Unix(0, p.startedAtUnixNano).UTC(),
		Cycles:      p.cycles.Load(),
		StageRuns:   p.stageRuns.Load(),
		StageErrors: p.stageErrors.Load(),
		Running:     p.running.Load(),
	}
	if n := p.lastCycleUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastCycleAt = &t
	}
	if n := p.lastTriggerUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastTriggerAt = &t
	}
	p.lastErrorMu.Lock()
	st.LastError = p.lastError
	p.lastErrorMu.Unlock()
	return st
}
