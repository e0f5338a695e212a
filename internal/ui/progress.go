package ui

import (
	"sync"
	"time"
)

// speedInterval is how often throughput is sampled.
const speedInterval = 500 * time.Millisecond

// etaSmoothing weights a new ETA estimate against the previous one.
const etaSmoothing = 0.3

// ProgressTracker holds the state shown by the TUI. It is safe for
// concurrent use.
type ProgressTracker struct {
	mu         sync.Mutex
	stage      Stage
	current    int
	total      int
	document   string
	stageStart time.Time
	errors     int
	warnings   int
	lastETA    time.Duration

	lastCount int
	lastTick  time.Time
	speed     float64
	avgSpeed  float64
	samples   int
	spark     *Sparkline

	now func() time.Time
}

// ProgressStats is a snapshot of a ProgressTracker.
type ProgressStats struct {
	Stage    Stage
	Current  int
	Total    int
	Progress float64 // 0.0 to 1.0
	ETA      time.Duration
	Document string
	Errors   int
	Warnings int
	Speed    float64 // notes per second, last interval
	AvgSpeed float64
}

// NewProgressTracker creates a tracker in the scanning stage.
func NewProgressTracker() *ProgressTracker {
	return newProgressTracker(time.Now)
}

func newProgressTracker(now func() time.Time) *ProgressTracker {
	t := now()
	return &ProgressTracker{
		stage:      StageScanning,
		stageStart: t,
		lastTick:   t,
		spark:      NewSparkline(60),
		now:        now,
	}
}

// Apply records a progress event, switching stage when it changes.
func (p *ProgressTracker) Apply(event ProgressEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if event.Stage != p.stage {
		p.stage = event.Stage
		p.stageStart = p.now()
		p.lastTick = p.stageStart
		p.lastCount = 0
		p.lastETA = 0
		p.speed, p.avgSpeed, p.samples = 0, 0, 0
		p.spark.Clear()
	}
	p.total = event.Total
	p.current = event.Current
	if event.Document != "" {
		p.document = event.Document
	}

	now := p.now()
	elapsed := now.Sub(p.lastTick)
	if elapsed < speedInterval {
		return
	}
	if delta := p.current - p.lastCount; delta > 0 {
		p.speed = float64(delta) / elapsed.Seconds()
		p.samples++
		if p.samples == 1 {
			p.avgSpeed = p.speed
		} else {
			p.avgSpeed = 0.2*p.speed + 0.8*p.avgSpeed
		}
		p.spark.Add(p.speed)
	}
	p.lastCount = p.current
	p.lastTick = now
}

// AddError counts a failure or warning.
func (p *ProgressTracker) AddError(event ErrorEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if event.IsWarn {
		p.warnings++
	} else {
		p.errors++
	}
}

// Stats returns a snapshot of the tracker.
func (p *ProgressTracker) Stats() ProgressStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	progress := 0.0
	if p.total > 0 {
		progress = min(1.0, float64(p.current)/float64(p.total))
	}
	return ProgressStats{
		Stage:    p.stage,
		Current:  p.current,
		Total:    p.total,
		Progress: progress,
		ETA:      p.eta(progress),
		Document: p.document,
		Errors:   p.errors,
		Warnings: p.warnings,
		Speed:    p.speed,
		AvgSpeed: p.avgSpeed,
	}
}

// eta extrapolates the stage duration from progress and smooths it so
// uneven note sizes do not make it jump. Must be called with mu held.
func (p *ProgressTracker) eta(progress float64) time.Duration {
	if progress <= 0 || progress >= 1 {
		return 0
	}
	elapsed := p.now().Sub(p.stageStart)
	raw := time.Duration(float64(elapsed)/progress) - elapsed
	if raw < 0 {
		return 0
	}
	if p.lastETA == 0 {
		p.lastETA = raw
		return raw
	}
	p.lastETA = time.Duration(etaSmoothing*float64(raw) + (1-etaSmoothing)*float64(p.lastETA))
	return p.lastETA
}

// RenderSparkline renders the throughput history at width.
func (p *ProgressTracker) RenderSparkline(width int) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.spark.Render(width)
}
