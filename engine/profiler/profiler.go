package profiler

import (
	"log/slog"
	"runtime"
	"time"

	"github.com/Carmen-Shannon/oxy-render/common"
)

// CountsFunc reports the draws and triangles a culling source submitted in its last
// read-back frame.
type CountsFunc func() (draws, triangles uint64)

type source struct {
	name   string
	counts CountsFunc
}

// Report is one logged interval.
type Report struct {
	FPS         float64
	HeapMB      float64
	AllocRateMB float64
	GCCount     uint32
	MaxPauseUs  uint64
	Draws       map[string]uint64
	Triangles   map[string]uint64
}

// Profiler tracks frame rate, memory and culling statistics and logs them through the
// engine logger at a fixed interval.
type Profiler struct {
	frameCount     int
	lastTime       time.Time
	updateInterval time.Duration
	now            func() time.Time
	memStats       runtime.MemStats
	lastGCCount    uint32
	lastTotalAlloc uint64
	sources        []source
}

// ProfilerOption configures a Profiler.
type ProfilerOption func(*Profiler)

// WithInterval sets how often Tick logs. Defaults to one second.
func WithInterval(d time.Duration) ProfilerOption {
	return func(p *Profiler) {
		p.updateInterval = d
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) ProfilerOption {
	return func(p *Profiler) {
		p.now = now
	}
}

// NewProfiler creates a Profiler whose first interval starts now.
//
// Parameters:
//   - options: functional options
//
// Returns:
//   - *Profiler: the profiler
func NewProfiler(options ...ProfilerOption) *Profiler {
	p := &Profiler{
		updateInterval: time.Second,
		now:            time.Now,
	}
	for _, option := range options {
		option(p)
	}
	p.lastTime = p.now()
	return p
}

// AddSource registers a culling statistics source logged under name.
func (p *Profiler) AddSource(name string, counts CountsFunc) {
	p.sources = append(p.sources, source{name: name, counts: counts})
}

// Tick should be called once per frame. When the interval has elapsed it logs FPS, heap
// usage, allocation rate, GC pauses and the counts of every source.
//
// Returns:
//   - Report: the logged values
//   - bool: true if stats were logged this tick
func (p *Profiler) Tick() (Report, bool) {
	p.frameCount++
	currentTime := p.now()
	elapsed := currentTime.Sub(p.lastTime)
	if elapsed < p.updateInterval || elapsed <= 0 {
		return Report{}, false
	}

	runtime.ReadMemStats(&p.memStats)
	r := Report{
		FPS:         float64(p.frameCount) / elapsed.Seconds(),
		HeapMB:      float64(p.memStats.Alloc) / 1024 / 1024,
		AllocRateMB: float64(p.memStats.TotalAlloc-p.lastTotalAlloc) / 1024 / 1024 / elapsed.Seconds(),
		GCCount:     p.memStats.NumGC,
		Draws:       make(map[string]uint64, len(p.sources)),
		Triangles:   make(map[string]uint64, len(p.sources)),
	}
	// PauseNs is a ring of the last 256 pauses.
	start := p.lastGCCount
	if r.GCCount-start > 256 {
		start = r.GCCount - 256
	}
	for i := start; i < r.GCCount; i++ {
		r.MaxPauseUs = max(r.MaxPauseUs, p.memStats.PauseNs[i%256]/1000)
	}

	attrs := []any{
		slog.Float64("fps", r.FPS),
		slog.Float64("heap_mb", r.HeapMB),
		slog.Float64("alloc_mb_s", r.AllocRateMB),
		slog.Uint64("gc", uint64(r.GCCount)),
		slog.Uint64("gc_max_pause_us", r.MaxPauseUs),
	}
	for _, s := range p.sources {
		d, t := s.counts()
		r.Draws[s.name], r.Triangles[s.name] = d, t
		attrs = append(attrs, slog.Group(s.name, slog.Uint64("draws", d), slog.Uint64("triangles", t)))
	}
	common.Logger().Info("profiler", attrs...)

	p.frameCount = 0
	p.lastTime = currentTime
	p.lastGCCount = r.GCCount
	p.lastTotalAlloc = p.memStats.TotalAlloc
	return r, true
}
