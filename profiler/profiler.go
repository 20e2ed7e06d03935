// Package profiler implements the named-scope timer/counter registry the
// frame controller and combuf use to report per-frame timings. It is
// grounded directly on voxelrt/rt/app/profiler.go's Profiler type
// (BeginScope/EndScope/SetCount/Reset/GetStatsString), generalized with a
// registry of well-known scope names matching the original renderer's
// PROFILER_SCOPES X-macro (frame, begin_frame, render_frame, end_frame,
// frame_gpu_wait, wait_for_frame_fence) so combuf's debug-label push/pop can
// be paired 1:1 with a profiler scope the way spec.md §4.3 requires.
package profiler

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// Well-known scope names, reproduced from the original's PROFILER_SCOPES
// X-macro. Any string may be used as a scope name; these are just the
// names the frame controller uses for its own bookkeeping.
const (
	ScopeFrame             = "frame"
	ScopeBeginFrame        = "begin_frame"
	ScopeRenderFrame       = "render_frame"
	ScopeEndFrame          = "end_frame"
	ScopeFrameGPUWait      = "frame_gpu_wait"
	ScopeWaitForFrameFence = "wait_for_frame_fence"
)

// Profiler accumulates CPU wall-clock scope durations and named counters
// for one frame at a time; Reset is called at frame boundaries.
type Profiler struct {
	mu         sync.Mutex
	scopes     map[string]time.Duration
	startTimes map[string]time.Time
	counts     map[string]int
	order      []string
}

func New() *Profiler {
	return &Profiler{
		scopes:     make(map[string]time.Duration),
		startTimes: make(map[string]time.Time),
		counts:     make(map[string]int),
	}
}

func (p *Profiler) BeginScope(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.startTimes[name] = time.Now()
	for _, n := range p.order {
		if n == name {
			return
		}
	}
	p.order = append(p.order, name)
}

func (p *Profiler) EndScope(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if start, ok := p.startTimes[name]; ok {
		p.scopes[name] = time.Since(start)
	}
}

// Scope runs fn while timing the named scope, ending it even if fn panics.
func (p *Profiler) Scope(name string, fn func()) {
	p.BeginScope(name)
	defer p.EndScope(name)
	fn()
}

func (p *Profiler) SetCount(name string, count int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.counts[name] = count
}

func (p *Profiler) Duration(name string) time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.scopes[name]
}

func (p *Profiler) Count(name string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.counts[name]
}

// Reset keeps the scope ordering (for stable display) but zeroes durations.
// Counters are left as-is; callers that want them zeroed call SetCount
// explicitly at the point they recompute them.
func (p *Profiler) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for k := range p.scopes {
		p.scopes[k] = 0
	}
}

func (p *Profiler) GetStatsString() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var sb strings.Builder
	sb.WriteString("Timings (CPU):\n")
	for _, name := range p.order {
		ms := float64(p.scopes[name].Microseconds()) / 1000.0
		sb.WriteString(fmt.Sprintf("  %-20s: %.2f ms\n", name, ms))
	}
	sb.WriteString("\nStats:\n")
	keys := make([]string, 0, len(p.counts))
	for k := range p.counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		sb.WriteString(fmt.Sprintf("  %-20s: %d\n", k, p.counts[k]))
	}
	return sb.String()
}
