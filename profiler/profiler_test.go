package profiler

import (
	"strings"
	"testing"
	"time"
)

func TestScopeRecordsDuration(t *testing.T) {
	p := New()
	p.Scope(ScopeRenderFrame, func() { time.Sleep(time.Millisecond) })
	if p.Duration(ScopeRenderFrame) <= 0 {
		t.Fatal("expected a non-zero duration after Scope")
	}
}

func TestResetZeroesDurationsButKeepsOrder(t *testing.T) {
	p := New()
	p.Scope(ScopeFrame, func() {})
	p.Reset()
	if p.Duration(ScopeFrame) != 0 {
		t.Fatal("duration should be zeroed after Reset")
	}
	stats := p.GetStatsString()
	if !strings.Contains(stats, ScopeFrame) {
		t.Fatal("scope ordering should survive Reset for stable display")
	}
}

func TestSetCountAndRetrieve(t *testing.T) {
	p := New()
	p.SetCount("draw_records", 42)
	if p.Count("draw_records") != 42 {
		t.Fatalf("expected 42, got %d", p.Count("draw_records"))
	}
}
