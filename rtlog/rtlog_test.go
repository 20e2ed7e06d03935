package rtlog

import "testing"

func TestThrottleAllowsFirstThenEveryN(t *testing.T) {
	th := NewThrottle()
	var allowed []bool
	for i := 0; i < 7; i++ {
		allowed = append(allowed, th.Allow("cell-overflow", 3))
	}
	want := []bool{true, false, false, true, false, false, true}
	for i := range want {
		if allowed[i] != want[i] {
			t.Fatalf("occurrence %d: got %v want %v", i, allowed[i], want[i])
		}
	}
}

func TestThrottleKeysAreIndependent(t *testing.T) {
	th := NewThrottle()
	if !th.Allow("a", 5) {
		t.Fatal("first occurrence of a must be allowed")
	}
	if !th.Allow("b", 5) {
		t.Fatal("first occurrence of b must be allowed, independent of a")
	}
}

func TestThrottleResetRestartsCount(t *testing.T) {
	th := NewThrottle()
	th.Allow("k", 2)
	th.Allow("k", 2)
	th.Reset("k")
	if !th.Allow("k", 2) {
		t.Fatal("after reset the next occurrence should be allowed")
	}
}

func TestDefaultLoggerDebugGating(t *testing.T) {
	l := NewDefaultLogger("test", false)
	if l.DebugEnabled() {
		t.Fatal("debug should start disabled")
	}
	l.SetDebug(true)
	if !l.DebugEnabled() {
		t.Fatal("debug should be enabled after SetDebug(true)")
	}
}
