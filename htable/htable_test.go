package htable

import "testing"

func TestCapacityIsPowerOfTwo(t *testing.T) {
	for _, hint := range []int{0, 1, 5, 16, 17, 1000} {
		tb := New(hint, true)
		c := tb.Capacity()
		if c&(c-1) != 0 {
			t.Fatalf("capacity %d for hint %d is not a power of two", c, hint)
		}
	}
}

func TestInsertThenFindReturnsSameIndex(t *testing.T) {
	tb := New(16, true)
	idx, created := tb.Insert("tex/wall01", 7)
	if !created {
		t.Fatal("first insert must report created=true")
	}
	found, ok := tb.Find("tex/wall01")
	if !ok || found != idx {
		t.Fatalf("find after insert: got (%d,%v) want (%d,true)", found, ok, idx)
	}
}

func TestSecondInsertReportsNotCreated(t *testing.T) {
	tb := New(16, true)
	idx1, _ := tb.Insert("k", 1)
	idx2, created := tb.Insert("k", 2)
	if created {
		t.Fatal("second insert of same key must report created=false")
	}
	if idx1 != idx2 {
		t.Fatalf("second insert must return the same index: %d vs %d", idx1, idx2)
	}
	if tb.Value(idx2) != 1 {
		t.Fatal("second insert must not overwrite the existing value")
	}
}

func TestRemoveThenFindReturnsNotFound(t *testing.T) {
	tb := New(16, true)
	tb.Insert("k", 1)
	if !tb.Remove("k") {
		t.Fatal("remove of present key must succeed")
	}
	if _, ok := tb.Find("k"); ok {
		t.Fatal("find after remove must report not found")
	}
}

func TestTombstoneDoesNotBreakProbeChain(t *testing.T) {
	tb := New(16, true)
	// force the keys into the same bucket: they differ only in their first
	// byte, and every first byte has low nibble 1, so the low 4 bits of the
	// FNV-1a hash (the bucket in a 16-slot table) are equal for all of them.
	// Remove the first and ensure the rest of the probe chain stays findable.
	keys := []string{"A-key", "Q-key", "a-key", "q-key", "1-key", "!-key"}
	for i, k := range keys {
		tb.Insert(k, i)
	}
	tb.Remove(keys[0])
	for i := 1; i < len(keys); i++ {
		if _, ok := tb.Find(keys[i]); !ok {
			t.Fatalf("key %q should remain findable after removing a colliding key", keys[i])
		}
	}
	idx, created := tb.Insert(keys[0], 99)
	if !created {
		t.Fatal("re-inserting a removed key must create a fresh entry")
	}
	if tb.Value(idx) != 99 {
		t.Fatal("re-inserted key must carry its new value")
	}
}

func TestCaseInsensitiveVariant(t *testing.T) {
	tb := New(16, false)
	tb.Insert("Texture/WALL", 1)
	if _, ok := tb.Find("texture/wall"); !ok {
		t.Fatal("case-insensitive table must match regardless of case")
	}
	if !tb.Remove("TEXTURE/wall") {
		t.Fatal("case-insensitive remove must match regardless of case")
	}
}

func TestCaseSensitiveVariantDistinguishesCase(t *testing.T) {
	tb := New(16, true)
	tb.Insert("Wall", 1)
	if _, ok := tb.Find("wall"); ok {
		t.Fatal("case-sensitive table must not match a differently-cased key")
	}
}

func TestGrowthPreservesAllEntries(t *testing.T) {
	tb := New(4, true)
	n := 200
	for i := 0; i < n; i++ {
		tb.Insert(string(rune('a'))+string(rune(i)), i)
	}
	if tb.Len() != n {
		t.Fatalf("expected %d entries after growth, got %d", n, tb.Len())
	}
	c := tb.Capacity()
	if c&(c-1) != 0 {
		t.Fatalf("capacity after growth %d is not a power of two", c)
	}
}
