package store

import "testing"

func assertEqualStrings(t *testing.T, got, want []string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range got {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestIndexOrdersByCompoundKey(t *testing.T) {
	ix := NewIndex()
	ix.Add("low-priority-early", 5, 1)
	ix.Add("high-priority-late", 1, 10)
	ix.Add("high-priority-early", 1, 2)

	assertEqualStrings(t, ix.Members(), []string{"high-priority-early", "high-priority-late", "low-priority-early"})
}

func TestIndexAddMovesExistingMember(t *testing.T) {
	ix := NewIndex()
	ix.Add("a", 5, 1)
	ix.Add("b", 1, 1)
	ix.Add("a", 0, 1)

	assertEqualStrings(t, ix.Members(), []string{"a", "b"})
	if ix.Card() != 2 {
		t.Fatalf("card = %d, want 2", ix.Card())
	}
}

func TestIndexRemove(t *testing.T) {
	ix := NewIndex()
	ix.Add("a", 1, 1)
	if !ix.Remove("a") {
		t.Fatal("expected Remove to report true")
	}
	if ix.Remove("a") {
		t.Fatal("expected second Remove to report false")
	}
	if ix.Contains("a") {
		t.Fatal("expected a to be gone")
	}
}

func TestIndexRangeByRank(t *testing.T) {
	ix := NewIndex()
	ix.Add("a", 1, 1)
	ix.Add("b", 2, 1)
	ix.Add("c", 3, 1)

	assertEqualStrings(t, ix.RangeByRank(0, 2), []string{"a", "b"})
	assertEqualStrings(t, ix.RangeByRank(1, -1), []string{"b", "c"})
	if got := ix.RangeByRank(5, 2); got != nil {
		t.Fatalf("out-of-range offset should return nil, got %v", got)
	}
}

func TestIndexRangeByScore(t *testing.T) {
	ix := NewIndex()
	ix.Add("due", 10, 1)
	ix.Add("later", 20, 1)

	assertEqualStrings(t, ix.RangeByScore(10), []string{"due"})
	assertEqualStrings(t, ix.RangeByScore(25), []string{"due", "later"})
	if got := ix.RangeByScore(5); len(got) != 0 {
		t.Fatalf("expected no due members, got %v", got)
	}
}
