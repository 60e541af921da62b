package memory

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"testing"

	"go.uber.org/zap"
)

func newTestStore(maxItems int, opts ...Option) *Store {
	return NewStore(maxItems, zap.NewNop(), opts...)
}

func texts(items []Item) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.Text
	}
	return out
}

func mustSaveNote(t *testing.T, s *Store, scope, text string) string {
	t.Helper()
	id, err := s.SaveTextNote(scope, text)
	if err != nil {
		t.Fatalf("save note %q: %v", text, err)
	}
	return id
}

func TestEvictionKeepsLastNotes(t *testing.T) {
	s := newTestStore(2)
	for _, txt := range []string{"a", "b", "c"} {
		mustSaveNote(t, s, "u1", txt)
	}
	got := texts(slices.Collect(s.ListAll(KindTextNote)))
	if !slices.Equal(got, []string{"b", "c"}) {
		t.Fatalf("after a,b,c got %v, want [b c]", got)
	}

	mustSaveNote(t, s, "u1", "d")
	got = texts(slices.Collect(s.ListAll(KindTextNote)))
	if !slices.Equal(got, []string{"c", "d"}) {
		t.Fatalf("after d got %v, want [c d]", got)
	}
}

func TestEvictionRetainsExactlyLastMaxItems(t *testing.T) {
	const maxItems, n = 5, 23
	s := newTestStore(maxItems)
	var want []string
	for i := 0; i < n; i++ {
		txt := fmt.Sprintf("note-%d", i)
		mustSaveNote(t, s, "u1", txt)
		want = append(want, txt)
	}
	if got := s.Len(KindTextNote); got != maxItems {
		t.Fatalf("got %d notes, want %d", got, maxItems)
	}
	got := texts(slices.Collect(s.ListAll(KindTextNote)))
	if !slices.Equal(got, want[n-maxItems:]) {
		t.Errorf("got %v, want %v", got, want[n-maxItems:])
	}
}

func TestEvictionIsPerKind(t *testing.T) {
	s := newTestStore(3)
	var toolIDs []string
	for i := 0; i < 3; i++ {
		id, err := s.SaveToolUse("u1", ToolUse{ToolName: "run_sql", Args: json.RawMessage(fmt.Sprintf(`{"sql":"select %d"}`, i))})
		if err != nil {
			t.Fatalf("save tool use: %v", err)
		}
		toolIDs = append(toolIDs, id)
	}
	for i := 0; i < 10; i++ {
		mustSaveNote(t, s, "u1", fmt.Sprintf("note %d", i))
	}

	if got := s.Len(KindToolUse); got != 3 {
		t.Fatalf("got %d tool uses, want 3", got)
	}
	for _, id := range toolIDs {
		if _, err := s.Get(id); err != nil {
			t.Errorf("tool use %s evicted by notes: %v", id, err)
		}
	}
	if got := s.Len(KindTextNote); got != 3 {
		t.Errorf("got %d notes, want 3", got)
	}
}

func TestEvictionIgnoresScope(t *testing.T) {
	s := newTestStore(2)
	first := mustSaveNote(t, s, "u1", "mine")
	mustSaveNote(t, s, "u2", "theirs 1")
	mustSaveNote(t, s, "u2", "theirs 2")

	if _, err := s.Get(first); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected u1 note to be evicted, got err=%v", err)
	}
	if got := slices.Collect(s.Search("u1", "", KindAny)); len(got) != 0 {
		t.Errorf("expected no u1 items, got %d", len(got))
	}
}

func TestSearchScopedMostRecentFirst(t *testing.T) {
	s := newTestStore(10)
	mustSaveNote(t, s, "u1", "Revenue by region")
	mustSaveNote(t, s, "u2", "revenue for u2")
	mustSaveNote(t, s, "u1", "headcount")
	if _, err := s.SaveToolUse("u1", ToolUse{
		Question: "What was total revenue last year?",
		ToolName: "run_sql",
		Args:     json.RawMessage(`{"sql":"SELECT sum(amount) FROM orders"}`),
		Success:  true,
	}); err != nil {
		t.Fatalf("save tool use: %v", err)
	}
	mustSaveNote(t, s, "u1", "quarterly revenue targets")

	got := slices.Collect(s.Search("u1", "revenue", KindAny))
	if len(got) != 3 {
		t.Fatalf("got %d results, want 3", len(got))
	}
	for i, it := range got {
		if it.Scope != "u1" {
			t.Errorf("result %d has scope %q", i, it.Scope)
		}
		if i > 0 && it.Seq >= got[i-1].Seq {
			t.Errorf("results not most-recent-first: seq %d after %d", it.Seq, got[i-1].Seq)
		}
	}
	if got[0].Text != "quarterly revenue targets" {
		t.Errorf("first result %q, want most recent note", got[0].Text)
	}
	if got[1].Kind != KindToolUse {
		t.Errorf("second result kind %q, want tool_use", got[1].Kind)
	}

	notes := slices.Collect(s.Search("u1", "revenue", KindTextNote))
	if len(notes) != 2 {
		t.Errorf("got %d notes, want 2", len(notes))
	}
}

func TestSearchKeywords(t *testing.T) {
	s := newTestStore(10)
	mustSaveNote(t, s, "u1", "Orders table stores revenue in cents")
	mustSaveNote(t, s, "u1", "customers live in the crm schema")

	if got := slices.Collect(s.Search("u1", "cents revenue", KindAny)); len(got) != 1 {
		t.Errorf("keyword search got %d results, want 1", len(got))
	}
	if got := slices.Collect(s.Search("u1", "revenue crm", KindAny)); len(got) != 0 {
		t.Errorf("expected no item containing both keywords, got %d", len(got))
	}
	if got := slices.Collect(s.Search("u1", "nothing like this", KindAny)); len(got) != 0 {
		t.Errorf("unmatched query returned %d results", len(got))
	}
	if got := slices.Collect(s.Search("", "revenue", KindAny)); len(got) != 0 {
		t.Errorf("blank scope returned %d results", len(got))
	}
}

func TestListAllInsertionOrder(t *testing.T) {
	s := newTestStore(10)
	mustSaveNote(t, s, "u1", "A")
	if _, err := s.SaveToolUse("u2", ToolUse{ToolName: "run_sql"}); err != nil {
		t.Fatalf("save tool use: %v", err)
	}
	mustSaveNote(t, s, "u2", "B")
	mustSaveNote(t, s, "u1", "C")

	got := texts(slices.Collect(s.ListAll(KindTextNote)))
	if !slices.Equal(got, []string{"A", "B", "C"}) {
		t.Errorf("got %v, want [A B C]", got)
	}

	all := slices.Collect(s.ListAll(KindAny))
	if len(all) != 4 {
		t.Fatalf("got %d items, want 4", len(all))
	}
	if all[1].Kind != KindToolUse {
		t.Errorf("item 1 kind %q, want tool_use", all[1].Kind)
	}
	for i := 1; i < len(all); i++ {
		if all[i].Seq <= all[i-1].Seq {
			t.Errorf("list not in insertion order at %d", i)
		}
	}
}

func TestSequencesAreRestartableSnapshots(t *testing.T) {
	s := newTestStore(2)
	mustSaveNote(t, s, "u1", "a")
	mustSaveNote(t, s, "u1", "b")

	seq := s.ListAll(KindTextNote)
	mustSaveNote(t, s, "u1", "c")

	first := texts(slices.Collect(seq))
	second := texts(slices.Collect(seq))
	if !slices.Equal(first, []string{"a", "b"}) || !slices.Equal(first, second) {
		t.Errorf("snapshot changed: first %v, second %v", first, second)
	}

	// stopping early is fine
	for range seq {
		break
	}
}

func TestReturnedItemsAreCopies(t *testing.T) {
	s := newTestStore(2)
	id, err := s.SaveToolUse("u1", ToolUse{ToolName: "run_sql", Args: json.RawMessage(`{"sql":"select 1"}`)})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	it, _ := s.Get(id)
	it.ToolUse.Args[2] = 'X'
	it.ToolUse.ToolName = "changed"

	again, _ := s.Get(id)
	if string(again.ToolUse.Args) != `{"sql":"select 1"}` || again.ToolUse.ToolName != "run_sql" {
		t.Errorf("stored item mutated through returned copy: %+v", again.ToolUse)
	}
}

func TestInvalidArguments(t *testing.T) {
	s := newTestStore(2)
	cases := []struct {
		name string
		save func() error
	}{
		{"blank note scope", func() error { _, err := s.SaveTextNote("  ", "x"); return err }},
		{"blank note text", func() error { _, err := s.SaveTextNote("u1", " \n"); return err }},
		{"blank tool scope", func() error { _, err := s.SaveToolUse("", ToolUse{ToolName: "run_sql"}); return err }},
		{"blank tool name", func() error { _, err := s.SaveToolUse("u1", ToolUse{}); return err }},
		{"array args", func() error {
			_, err := s.SaveToolUse("u1", ToolUse{ToolName: "run_sql", Args: json.RawMessage(`[1,2]`)})
			return err
		}},
		{"broken args", func() error {
			_, err := s.SaveToolUse("u1", ToolUse{ToolName: "run_sql", Args: json.RawMessage(`{"sql":`)})
			return err
		}},
		{"null args", func() error {
			_, err := s.SaveToolUse("u1", ToolUse{ToolName: "run_sql", Args: json.RawMessage(`null`)})
			return err
		}},
	}
	for _, tc := range cases {
		if err := tc.save(); !errors.Is(err, ErrInvalidArgument) {
			t.Errorf("%s: got %v, want ErrInvalidArgument", tc.name, err)
		}
	}
	if n := s.Len(KindAny); n != 0 {
		t.Errorf("invalid saves stored %d items", n)
	}
}

func TestEmptyArgsDefaultToObject(t *testing.T) {
	s := newTestStore(2)
	id, err := s.SaveToolUse("u1", ToolUse{ToolName: "visualize_data"})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	it, _ := s.Get(id)
	if string(it.ToolUse.Args) != "{}" {
		t.Errorf("got args %s, want {}", it.ToolUse.Args)
	}
}

func TestGetNotFound(t *testing.T) {
	s := newTestStore(2)
	if _, err := s.Get("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}

func TestDefaultCapacity(t *testing.T) {
	if got := newTestStore(0).MaxItems(); got != DefaultMaxItems {
		t.Errorf("got %d, want %d", got, DefaultMaxItems)
	}
}

func TestParseKind(t *testing.T) {
	for _, s := range []string{"", "tool_use", "text_note"} {
		if _, err := ParseKind(s); err != nil {
			t.Errorf("ParseKind(%q): %v", s, err)
		}
	}
	if _, err := ParseKind("notes"); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("got %v, want ErrInvalidArgument", err)
	}
}

func TestConcurrentSaveAtCapacityOne(t *testing.T) {
	for round := 0; round < 50; round++ {
		s := newTestStore(1)
		if _, err := s.SaveToolUse("u0", ToolUse{ToolName: "seed"}); err != nil {
			t.Fatalf("seed: %v", err)
		}

		var wg sync.WaitGroup
		ids := make([]string, 2)
		for i := 0; i < 2; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				id, err := s.SaveToolUse(fmt.Sprintf("u%d", i+1), ToolUse{ToolName: "run_sql"})
				if err != nil {
					t.Errorf("save: %v", err)
				}
				ids[i] = id
			}(i)
		}
		wg.Wait()

		items := slices.Collect(s.ListAll(KindToolUse))
		if len(items) != 1 {
			t.Fatalf("round %d: got %d items, want 1", round, len(items))
		}
		a, errA := s.Get(ids[0])
		b, errB := s.Get(ids[1])
		if (errA == nil) == (errB == nil) {
			t.Fatalf("round %d: expected exactly one surviving item (errA=%v errB=%v)", round, errA, errB)
		}
		survivor := a
		if errA != nil {
			survivor = b
		}
		if items[0].ID != survivor.ID {
			t.Errorf("round %d: listed item %s is not the survivor %s", round, items[0].ID, survivor.ID)
		}
		// the survivor was the later of the two saves
		if survivor.Seq != 3 {
			t.Errorf("round %d: survivor seq %d, want 3", round, survivor.Seq)
		}
	}
}

func TestConcurrentMixedAccess(t *testing.T) {
	const maxItems = 8
	s := newTestStore(maxItems)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			scope := fmt.Sprintf("u%d", i%3)
			for j := 0; j < 25; j++ {
				if _, err := s.SaveTextNote(scope, fmt.Sprintf("note %d/%d", i, j)); err != nil {
					t.Errorf("save note: %v", err)
				}
				if _, err := s.SaveToolUse(scope, ToolUse{ToolName: "run_sql"}); err != nil {
					t.Errorf("save tool use: %v", err)
				}
				items := slices.Collect(s.ListAll(KindAny))
				if len(items) > 2*maxItems {
					t.Errorf("snapshot holds %d items", len(items))
				}
				for k := 1; k < len(items); k++ {
					if items[k].Seq <= items[k-1].Seq {
						t.Errorf("torn snapshot: seq %d after %d", items[k].Seq, items[k-1].Seq)
					}
				}
				_ = slices.Collect(s.Search(scope, "note", KindAny))
			}
		}(i)
	}
	wg.Wait()

	if got := s.Len(KindTextNote); got != maxItems {
		t.Errorf("got %d notes, want %d", got, maxItems)
	}
	if got := s.Len(KindToolUse); got != maxItems {
		t.Errorf("got %d tool uses, want %d", got, maxItems)
	}
}

type recordingObserver struct {
	mu      sync.Mutex
	saved   []string
	evicted []string
}

func (r *recordingObserver) ItemSaved(it Item) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saved = append(r.saved, it.Text)
}

func (r *recordingObserver) ItemEvicted(it Item) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evicted = append(r.evicted, it.Text)
}

func TestObserverNotified(t *testing.T) {
	obs := &recordingObserver{}
	s := newTestStore(1, WithObserver(obs))
	mustSaveNote(t, s, "u1", "a")
	mustSaveNote(t, s, "u1", "b")

	if !slices.Equal(obs.saved, []string{"a", "b"}) {
		t.Errorf("saved %v, want [a b]", obs.saved)
	}
	if !slices.Equal(obs.evicted, []string{"a"}) {
		t.Errorf("evicted %v, want [a]", obs.evicted)
	}
}
