package memory

import (
	"encoding/json"
	"fmt"
	"iter"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultMaxItems is used when a store is created with a non-positive capacity.
const DefaultMaxItems = 1000

// Observer is notified after an item has been saved or evicted. Calls happen
// outside the store lock, on the saving goroutine.
type Observer interface {
	ItemSaved(Item)
	ItemEvicted(Item)
}

// Option configures a Store.
type Option func(*Store)

// WithObserver registers an observer for save and eviction notifications.
func WithObserver(o Observer) Option {
	return func(s *Store) { s.observers = append(s.observers, o) }
}

// Store is a volatile, bounded agent memory. Tool uses and text notes are
// kept in separate FIFO collections of at most MaxItems each; saving into a
// full collection evicts its oldest item regardless of scope.
type Store struct {
	mu        sync.RWMutex
	maxItems  int
	seq       uint64
	tools     *ring
	notes     *ring
	byID      map[string]Item
	observers []Observer
	logger    *zap.Logger
}

// NewStore creates a store holding at most maxItems items per kind.
func NewStore(maxItems int, logger *zap.Logger, opts ...Option) *Store {
	if maxItems <= 0 {
		maxItems = DefaultMaxItems
	}
	s := &Store{
		maxItems: maxItems,
		tools:    newRing(maxItems),
		notes:    newRing(maxItems),
		byID:     make(map[string]Item, 2*maxItems),
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// MaxItems returns the per-kind capacity.
func (s *Store) MaxItems() int { return s.maxItems }

// SaveToolUse records a tool use for scope and returns the new item ID.
func (s *Store) SaveToolUse(scope string, use ToolUse) (string, error) {
	if strings.TrimSpace(scope) == "" {
		return "", fmt.Errorf("%w: owner scope is empty", ErrInvalidArgument)
	}
	if strings.TrimSpace(use.ToolName) == "" {
		return "", fmt.Errorf("%w: tool name is empty", ErrInvalidArgument)
	}
	args, err := normalizeArgs(use.Args)
	if err != nil {
		return "", err
	}
	use.Args = args
	return s.save(Item{Kind: KindToolUse, Scope: scope, ToolUse: &use}), nil
}

// SaveTextNote records a free-text note for scope and returns the new item ID.
func (s *Store) SaveTextNote(scope, text string) (string, error) {
	if strings.TrimSpace(scope) == "" {
		return "", fmt.Errorf("%w: owner scope is empty", ErrInvalidArgument)
	}
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("%w: note text is empty", ErrInvalidArgument)
	}
	return s.save(Item{Kind: KindTextNote, Scope: scope, Text: text}), nil
}

func (s *Store) save(it Item) string {
	it.ID = uuid.New().String()
	it.CreatedAt = time.Now()

	s.mu.Lock()
	s.seq++
	it.Seq = s.seq
	evicted, didEvict := s.collection(it.Kind).push(it)
	if didEvict {
		delete(s.byID, evicted.ID)
	}
	s.byID[it.ID] = it
	s.mu.Unlock()

	if didEvict {
		s.logger.Debug("memory item evicted",
			zap.String("kind", string(evicted.Kind)),
			zap.String("id", evicted.ID),
			zap.Uint64("seq", evicted.Seq))
	}
	for _, o := range s.observers {
		if didEvict {
			o.ItemEvicted(evicted.clone())
		}
		o.ItemSaved(it.clone())
	}
	return it.ID
}

// Get returns the item with the given ID.
func (s *Store) Get(id string) (Item, error) {
	s.mu.RLock()
	it, ok := s.byID[id]
	s.mu.RUnlock()
	if !ok {
		return Item{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return it.clone(), nil
}

// Len returns the number of stored items of kind, or of both kinds for KindAny.
func (s *Store) Len(kind Kind) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	switch kind {
	case KindToolUse:
		return s.tools.len()
	case KindTextNote:
		return s.notes.len()
	case KindAny:
		return s.tools.len() + s.notes.len()
	}
	return 0
}

// Search returns the items of scope whose payload matches query, most recent
// first. kind restricts the result unless it is KindAny. The sequence walks a
// snapshot taken when Search is called and may be ranged over repeatedly.
func (s *Store) Search(scope, query string, kind Kind) iter.Seq[Item] {
	if strings.TrimSpace(scope) == "" {
		return seqOf(nil)
	}
	items := s.snapshot(kind, func(it Item) bool {
		return it.Scope == scope && matches(it.searchText(), query)
	})
	slices.Reverse(items)
	return seqOf(items)
}

// ListAll returns every item of kind (both kinds for KindAny) in insertion order.
func (s *Store) ListAll(kind Kind) iter.Seq[Item] {
	return seqOf(s.snapshot(kind, nil))
}

// snapshot copies the selected collections under the read lock, ordered by
// ascending Seq. keep filters items when non-nil.
func (s *Store) snapshot(kind Kind, keep func(Item) bool) []Item {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Item
	add := func(it Item) {
		if keep == nil || keep(it) {
			out = append(out, it)
		}
	}
	switch kind {
	case KindToolUse:
		s.tools.each(add)
	case KindTextNote:
		s.notes.each(add)
	case KindAny:
		s.tools.each(add)
		s.notes.each(add)
		slices.SortFunc(out, func(a, b Item) int {
			switch {
			case a.Seq < b.Seq:
				return -1
			case a.Seq > b.Seq:
				return 1
			}
			return 0
		})
	}
	return out
}

func (s *Store) collection(kind Kind) *ring {
	if kind == KindToolUse {
		return s.tools
	}
	return s.notes
}

func seqOf(items []Item) iter.Seq[Item] {
	return func(yield func(Item) bool) {
		for _, it := range items {
			if !yield(it.clone()) {
				return
			}
		}
	}
}

// normalizeArgs returns a private copy of raw, which must be a JSON object.
// Empty arguments become {}.
func normalizeArgs(raw json.RawMessage) (json.RawMessage, error) {
	if len(strings.TrimSpace(string(raw))) == 0 {
		return json.RawMessage("{}"), nil
	}
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil || obj == nil {
		return nil, fmt.Errorf("%w: tool arguments must be a JSON object", ErrInvalidArgument)
	}
	return append(json.RawMessage(nil), raw...), nil
}
