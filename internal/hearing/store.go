package hearing

import (
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
)

// Store is the authoritative in-memory table of hearings plus the routing
// indices. All state is process-lifetime only; a restart loses every open
// hearing's bookkeeping even if the platform thread still exists.
//
// Invariants, held across every mutation under one lock:
//   - selected(u), when present, is an element of open(u)
//   - open(u) transitioning from empty to one element auto-selects it
//   - a hearing leaving the open state leaves every index
//
// Only compound, invariant-preserving operations are exported; the maps
// never escape.
type Store struct {
	mu       sync.Mutex
	hearings map[string]*Hearing          // hearing id -> hearing
	byOrigin map[string]string            // origin message id -> hearing id
	open     map[string]map[string]bool   // user id -> open hearing ids
	selected map[string]string            // user id -> selected hearing id
}

// Sentinel errors callers branch on.
var (
	ErrUnknownHearing = errors.New("hearing: unknown hearing id")
	ErrNotOpen        = errors.New("hearing: hearing is not open")
	ErrNotEligible    = errors.New("hearing: user is not a participant of that hearing")
)

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		hearings: make(map[string]*Hearing),
		byOrigin: make(map[string]string),
		open:     make(map[string]map[string]bool),
		selected: make(map[string]string),
	}
}

// Register adds a newly created hearing, binds its origin reference, and
// registers the raiser into the routing index (with auto-select when this
// becomes the raiser's only open hearing). Fails without mutating anything
// if the id or origin is already registered.
func (s *Store) Register(h *Hearing) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.hearings[h.ID]; ok {
		return fmt.Errorf("hearing: store: id %s already registered", h.ID)
	}
	if prior, ok := s.byOrigin[h.Origin.MessageID]; ok {
		return fmt.Errorf("hearing: store: origin %s already bound to %s", h.Origin.MessageID, prior)
	}

	cp := h.clone()
	cp.State = StateOpen
	if cp.Options == nil {
		cp.Options = make(map[string]string)
	}
	s.hearings[cp.ID] = cp
	s.byOrigin[cp.Origin.MessageID] = cp.ID
	for _, uid := range cp.participants() {
		s.indexUser(uid, cp.ID)
	}
	return nil
}

// Get returns a copy of the hearing, open or mid-close.
func (s *Store) Get(id string) (*Hearing, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.hearings[id]
	if !ok {
		return nil, false
	}
	return h.clone(), true
}

// ByOrigin resolves an origin message id to its hearing id.
func (s *Store) ByOrigin(messageID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byOrigin[messageID]
	return id, ok
}

// Open returns the sorted ids of the user's open hearings. An index entry
// referencing a hearing absent from the table is an internal defect: it is
// logged and healed by removal rather than surfaced.
func (s *Store) Open(userID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	set := s.open[userID]
	out := make([]string, 0, len(set))
	for id := range set {
		h, ok := s.hearings[id]
		if !ok || h.State != StateOpen {
			log.Printf("hearing: store: index for user %s references missing hearing %s, healing", userID, id)
			s.dropFromUser(userID, id)
			continue
		}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Selected returns the user's routing selection, if any. The invariant
// guarantees a returned id is one of the user's open hearings.
func (s *Store) Selected(userID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.selected[userID]
	if !ok {
		return "", false
	}
	if h, exists := s.hearings[id]; !exists || h.State != StateOpen || !s.open[userID][id] {
		// Stale selection is treated as absent, not as an error.
		delete(s.selected, userID)
		return "", false
	}
	return id, true
}

// Select commits a routing choice. The choice must be one of the user's
// currently open hearings; a hearing closed between offer and choice is
// rejected with ErrNotEligible.
func (s *Store) Select(userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.hearings[id]
	if !ok || h.State != StateOpen || !s.open[userID][id] {
		return ErrNotEligible
	}
	s.selected[userID] = id
	return nil
}

// AssignParties sets both parties on an open hearing and reindexes the
// routing index in one atomic step. Parties replaced by the reassignment
// leave open(u), with the selection-clearing cascade, so a former party's
// DMs can never route into a hearing they are no longer part of. The new
// parties are indexed with the usual auto-select on the empty-to-singleton
// transition.
func (s *Store) AssignParties(id, partyA, partyB string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.hearings[id]
	if !ok {
		return ErrUnknownHearing
	}
	if h.State != StateOpen {
		return ErrNotOpen
	}

	before := h.participants()
	h.PartyA = partyA
	h.PartyB = partyB
	after := make(map[string]bool)
	for _, uid := range h.participants() {
		after[uid] = true
	}
	for _, uid := range before {
		if !after[uid] {
			s.dropFromUser(uid, id)
		}
	}
	for uid := range after {
		s.indexUser(uid, id)
	}
	return nil
}

// Update mutates an open hearing under the store lock. The callback must
// not call back into the store.
func (s *Store) Update(id string, fn func(*Hearing)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.hearings[id]
	if !ok {
		return ErrUnknownHearing
	}
	if h.State != StateOpen {
		return ErrNotOpen
	}
	fn(h)
	return nil
}

// BeginClose transitions an open hearing to closing and removes it from
// every user's routing index, cascading selection clearing. It returns a
// copy of the hearing for the remaining cleanup steps. A second BeginClose
// for the same id fails with ErrNotOpen; an unknown id fails with
// ErrUnknownHearing — closing is never silently ignored.
func (s *Store) BeginClose(id string) (*Hearing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.hearings[id]
	if !ok {
		return nil, ErrUnknownHearing
	}
	if h.State != StateOpen {
		return nil, ErrNotOpen
	}
	h.State = StateClosing
	for _, uid := range h.participants() {
		s.dropFromUser(uid, id)
	}
	return h.clone(), nil
}

// Purge removes a hearing and its origin binding from the store. Called
// only after the close sequence's cleanup steps have been attempted, so a
// crash mid-close leaves the hearing discoverable for a retry.
func (s *Store) Purge(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.hearings[id]
	if !ok {
		return
	}
	delete(s.byOrigin, h.Origin.MessageID)
	delete(s.hearings, id)
	// Defensive sweep: no index should still reference a purged hearing,
	// but a leftover entry would be a routing hazard.
	for uid := range s.open {
		s.dropFromUser(uid, id)
	}
}

// Snapshot returns copies of every hearing in the store, sorted by id.
func (s *Store) Snapshot() []*Hearing {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Hearing, 0, len(s.hearings))
	for _, h := range s.hearings {
		out = append(out, h.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of hearings in the store.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.hearings)
}

// indexUser adds id to the user's open set, auto-selecting on the empty-to-
// singleton transition. Caller holds s.mu.
func (s *Store) indexUser(userID, id string) {
	set := s.open[userID]
	if set == nil {
		set = make(map[string]bool)
		s.open[userID] = set
	}
	wasEmpty := len(set) == 0
	set[id] = true
	if wasEmpty && len(set) == 1 {
		s.selected[userID] = id
	}
}

// dropFromUser removes id from the user's open set and clears a selection
// pointing at it. Caller holds s.mu.
func (s *Store) dropFromUser(userID, id string) {
	set := s.open[userID]
	if set == nil {
		return
	}
	delete(set, id)
	if s.selected[userID] == id {
		delete(s.selected, userID)
	}
	if len(set) == 0 {
		delete(s.open, userID)
		delete(s.selected, userID)
	}
}
