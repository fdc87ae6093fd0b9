// Package agentstate holds the agent's durable bookkeeping: cycle counters,
// reasoning timestamps, a bounded conversation transcript and the document
// ids already surfaced to the operator.
//
// State is not safe for concurrent use. All writers are expected to funnel
// through the orchestrator goroutine.
package agentstate

import (
	"encoding/json"
	"sort"
	"strings"
	"time"
)

// Conversation roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// DefaultMaxTurns bounds the transcript when no explicit limit is given.
const DefaultMaxTurns = 20

// stateVersion is bumped on incompatible layout changes.
const stateVersion = 1

// Turn is one conversation entry.
type Turn struct {
	Role    string    `json:"role"`
	Content string    `json:"content"`
	At      time.Time `json:"at,omitempty"`
}

// State is the agent's durable record.
type State struct {
	LastCycleAt         time.Time
	LastReasoningCallAt time.Time
	CycleCount          int
	LastSummary         string
	Conversation        []Turn

	seen map[string]map[string]struct{}
	now  func() time.Time
}

// New returns an empty state.
func New() *State {
	return &State{
		seen: make(map[string]map[string]struct{}),
		now:  time.Now,
	}
}

// SetClock overrides time.Now for timestamping.
func (s *State) SetClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

func (s *State) clock() time.Time {
	if s.now == nil {
		return time.Now().UTC()
	}
	return s.now().UTC()
}

// MarkCycleComplete records a finished heartbeat cycle.
func (s *State) MarkCycleComplete(summary string) {
	s.LastCycleAt = s.clock()
	s.CycleCount++
	s.LastSummary = summary
}

// MarkReasoningAttempt stamps the start of a reasoning call. Callers persist
// the state before issuing the call.
func (s *State) MarkReasoningAttempt() {
	s.LastReasoningCallAt = s.clock()
}

// CooldownElapsed reports whether at least cooldown has passed since the last
// reasoning attempt. A state that never called the service is always eligible.
func (s *State) CooldownElapsed(cooldown time.Duration) bool {
	if s.LastReasoningCallAt.IsZero() {
		return true
	}
	return s.clock().Sub(s.LastReasoningCallAt) >= cooldown
}

// AddMessage appends a turn and trims the transcript to the maxTurns most
// recent entries. A non-positive maxTurns falls back to DefaultMaxTurns.
func (s *State) AddMessage(role, content string, maxTurns int) {
	s.Conversation = append(s.Conversation, Turn{Role: role, Content: content, At: s.clock()})
	s.TrimConversation(maxTurns)
}

// TrimConversation drops the oldest turns beyond maxTurns. A non-positive
// maxTurns falls back to DefaultMaxTurns.
func (s *State) TrimConversation(maxTurns int) {
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}
	if over := len(s.Conversation) - maxTurns; over > 0 {
		trimmed := make([]Turn, maxTurns)
		copy(trimmed, s.Conversation[over:])
		s.Conversation = trimmed
	}
}

// RecentTurns returns a copy of the last n turns, oldest first.
func (s *State) RecentTurns(n int) []Turn {
	if n <= 0 || len(s.Conversation) == 0 {
		return nil
	}
	start := len(s.Conversation) - n
	if start < 0 {
		start = 0
	}
	out := make([]Turn, len(s.Conversation)-start)
	copy(out, s.Conversation[start:])
	return out
}

// ResetConversation clears the transcript.
func (s *State) ResetConversation() {
	s.Conversation = nil
}

// HasSeen reports whether id from source was already surfaced.
func (s *State) HasSeen(source, id string) bool {
	ids, ok := s.seen[source]
	if !ok {
		return false
	}
	_, ok = ids[id]
	return ok
}

// MarkSeen records ids from source as surfaced.
func (s *State) MarkSeen(source string, ids ...string) {
	if len(ids) == 0 {
		return
	}
	if s.seen == nil {
		s.seen = make(map[string]map[string]struct{})
	}
	set, ok := s.seen[source]
	if !ok {
		set = make(map[string]struct{}, len(ids))
		s.seen[source] = set
	}
	for _, id := range ids {
		set[id] = struct{}{}
	}
}

// SeenCount returns how many ids are recorded for source.
func (s *State) SeenCount(source string) int {
	return len(s.seen[source])
}

// Sources returns the document sources with recorded ids, sorted.
func (s *State) Sources() []string {
	out := make([]string, 0, len(s.seen))
	for name := range s.seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// snapshot is the persisted layout.
type snapshot struct {
	Version             int                 `json:"version"`
	LastCycleAt         *time.Time          `json:"last_cycle_at,omitempty"`
	LastReasoningCallAt *time.Time          `json:"last_reasoning_call_at,omitempty"`
	CycleCount          int                 `json:"cycle_count"`
	LastSummary         string              `json:"last_summary,omitempty"`
	Conversation        []Turn              `json:"conversation,omitempty"`
	SeenDocumentIDs     map[string][]string `json:"seen_document_ids,omitempty"`
}

// MarshalJSON writes the persisted layout with sorted id lists.
func (s *State) MarshalJSON() ([]byte, error) {
	snap := snapshot{
		Version:      stateVersion,
		CycleCount:   s.CycleCount,
		LastSummary:  s.LastSummary,
		Conversation: s.Conversation,
	}
	if !s.LastCycleAt.IsZero() {
		t := s.LastCycleAt
		snap.LastCycleAt = &t
	}
	if !s.LastReasoningCallAt.IsZero() {
		t := s.LastReasoningCallAt
		snap.LastReasoningCallAt = &t
	}
	if len(s.seen) > 0 {
		snap.SeenDocumentIDs = make(map[string][]string, len(s.seen))
		for source, set := range s.seen {
			ids := make([]string, 0, len(set))
			for id := range set {
				ids = append(ids, id)
			}
			sort.Strings(ids)
			snap.SeenDocumentIDs[source] = ids
		}
	}
	return json.Marshal(snap)
}

// UnmarshalJSON reads the persisted layout.
func (s *State) UnmarshalJSON(data []byte) error {
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return err
	}
	fresh := New()
	if s.now != nil {
		fresh.now = s.now
	}
	if snap.LastCycleAt != nil {
		fresh.LastCycleAt = snap.LastCycleAt.UTC()
	}
	if snap.LastReasoningCallAt != nil {
		fresh.LastReasoningCallAt = snap.LastReasoningCallAt.UTC()
	}
	if snap.CycleCount > 0 {
		fresh.CycleCount = snap.CycleCount
	}
	fresh.LastSummary = snap.LastSummary
	fresh.Conversation = snap.Conversation
	for source, ids := range snap.SeenDocumentIDs {
		source = strings.TrimSpace(source)
		if source == "" {
			continue
		}
		fresh.MarkSeen(source, ids...)
	}
	*s = *fresh
	return nil
}
