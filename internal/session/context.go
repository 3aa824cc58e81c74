// Package session holds per-conversation state: what has been said, which
// product is in focus, and what the engine resolved last. Context values are
// immutable; Update returns a new value so a failed turn can simply discard
// its copy.
package session

import (
	"time"

	"github.com/google/uuid"
)

// Intent is a resolved query intent.
type Intent string

// The closed intent label set, in ranking priority order. Clarification is
// assigned by the orchestrator when the confidence floor is not met, never
// by the analyzer.
const (
	IntentTechnical     Intent = "technical"
	IntentCompatibility Intent = "compatibility"
	IntentSummary       Intent = "summary"
	IntentSearch        Intent = "search"
	IntentComparison    Intent = "comparison"
	IntentClarification Intent = "clarification_needed"
)

// Labels lists the analyzable intents in declaration order. Ranking ties
// are broken by position in this slice.
func Labels() []Intent {
	return []Intent{
		IntentTechnical,
		IntentCompatibility,
		IntentSummary,
		IntentSearch,
		IntentComparison,
	}
}

// Priority returns the tie-break rank of an intent; lower wins. Unknown
// labels sort last.
func Priority(intent Intent) int {
	for i, label := range Labels() {
		if label == intent {
			return i
		}
	}
	return len(Labels())
}

// Stage is a read-only view of how far the conversation has progressed.
type Stage string

const (
	StageInitial            Stage = "initial"
	StageDetailedInquiry    Stage = "detailed_inquiry"
	StageProductExploration Stage = "product_exploration"
)

// HistoryLimit caps the utterance history; the oldest entry is evicted first.
const HistoryLimit = 10

// Utterance is one remembered user input.
type Utterance struct {
	Text string    `json:"text"`
	At   time.Time `json:"at"`
}

// Context is the conversation state carried between turns.
type Context struct {
	SessionID         uuid.UUID   `json:"session_id"`
	StartedAt         time.Time   `json:"started_at"`
	History           []Utterance `json:"history"`
	ActiveProduct     string      `json:"active_product,omitempty"`
	LastProperty      string      `json:"last_property,omitempty"`
	PreviousIntent    Intent      `json:"previous_intent,omitempty"`
	MentionedProducts []string    `json:"mentioned_products,omitempty"`
}

// NewContext returns a fresh conversation context.
func NewContext() Context {
	return Context{
		SessionID: uuid.New(),
		StartedAt: time.Now(),
	}
}

// TurnInfo carries the outcome of a completed turn into the context.
type TurnInfo struct {
	Utterance string
	At        time.Time
	ProductID string
	Property  string
	Intent    Intent
}

// Update applies a completed turn and returns the new context. The receiver
// is not modified.
func (c Context) Update(info TurnInfo) Context {
	next := c.clone()

	if info.Utterance != "" {
		at := info.At
		if at.IsZero() {
			at = time.Now()
		}
		next.History = append(next.History, Utterance{Text: info.Utterance, At: at})
		if len(next.History) > HistoryLimit {
			next.History = next.History[len(next.History)-HistoryLimit:]
		}
	}

	if info.ProductID != "" {
		next.ActiveProduct = info.ProductID
		next.MentionedProducts = appendUnique(next.MentionedProducts, info.ProductID)
	}

	if info.Property != "" {
		next.LastProperty = info.Property
	}

	if info.Intent != "" {
		next.PreviousIntent = info.Intent
	}

	return next
}

// Mention records additional product identifiers without changing focus.
func (c Context) Mention(productIDs ...string) Context {
	next := c.clone()
	for _, id := range productIDs {
		if id != "" {
			next.MentionedProducts = appendUnique(next.MentionedProducts, id)
		}
	}
	return next
}

// Stage derives the conversation stage from the current state.
func (c Context) Stage() Stage {
	if c.ActiveProduct == "" {
		return StageInitial
	}
	if c.PreviousIntent == IntentTechnical || c.PreviousIntent == IntentCompatibility {
		return StageDetailedInquiry
	}
	return StageProductExploration
}

// clone deep-copies the slices so updates never alias the receiver.
func (c Context) clone() Context {
	next := c
	next.History = append([]Utterance(nil), c.History...)
	next.MentionedProducts = append([]string(nil), c.MentionedProducts...)
	return next
}

func appendUnique(list []string, value string) []string {
	for _, v := range list {
		if v == value {
			return list
		}
	}
	return append(list, value)
}
