package analysis

import (
	"strings"

	"github.com/beslagsboden/dialog-engine/internal/observability"
	"github.com/beslagsboden/dialog-engine/internal/session"
)

// ContextType classifies how a turn relates to the conversation so far.
type ContextType string

const (
	ContextIndependent ContextType = "independent"
	ContextFollowUp    ContextType = "follow_up"
	ContextReference   ContextType = "reference"
	ContextComparison  ContextType = "comparison"
)

// followUpTokenLimit is the length under which a bare utterance with no
// entities but an active product is treated as a follow-up.
const followUpTokenLimit = 5

// ReferenceKind is the category of an anaphoric reference.
type ReferenceKind string

const (
	RefEntity   ReferenceKind = "entity"
	RefProperty ReferenceKind = "property"
	RefGroup    ReferenceKind = "group"
)

// Reference is one reference expression found in the query.
type Reference struct {
	Kind  ReferenceKind `json:"kind"`
	Text  string        `json:"text"`
	Start int           `json:"start"`
}

// ResolvedReference is a reference bound to conversation state.
type ResolvedReference struct {
	Kind       ReferenceKind `json:"kind"`
	ProductID  string        `json:"product_id,omitempty"`
	Property   string        `json:"property,omitempty"`
	ProductIDs []string      `json:"product_ids,omitempty"`
}

// ContextAnalysis is the conversational reading of one turn.
type ContextAnalysis struct {
	Type       ContextType                         `json:"type"`
	References []Reference                         `json:"references,omitempty"`
	Resolved   map[ReferenceKind]ResolvedReference `json:"resolved,omitempty"`
	Stage      session.Stage                       `json:"stage"`
}

// ContextManager classifies turns and resolves references against session
// state.
type ContextManager struct {
	logger *observability.Logger
}

// NewContextManager creates a context manager.
func NewContextManager(logger *observability.Logger) *ContextManager {
	return &ContextManager{logger: logger}
}

// Analyze classifies the turn and, unless it is independent, resolves its
// references. Independent turns skip resolution entirely.
func (m *ContextManager) Analyze(query string, conv session.Context, entities []Entity) ContextAnalysis {
	analysis := ContextAnalysis{
		Type:  m.ClassifyType(query, conv, entities),
		Stage: conv.Stage(),
	}

	if analysis.Type == ContextIndependent {
		return analysis
	}

	analysis.References = m.IdentifyReferences(query)
	analysis.Resolved = m.ResolveReferences(analysis.References, conv)

	m.logger.Debug().
		Str("type", string(analysis.Type)).
		Int("references", len(analysis.References)).
		Int("resolved", len(analysis.Resolved)).
		Msg("Context analyzed")

	return analysis
}

// ClassifyType determines the turn's context type. Comparison is checked
// first: "jämför X och Y" must never be read as a follow-up even though it
// continues the conversation.
func (m *ContextManager) ClassifyType(query string, conv session.Context, entities []Entity) ContextType {
	lowered := strings.ToLower(query)
	tokens := Tokenize(query)

	if len(matchTerms(lowered, tokens, comparisonTerms)) > 0 || len(ProductIDs(entities)) >= 2 {
		return ContextComparison
	}

	if len(m.IdentifyReferences(query)) > 0 {
		return ContextReference
	}

	if len(matchTerms(lowered, tokens, continuationTerms)) > 0 && len(conv.History) > 0 {
		return ContextFollowUp
	}

	if len(tokens) <= followUpTokenLimit && len(entities) == 0 && conv.ActiveProduct != "" {
		return ContextFollowUp
	}

	return ContextIndependent
}

// IdentifyReferences finds reference expressions by category. Each category
// reports its first occurrence only.
func (m *ContextManager) IdentifyReferences(query string) []Reference {
	lowered := strings.ToLower(query)
	tokens := Tokenize(query)

	var refs []Reference
	for _, cat := range []struct {
		kind  ReferenceKind
		terms []string
	}{
		{RefEntity, entityRefTerms},
		{RefProperty, propertyRefTerms},
		{RefGroup, groupRefTerms},
	} {
		for _, term := range cat.terms {
			if !containsTerm(lowered, tokens, term) {
				continue
			}
			refs = append(refs, Reference{
				Kind:  cat.kind,
				Text:  term,
				Start: strings.Index(lowered, term),
			})
			break
		}
	}
	return refs
}

// ResolveReferences binds references to conversation state. A reference
// that cannot be resolved is omitted, never guessed.
func (m *ContextManager) ResolveReferences(refs []Reference, conv session.Context) map[ReferenceKind]ResolvedReference {
	resolved := make(map[ReferenceKind]ResolvedReference)

	for _, ref := range refs {
		switch ref.Kind {
		case RefEntity:
			if conv.ActiveProduct != "" {
				resolved[RefEntity] = ResolvedReference{
					Kind:      RefEntity,
					ProductID: conv.ActiveProduct,
				}
			}
		case RefProperty:
			if conv.LastProperty != "" {
				resolved[RefProperty] = ResolvedReference{
					Kind:     RefProperty,
					Property: conv.LastProperty,
				}
			}
		case RefGroup:
			if len(conv.MentionedProducts) > 0 {
				resolved[RefGroup] = ResolvedReference{
					Kind:       RefGroup,
					ProductIDs: append([]string(nil), conv.MentionedProducts...),
				}
			}
		}
	}

	return resolved
}
