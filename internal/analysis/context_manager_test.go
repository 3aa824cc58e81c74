package analysis

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beslagsboden/dialog-engine/internal/observability"
	"github.com/beslagsboden/dialog-engine/internal/session"
)

func TestClassifyType(t *testing.T) {
	m := NewContextManager(observability.Nop())

	withProduct := session.NewContext().Update(session.TurnInfo{
		Utterance: "berätta om psv 2415-7",
		ProductID: "50025313",
		Intent:    session.IntentSummary,
	})

	twoProducts := []Entity{
		{Kind: KindProduct, ProductID: "50025313"},
		{Kind: KindProduct, ProductID: "50025399"},
	}

	tests := []struct {
		name     string
		query    string
		conv     session.Context
		entities []Entity
		want     ContextType
	}{
		{
			name:  "short bare question with active product is a follow-up",
			query: "vad är vikten?",
			conv:  withProduct,
			want:  ContextFollowUp,
		},
		{
			name:  "continuation term with history is a follow-up",
			query: "berätta mer",
			conv:  withProduct,
			want:  ContextFollowUp,
		},
		{
			name:     "comparison term wins over everything",
			query:    "jämför den med produkten",
			conv:     withProduct,
			entities: nil,
			want:     ContextComparison,
		},
		{
			name:     "two resolved products imply comparison without a term",
			query:    "psv 2415-7 eller psv 2435-12?",
			conv:     session.NewContext(),
			entities: twoProducts,
			want:     ContextComparison,
		},
		{
			name:  "pronoun makes a reference turn",
			query: "passar den till min ytterdörr?",
			conv:  withProduct,
			want:  ContextReference,
		},
		{
			name:  "plural reference",
			query: "vad väger dessa?",
			conv:  withProduct,
			want:  ContextReference,
		},
		{
			name:  "long query without state is independent",
			query: "vilka sorters handtag har ni för ytterdörrar",
			conv:  session.NewContext(),
			want:  ContextIndependent,
		},
		{
			name:  "short query without active product is independent",
			query: "vad är vikten?",
			conv:  session.NewContext(),
			want:  ContextIndependent,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, m.ClassifyType(tt.query, tt.conv, tt.entities))
		})
	}
}

func TestAnalyzeIndependentSkipsResolution(t *testing.T) {
	m := NewContextManager(observability.Nop())

	got := m.Analyze("vilka sorters handtag har ni för ytterdörrar", session.NewContext(), nil)

	assert.Equal(t, ContextIndependent, got.Type)
	assert.Empty(t, got.References)
	assert.Empty(t, got.Resolved)
	assert.Equal(t, session.StageInitial, got.Stage)
}

func TestAnalyzeFollowUpWithoutReferences(t *testing.T) {
	m := NewContextManager(observability.Nop())
	conv := session.NewContext().Update(session.TurnInfo{
		Utterance: "berätta om psv 2415-7",
		ProductID: "50025313",
		Intent:    session.IntentSummary,
	})

	got := m.Analyze("vad är vikten?", conv, nil)

	assert.Equal(t, ContextFollowUp, got.Type)
	assert.Empty(t, got.References)
	_, hasProperty := got.Resolved[RefProperty]
	assert.False(t, hasProperty, "no property reference expression, nothing to resolve")
}

func TestIdentifyReferences(t *testing.T) {
	m := NewContextManager(observability.Nop())

	refs := m.IdentifyReferences("passar den och har detta samma mått som dessa?")

	require.Len(t, refs, 3)
	kinds := map[ReferenceKind]bool{}
	for _, ref := range refs {
		kinds[ref.Kind] = true
	}
	assert.True(t, kinds[RefEntity])
	assert.True(t, kinds[RefProperty])
	assert.True(t, kinds[RefGroup])
}

func TestIdentifyReferencesFirstPerCategory(t *testing.T) {
	m := NewContextManager(observability.Nop())

	refs := m.IdentifyReferences("den eller produkten?")

	require.Len(t, refs, 1)
	assert.Equal(t, RefEntity, refs[0].Kind)
	assert.Equal(t, "den", refs[0].Text)
}

func TestResolveReferences(t *testing.T) {
	m := NewContextManager(observability.Nop())

	conv := session.NewContext().
		Update(session.TurnInfo{
			Utterance: "vad väger psv 2415-7",
			ProductID: "50025313",
			Property:  "vikt",
			Intent:    session.IntentTechnical,
		}).
		Mention("50025399")

	refs := []Reference{
		{Kind: RefEntity, Text: "den"},
		{Kind: RefProperty, Text: "det"},
		{Kind: RefGroup, Text: "dessa"},
	}

	resolved := m.ResolveReferences(refs, conv)

	require.Len(t, resolved, 3)
	assert.Equal(t, "50025313", resolved[RefEntity].ProductID)
	assert.Equal(t, "vikt", resolved[RefProperty].Property)
	assert.ElementsMatch(t, []string{"50025313", "50025399"}, resolved[RefGroup].ProductIDs)
}

func TestResolveReferencesOmitsUnresolvable(t *testing.T) {
	m := NewContextManager(observability.Nop())

	refs := []Reference{
		{Kind: RefEntity, Text: "den"},
		{Kind: RefProperty, Text: "det"},
		{Kind: RefGroup, Text: "dessa"},
	}

	resolved := m.ResolveReferences(refs, session.NewContext())

	assert.Empty(t, resolved, "empty conversation state resolves nothing")
}
