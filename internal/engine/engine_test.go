package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beslagsboden/dialog-engine/internal/analysis"
	"github.com/beslagsboden/dialog-engine/internal/cache"
	"github.com/beslagsboden/dialog-engine/internal/catalog"
	"github.com/beslagsboden/dialog-engine/internal/nlp"
	"github.com/beslagsboden/dialog-engine/internal/observability"
	"github.com/beslagsboden/dialog-engine/internal/session"
)

// fakeLookup records calls and serves canned catalog data.
type fakeLookup struct {
	specCalls    []string
	compatCalls  []string
	summaryCalls []string
	searchCalls  []string

	specStatusErr bool
	panicOnSpec   bool
}

func (f *fakeLookup) GetTechnicalSpecs(ctx context.Context, productID string) (*catalog.Result, error) {
	f.specCalls = append(f.specCalls, productID)
	if f.panicOnSpec {
		panic("spec lookup exploded")
	}
	if f.specStatusErr {
		return catalog.ErrorResult("Inga tekniska specifikationer för " + productID), nil
	}
	return &catalog.Result{
		Status:    catalog.StatusSuccess,
		ProductID: productID,
		Name:      "PSV " + productID,
		Specs:     []catalog.SpecRow{{Name: "Vikt", Value: "1.2", Unit: "kg"}},
	}, nil
}

func (f *fakeLookup) GetCompatibility(ctx context.Context, productID string) (*catalog.Result, error) {
	f.compatCalls = append(f.compatCalls, productID)
	return &catalog.Result{
		Status:    catalog.StatusSuccess,
		ProductID: productID,
		Name:      "PSV " + productID,
		Compat:    []catalog.CompatRow{{TargetName: "Låskista 565"}},
	}, nil
}

func (f *fakeLookup) GetSummary(ctx context.Context, productID string) (*catalog.Result, error) {
	f.summaryCalls = append(f.summaryCalls, productID)
	return &catalog.Result{
		Status:    catalog.StatusSuccess,
		ProductID: productID,
		Name:      "PSV " + productID,
		Summary:   "Monteringsstolpe för modulanpassade dörrar.",
	}, nil
}

func (f *fakeLookup) SearchProducts(ctx context.Context, query string, limit int) (*catalog.Result, error) {
	f.searchCalls = append(f.searchCalls, query)
	return &catalog.Result{
		Status: catalog.StatusSuccess,
		Hits:   []catalog.Hit{{ProductID: "50025313", Name: "PSV 2415-7", Score: 0.8}},
	}, nil
}

func (f *fakeLookup) lookups() int {
	return len(f.specCalls) + len(f.compatCalls) + len(f.summaryCalls) + len(f.searchCalls)
}

// fakeIndex implements catalog.Index over fixed maps.
type fakeIndex struct {
	names    map[string]string
	ids      map[string]string
	articles map[string]string
	eans     map[string]string
}

func (f *fakeIndex) ValidateID(id string) bool {
	_, ok := f.ids[id]
	return ok
}

func (f *fakeIndex) ProductName(id string) (string, bool) {
	name, ok := f.ids[id]
	return name, ok
}

func (f *fakeIndex) NameToID() map[string]string { return f.names }

func (f *fakeIndex) ByArticleNumber(num string) (string, bool) {
	id, ok := f.articles[num]
	return id, ok
}

func (f *fakeIndex) ByEAN(ean string) (string, bool) {
	id, ok := f.eans[ean]
	return id, ok
}

func testIndex() *fakeIndex {
	return &fakeIndex{
		names: map[string]string{
			"psv 2415-7":  "50025313",
			"psv 2435-12": "50025399",
		},
		ids: map[string]string{
			"50025313": "PSV 2415-7",
			"50025399": "PSV 2435-12",
		},
		articles: map[string]string{
			"50025313": "50025313",
			"50025399": "50025399",
		},
		eans: map[string]string{},
	}
}

func newTestEngine(lookup *fakeLookup, tagger nlp.Tagger, cfg Config) *Engine {
	return New(observability.Nop(), lookup, testIndex(), tagger, nil, cache.NewMemoryClient(100), cfg)
}

func TestProcessCommandBypassesAnalysis(t *testing.T) {
	lookup := &fakeLookup{}
	tagger := &nlp.MockTagger{}
	e := newTestEngine(lookup, tagger, DefaultConfig())

	result := e.Process(context.Background(), "-t 50025313", session.NewContext())

	assert.Equal(t, StateCompleted, result.State)
	assert.Equal(t, "-t", result.Command)
	assert.Equal(t, session.IntentTechnical, result.Intent)
	assert.Equal(t, []string{"50025313"}, lookup.specCalls)
	assert.Equal(t, 0, tagger.Calls, "commands never touch the language pipeline")
	assert.Nil(t, result.Analysis)

	assert.Equal(t, "50025313", result.Context.ActiveProduct)
	assert.Equal(t, session.IntentTechnical, result.Context.PreviousIntent)
	assert.Len(t, result.Context.History, 1)
}

func TestProcessCommandInvalidProduct(t *testing.T) {
	lookup := &fakeLookup{}
	e := newTestEngine(lookup, nil, DefaultConfig())
	conv := session.NewContext()

	result := e.Process(context.Background(), "-t 99999999", conv)

	assert.Equal(t, StateFailed, result.State)
	require.NotNil(t, result.Failure)
	assert.Equal(t, FailureLookup, result.Failure.Kind)
	assert.Equal(t, "Ogiltig produkt: 99999999", result.Failure.Message)
	assert.Equal(t, 0, lookup.lookups())
	assert.Equal(t, conv, result.Context, "failed turns leave the context untouched")
}

func TestProcessCommandFullInfo(t *testing.T) {
	lookup := &fakeLookup{}
	e := newTestEngine(lookup, nil, DefaultConfig())

	result := e.Process(context.Background(), "-f 50025313", session.NewContext())

	assert.Equal(t, StateCompleted, result.State)
	require.NotNil(t, result.Lookup)
	assert.NotEmpty(t, result.Lookup.Summary)
	assert.NotEmpty(t, result.Lookup.Specs)
	assert.NotEmpty(t, result.Lookup.Compat)
	assert.Equal(t, []string{"50025313"}, lookup.summaryCalls)
	assert.Equal(t, []string{"50025313"}, lookup.specCalls)
	assert.Equal(t, []string{"50025313"}, lookup.compatCalls)
}

func TestProcessCommandCacheHit(t *testing.T) {
	lookup := &fakeLookup{}
	e := newTestEngine(lookup, nil, DefaultConfig())
	conv := session.NewContext()

	first := e.Process(context.Background(), "-t 50025313", conv)
	second := e.Process(context.Background(), "-t 50025313", conv)

	assert.False(t, first.Cached)
	assert.True(t, second.Cached)
	assert.Equal(t, []string{"50025313"}, lookup.specCalls, "second turn served from cache")
	assert.Equal(t, StateCompleted, second.State)
	assert.Equal(t, "50025313", second.Context.ActiveProduct, "cache hits still commit context")
	assert.Equal(t, int64(1), e.Stats().CacheHits)
}

func TestProcessCommandLookupStatusError(t *testing.T) {
	lookup := &fakeLookup{specStatusErr: true}
	e := newTestEngine(lookup, nil, DefaultConfig())
	conv := session.NewContext()

	result := e.Process(context.Background(), "-t 50025313", conv)

	assert.Equal(t, StateFailed, result.State)
	require.NotNil(t, result.Failure)
	assert.Equal(t, FailureLookup, result.Failure.Kind)
	assert.Equal(t, conv, result.Context)
	assert.Empty(t, result.Context.History)
}

func TestProcessQueryLowConfidence(t *testing.T) {
	lookup := &fakeLookup{}
	e := newTestEngine(lookup, nil, DefaultConfig())

	result := e.Process(context.Background(), "öh", session.NewContext())

	assert.Equal(t, StateLowConfidence, result.State)
	assert.Equal(t, session.IntentClarification, result.Intent)
	assert.Len(t, result.Alternatives, 2)
	assert.Equal(t, 0, lookup.lookups(), "ambiguous turns dispatch nothing")

	require.NotEmpty(t, result.Clarification)
	assert.Equal(t, "intent_selection", result.Clarification[0].Kind)

	// History remembers the attempt, focus and intent stay uncommitted.
	assert.Len(t, result.Context.History, 1)
	assert.Empty(t, result.Context.ActiveProduct)
	assert.Empty(t, result.Context.PreviousIntent)
}

func TestProcessQueryComparison(t *testing.T) {
	lookup := &fakeLookup{}
	e := newTestEngine(lookup, nil, DefaultConfig())

	result := e.Process(context.Background(), "jämför PSV 2415-7 och PSV 2435-12", session.NewContext())

	assert.Equal(t, StateCompleted, result.State)
	assert.Equal(t, session.IntentComparison, result.Intent)
	assert.Equal(t, []string{"50025313", "50025399"}, result.ComparisonIDs)
	require.Len(t, result.Comparison, 2)
	assert.Equal(t, []string{"50025313", "50025399"}, lookup.specCalls)
	assert.Empty(t, result.ProductID, "comparison has no single focus")

	assert.ElementsMatch(t, []string{"50025313", "50025399"}, result.Context.MentionedProducts)
	assert.Empty(t, result.Context.ActiveProduct)
}

func TestProcessQueryComparisonInsufficientProducts(t *testing.T) {
	lookup := &fakeLookup{}
	cfg := DefaultConfig()
	cfg.ConfidenceFloor = 0.3
	cfg.ClarificationThreshold = 0.2
	e := newTestEngine(lookup, nil, cfg)
	conv := session.NewContext()

	result := e.Process(context.Background(), "jämför PSV 2415-7", conv)

	assert.Equal(t, StateFailed, result.State)
	require.NotNil(t, result.Failure)
	assert.Equal(t, FailureInsufficientEntities, result.Failure.Kind)
	assert.Equal(t, "En jämförelse kräver minst två produkter", result.Failure.Message)
	assert.Empty(t, lookup.specCalls)
	assert.Equal(t, conv, result.Context)
}

func TestProcessQueryComparisonViaGroupReference(t *testing.T) {
	lookup := &fakeLookup{}
	cfg := DefaultConfig()
	cfg.ConfidenceFloor = 0.3
	cfg.ClarificationThreshold = 0.2
	e := newTestEngine(lookup, nil, cfg)

	conv := session.NewContext().
		Update(session.TurnInfo{
			Utterance: "berätta om psv 2415-7",
			ProductID: "50025313",
			Intent:    session.IntentSummary,
		}).
		Mention("50025399")

	result := e.Process(context.Background(), "jämför dessa", conv)

	assert.Equal(t, StateCompleted, result.State)
	assert.ElementsMatch(t, []string{"50025313", "50025399"}, result.ComparisonIDs)
	require.Len(t, result.Comparison, 2)
}

func TestProcessQueryFollowUpUsesActiveProduct(t *testing.T) {
	lookup := &fakeLookup{}
	cfg := DefaultConfig()
	cfg.ConfidenceFloor = 0.2
	cfg.ClarificationThreshold = 0.1
	e := newTestEngine(lookup, nil, cfg)

	conv := session.NewContext().Update(session.TurnInfo{
		Utterance: "berätta om psv 2415-7",
		ProductID: "50025313",
		Intent:    session.IntentSummary,
	})

	result := e.Process(context.Background(), "vad är vikten?", conv)

	assert.Equal(t, StateCompleted, result.State)
	assert.Equal(t, session.IntentTechnical, result.Intent)
	assert.Equal(t, "50025313", result.ProductID)
	assert.Equal(t, []string{"50025313"}, lookup.specCalls)

	require.NotNil(t, result.Analysis)
	assert.Equal(t, "follow_up", string(result.Analysis.Context.Type))
	assert.Equal(t, session.IntentTechnical, result.Context.PreviousIntent)
	assert.Len(t, result.Context.History, 2)
}

func TestProcessQuerySearchFallback(t *testing.T) {
	lookup := &fakeLookup{}
	cfg := DefaultConfig()
	cfg.ConfidenceFloor = 0.2
	cfg.ClarificationThreshold = 0.1
	e := newTestEngine(lookup, nil, cfg)

	result := e.Process(context.Background(), "vilka mått har låskistan?", session.NewContext())

	assert.Equal(t, StateCompleted, result.State)
	assert.Equal(t, session.IntentTechnical, result.Intent)
	assert.Equal(t, "search", result.Fallback)
	require.Len(t, lookup.searchCalls, 1)
	require.NotNil(t, result.Lookup)
	assert.NotEmpty(t, result.Lookup.Hits)
}

func TestProcessQueryCacheHit(t *testing.T) {
	lookup := &fakeLookup{}
	tagger := &nlp.MockTagger{}
	cfg := DefaultConfig()
	cfg.ConfidenceFloor = 0.2
	cfg.ClarificationThreshold = 0.1
	e := newTestEngine(lookup, tagger, cfg)

	conv := session.NewContext().Update(session.TurnInfo{
		Utterance: "berätta om psv 2415-7",
		ProductID: "50025313",
		Intent:    session.IntentSummary,
	})

	first := e.Process(context.Background(), "hur mycket väger den?", conv)
	second := e.Process(context.Background(), "hur mycket väger den?", conv)

	assert.Equal(t, StateCompleted, first.State)
	assert.False(t, first.Cached)
	assert.True(t, second.Cached)
	assert.Equal(t, 1, tagger.Calls, "cache hits skip the language pipeline")
	assert.Equal(t, []string{"50025313"}, lookup.specCalls)
	assert.Equal(t, second.Intent, first.Intent)
	assert.Equal(t, "50025313", second.Context.ActiveProduct)
}

func TestProcessQueryPropertyReferenceScopedToSessionState(t *testing.T) {
	lookup := &fakeLookup{}
	cfg := DefaultConfig()
	cfg.ConfidenceFloor = 0.05
	cfg.ClarificationThreshold = 0.01
	e := newTestEngine(lookup, nil, cfg)

	withProperty := session.NewContext().Update(session.TurnInfo{
		Utterance: "vad är vikten på psv 2415-7?",
		ProductID: "50025313",
		Property:  "vikt",
		Intent:    session.IntentTechnical,
	})
	withoutProperty := session.NewContext().Update(session.TurnInfo{
		Utterance: "psv 2415-7",
		ProductID: "50025313",
		Intent:    session.IntentTechnical,
	})

	first := e.Process(context.Background(), "vad är det värdet?", withProperty)
	second := e.Process(context.Background(), "vad är det värdet?", withoutProperty)

	assert.Equal(t, StateCompleted, first.State)
	require.NotNil(t, first.Analysis)
	assert.Equal(t, "vikt", first.Analysis.Context.Resolved[analysis.RefProperty].Property)

	// Same utterance, focus and previous intent, but no property in this
	// conversation: the first turn's resolution must not leak over.
	assert.False(t, second.Cached)
	require.NotNil(t, second.Analysis)
	assert.NotContains(t, second.Analysis.Context.Resolved, analysis.RefProperty)
	assert.Len(t, lookup.summaryCalls, 2)
}

func TestProcessRecoversFromPanic(t *testing.T) {
	lookup := &fakeLookup{panicOnSpec: true}
	e := newTestEngine(lookup, nil, DefaultConfig())
	conv := session.NewContext()

	result := e.Process(context.Background(), "-t 50025313", conv)

	require.NotNil(t, result)
	assert.Equal(t, StateFailed, result.State)
	require.NotNil(t, result.Failure)
	assert.Equal(t, FailureInternal, result.Failure.Kind)
	assert.Equal(t, "Ett internt fel inträffade", result.Failure.Message)
	assert.Equal(t, conv, result.Context)
}

func TestStatsCounters(t *testing.T) {
	lookup := &fakeLookup{}
	e := newTestEngine(lookup, nil, DefaultConfig())
	conv := session.NewContext()

	e.Process(context.Background(), "-t 50025313", conv)  // completed command
	e.Process(context.Background(), "öh", conv)           // low confidence
	e.Process(context.Background(), "-t 99999999", conv)  // failed command

	snap := e.Stats()
	assert.Equal(t, int64(3), snap.TotalTurns)
	assert.Equal(t, int64(2), snap.CommandTurns)
	assert.Equal(t, int64(1), snap.NaturalTurns)
	assert.Equal(t, int64(1), snap.Completed)
	assert.Equal(t, int64(1), snap.LowConfidence)
	assert.Equal(t, int64(1), snap.Failed)
	assert.InDelta(t, 1.0/3.0, snap.SuccessRate, 0.001)
}
