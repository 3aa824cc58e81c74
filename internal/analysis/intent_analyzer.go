package analysis

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/beslagsboden/dialog-engine/internal/nlp"
	"github.com/beslagsboden/dialog-engine/internal/observability"
	"github.com/beslagsboden/dialog-engine/internal/session"
)

// FusionWeights holds the relative weight of each intent signal. Scores are
// normalized over the signals actually available in a turn, so a missing
// embedding capability lowers no one's confidence by itself.
type FusionWeights struct {
	Keyword  float64
	Semantic float64
	Entity   float64
	Context  float64
}

// DefaultWeights mirrors the production tuning.
func DefaultWeights() FusionWeights {
	return FusionWeights{Keyword: 0.35, Semantic: 0.30, Entity: 0.25, Context: 0.10}
}

// IntentCandidate is one ranked intent with its fused confidence and the
// per-signal contributions that produced it.
type IntentCandidate struct {
	Intent     session.Intent     `json:"intent"`
	Confidence float64            `json:"confidence"`
	Signals    map[string]float64 `json:"signals,omitempty"`
}

// IntentAnalysis is the ranked outcome of intent fusion.
type IntentAnalysis struct {
	Candidates []IntentCandidate `json:"candidates"`
	Primary    session.Intent    `json:"primary"`
	Confidence float64           `json:"confidence"`
}

// RunnerUp returns the second-ranked candidate, if any.
func (a IntentAnalysis) RunnerUp() (IntentCandidate, bool) {
	if len(a.Candidates) < 2 {
		return IntentCandidate{}, false
	}
	return a.Candidates[1], true
}

// scorer is one row of the fusion table.
type scorer struct {
	name   string
	weight float64
	score  func(in scorerInput) map[session.Intent]float64
}

type scorerInput struct {
	lowered  string
	tokens   []string
	entities []Entity
	conv     session.Context
	ctxType  ContextType
	semantic map[session.Intent]float64 // nil when the capability is absent
}

// IntentAnalyzer fuses keyword, semantic, entity and context evidence into
// a ranked intent list.
type IntentAnalyzer struct {
	logger   *observability.Logger
	embedder nlp.Embedder
	weights  FusionWeights

	protoOnce  sync.Once
	prototypes map[session.Intent][]float32
}

// NewIntentAnalyzer creates an analyzer. embedder may be nil; the semantic
// signal is then skipped and the remaining weights renormalized.
func NewIntentAnalyzer(logger *observability.Logger, embedder nlp.Embedder, weights FusionWeights) *IntentAnalyzer {
	if weights == (FusionWeights{}) {
		weights = DefaultWeights()
	}
	return &IntentAnalyzer{logger: logger, embedder: embedder, weights: weights}
}

// Analyze ranks the intent labels for one turn. Identical inputs always
// produce identical ranked order: every scorer is deterministic and ties
// break by label declaration order.
func (a *IntentAnalyzer) Analyze(ctx context.Context, text string, entities []Entity, conv session.Context, ctxType ContextType) IntentAnalysis {
	in := scorerInput{
		lowered:  strings.ToLower(text),
		tokens:   Tokenize(text),
		entities: entities,
		conv:     conv,
		ctxType:  ctxType,
		semantic: a.semanticScores(ctx, text),
	}

	table := []scorer{
		{"keyword", a.weights.Keyword, keywordScores},
		{"semantic", a.weights.Semantic, semanticFromInput},
		{"entity", a.weights.Entity, entityScores},
		{"context", a.weights.Context, contextScores},
	}

	// Weight mass of the signals that are present this turn.
	totalWeight := 0.0
	for _, s := range table {
		if s.name == "semantic" && in.semantic == nil {
			continue
		}
		totalWeight += s.weight
	}

	candidates := make([]IntentCandidate, 0, len(session.Labels()))
	for _, label := range session.Labels() {
		signals := make(map[string]float64, len(table))
		fused := 0.0
		for _, s := range table {
			if s.name == "semantic" && in.semantic == nil {
				continue
			}
			v := s.score(in)[label]
			signals[s.name] = v
			fused += s.weight * v
		}
		if totalWeight > 0 {
			fused /= totalWeight
		}
		candidates = append(candidates, IntentCandidate{
			Intent:     label,
			Confidence: fused,
			Signals:    signals,
		})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Confidence != candidates[j].Confidence {
			return candidates[i].Confidence > candidates[j].Confidence
		}
		return session.Priority(candidates[i].Intent) < session.Priority(candidates[j].Intent)
	})

	primary := candidates[0]
	margin := primary.Confidence - candidates[1].Confidence

	// A crowded top is less trustworthy; a clear winner slightly more. The
	// adjustment applies to the analysis confidence only: the candidates
	// keep their fused scores so the ranking stays comparable.
	confidence := primary.Confidence
	switch {
	case margin < 0.1:
		confidence *= 0.8
	case margin > 0.3:
		confidence *= 1.1
		if confidence > 1.0 {
			confidence = 1.0
		}
	}

	a.logger.Debug().
		Str("primary", string(primary.Intent)).
		Float64("confidence", confidence).
		Float64("margin", margin).
		Msg("Intent ranked")

	return IntentAnalysis{
		Candidates: candidates,
		Primary:    primary.Intent,
		Confidence: confidence,
	}
}

// keywordScores scores lexical overlap with the per-intent term lists. One
// hit is a solid signal, additional hits strengthen it.
func keywordScores(in scorerInput) map[session.Intent]float64 {
	scores := make(map[session.Intent]float64, len(intentKeywords))
	for intent, terms := range intentKeywords {
		hits := len(matchKeywords(in.lowered, in.tokens, terms))
		if hits == 0 {
			continue
		}
		score := 0.5 + 0.25*float64(hits-1)
		if score > 1.0 {
			score = 1.0
		}
		scores[intent] = score
	}
	return scores
}

func semanticFromInput(in scorerInput) map[session.Intent]float64 {
	return in.semantic
}

// semanticScores compares the utterance embedding against each intent's
// prototype. Returns nil when the capability is absent or failing, which
// drops the signal from fusion rather than zeroing everyone.
func (a *IntentAnalyzer) semanticScores(ctx context.Context, text string) map[session.Intent]float64 {
	if a.embedder == nil {
		return nil
	}

	a.protoOnce.Do(func() { a.buildPrototypes(ctx) })
	if a.prototypes == nil {
		return nil
	}

	vec, err := a.embedder.EmbedSingle(ctx, text)
	if err != nil {
		a.logger.Debug().Err(err).Msg("Utterance embedding failed, dropping semantic signal")
		return nil
	}

	scores := make(map[session.Intent]float64, len(a.prototypes))
	for intent, proto := range a.prototypes {
		// Map cosine from [-1,1] to [0,1]
		scores[intent] = (nlp.Cosine(vec, proto) + 1) / 2
	}
	return scores
}

// buildPrototypes embeds the example phrases once and keeps the per-intent
// mean vectors.
func (a *IntentAnalyzer) buildPrototypes(ctx context.Context) {
	protos := make(map[session.Intent][]float32, len(intentPrototypes))

	for _, intent := range session.Labels() {
		phrases := intentPrototypes[intent]
		if len(phrases) == 0 {
			continue
		}
		vecs, err := a.embedder.Embed(ctx, phrases)
		if err != nil {
			a.logger.Warn().Err(err).Msg("Prototype embedding failed, semantic signal disabled")
			return
		}
		protos[intent] = meanVector(vecs)
	}

	a.prototypes = protos
}

func meanVector(vecs [][]float32) []float32 {
	if len(vecs) == 0 || len(vecs[0]) == 0 {
		return nil
	}

	mean := make([]float32, len(vecs[0]))
	for _, v := range vecs {
		for i := range mean {
			if i < len(v) {
				mean[i] += v[i]
			}
		}
	}
	for i := range mean {
		mean[i] /= float32(len(vecs))
	}
	return mean
}

// entityScores boosts intents implied by the entities present.
func entityScores(in scorerInput) map[session.Intent]float64 {
	scores := make(map[session.Intent]float64)

	products := len(ProductIDs(in.entities))
	hasDimension := false
	hasProperty := false
	hasCompat := false
	for _, ent := range in.entities {
		switch ent.Kind {
		case KindDimension:
			hasDimension = true
		case KindProperty:
			hasProperty = true
		case KindCompatibility:
			hasCompat = true
		}
	}

	switch {
	case products >= 2:
		// Two verified identifiers is the strongest comparison evidence.
		scores[session.IntentComparison] = 0.9
		scores[session.IntentSearch] = 0.2
	case products == 1:
		scores[session.IntentSummary] = 0.4
		scores[session.IntentTechnical] = 0.3
	default:
		scores[session.IntentSummary] = 0.2
	}

	if hasDimension {
		scores[session.IntentTechnical] += 0.6
	}
	if hasProperty {
		scores[session.IntentTechnical] += 0.4
	}
	if hasCompat {
		scores[session.IntentCompatibility] += 0.7
	}

	for intent, s := range scores {
		if s > 1.0 {
			scores[intent] = 1.0
		}
	}

	return scores
}

// contextScores boosts intents from the conversation state: the previous
// intent carries on follow-ups, and the dialog stage sets a prior.
func contextScores(in scorerInput) map[session.Intent]float64 {
	scores := make(map[session.Intent]float64)

	if in.ctxType == ContextFollowUp && in.conv.PreviousIntent != "" {
		scores[in.conv.PreviousIntent] += 0.6
	}
	if in.ctxType == ContextComparison {
		scores[session.IntentComparison] += 0.5
	}

	switch in.conv.Stage() {
	case session.StageInitial:
		scores[session.IntentSummary] += 0.1
	case session.StageDetailedInquiry:
		if in.conv.PreviousIntent != "" {
			scores[in.conv.PreviousIntent] += 0.3
		}
	case session.StageProductExploration:
		// After surveying a product, users drill into details.
		scores[session.IntentTechnical] += 0.2
		scores[session.IntentCompatibility] += 0.2
	}

	for intent, s := range scores {
		if s > 1.0 {
			scores[intent] = 1.0
		}
	}

	return scores
}
