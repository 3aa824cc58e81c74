// Package engine orchestrates one conversation turn: command parsing or
// language analysis, confidence gating, dispatch to the catalog, and the
// context update that carries into the next turn.
package engine

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/beslagsboden/dialog-engine/internal/analysis"
	"github.com/beslagsboden/dialog-engine/internal/cache"
	"github.com/beslagsboden/dialog-engine/internal/catalog"
	"github.com/beslagsboden/dialog-engine/internal/nlp"
	"github.com/beslagsboden/dialog-engine/internal/observability"
	"github.com/beslagsboden/dialog-engine/internal/session"
)

// TurnState is the terminal (or logged intermediate) state of a turn.
type TurnState string

const (
	StateReceived          TurnState = "received"
	StateParsed            TurnState = "parsed"
	StateAnalyzed          TurnState = "analyzed"
	StateConfidenceChecked TurnState = "confidence_checked"
	StateDispatched        TurnState = "dispatched"
	StateCompleted         TurnState = "completed"
	StateLowConfidence     TurnState = "low_confidence"
	StateFailed            TurnState = "failed"
)

// commandPattern matches the explicit command syntax: -t/-c/-s/-f followed
// by a product identifier and optional parameters.
var commandPattern = regexp.MustCompile(`^(-[tcfs])\s+(\S+)(.*)$`)

// TurnAnalysis is the language analysis attached to a free-text turn.
type TurnAnalysis struct {
	Processed  string                     `json:"processed"`
	Entities   []analysis.Entity          `json:"entities,omitempty"`
	Context    analysis.ContextAnalysis   `json:"context"`
	Candidates []analysis.IntentCandidate `json:"candidates,omitempty"`
}

// ClarificationOption is one selectable answer to a clarification prompt.
type ClarificationOption struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// Clarification is a question posed back to the user on an ambiguous turn.
type Clarification struct {
	Kind    string                `json:"kind"` // product_selection, intent_selection, general
	Prompt  string                `json:"prompt"`
	Options []ClarificationOption `json:"options,omitempty"`
}

// TurnResult is the outcome of one processed turn. Context carries the
// state for the next turn; on failed turns it equals the input context.
type TurnResult struct {
	TurnID        uuid.UUID                  `json:"turn_id"`
	State         TurnState                  `json:"state"`
	Query         string                     `json:"query"`
	Command       string                     `json:"command,omitempty"`
	Intent        session.Intent             `json:"intent,omitempty"`
	Confidence    float64                    `json:"confidence,omitempty"`
	ProductID     string                     `json:"product_id,omitempty"`
	Fallback      string                     `json:"fallback,omitempty"`
	Analysis      *TurnAnalysis              `json:"analysis,omitempty"`
	Lookup        *catalog.Result            `json:"lookup,omitempty"`
	Comparison    []*catalog.Result          `json:"comparison,omitempty"`
	ComparisonIDs []string                   `json:"comparison_ids,omitempty"`
	Alternatives  []analysis.IntentCandidate `json:"alternatives,omitempty"`
	Clarification []Clarification            `json:"clarification,omitempty"`
	Failure       *TurnFailure               `json:"failure,omitempty"`
	Cached        bool                       `json:"cached,omitempty"`
	LatencyMs     int64                      `json:"latency_ms"`
	Context       session.Context            `json:"-"`
}

// Config holds engine tuning.
type Config struct {
	ConfidenceFloor        float64
	ClarificationThreshold float64
	MaxSearchResults       int
	Weights                analysis.FusionWeights
	CacheResults           bool
	CacheTTL               time.Duration
}

// DefaultConfig mirrors the production deployment.
func DefaultConfig() Config {
	return Config{
		ConfidenceFloor:        0.6,
		ClarificationThreshold: 0.4,
		MaxSearchResults:       5,
		Weights:                analysis.DefaultWeights(),
		CacheResults:           true,
		CacheTTL:               time.Hour,
	}
}

// Engine processes turns against a catalog.
type Engine struct {
	logger    *observability.Logger
	lookup    catalog.Lookup
	index     catalog.Index
	extractor *analysis.Extractor
	contexts  *analysis.ContextManager
	intents   *analysis.IntentAnalyzer
	cache     *ResponseCache
	stats     *Stats
	cfg       Config
}

// New wires an engine. tagger, embedder and cacheClient may be nil; the
// engine degrades to the strategies that remain.
func New(logger *observability.Logger, lookup catalog.Lookup, index catalog.Index, tagger nlp.Tagger, embedder nlp.Embedder, cacheClient cache.Client, cfg Config) *Engine {
	if cfg.ConfidenceFloor == 0 {
		cfg.ConfidenceFloor = 0.6
	}
	if cfg.MaxSearchResults == 0 {
		cfg.MaxSearchResults = 5
	}
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = time.Hour
	}

	return &Engine{
		logger:    logger,
		lookup:    lookup,
		index:     index,
		extractor: analysis.NewExtractor(logger, tagger, index),
		contexts:  analysis.NewContextManager(logger),
		intents:   analysis.NewIntentAnalyzer(logger, embedder, cfg.Weights),
		cache: NewResponseCache(cacheClient, logger, ResponseCacheConfig{
			TTL:     cfg.CacheTTL,
			Enabled: cfg.CacheResults && cacheClient != nil,
		}),
		stats: NewStats(),
		cfg:   cfg,
	}
}

// Stats returns a snapshot of the usage counters.
func (e *Engine) Stats() Snapshot {
	return e.stats.Snapshot()
}

// Process handles one turn. It never panics and never returns nil: every
// component fault is converted into a failed result at this boundary.
func (e *Engine) Process(ctx context.Context, input string, conv session.Context) (result *TurnResult) {
	start := time.Now()
	input = strings.TrimSpace(input)
	logger := e.logger.WithSession(conv.SessionID.String())

	defer func() {
		if r := recover(); r != nil {
			logger.Error().Str("query", input).Interface("panic", r).Msg("Turn panicked")
			result = e.failed(input, conv, &TurnError{
				Kind:    FailureInternal,
				Message: "Ett internt fel inträffade",
				Err:     fmt.Errorf("panic: %v", r),
			})
		}
		result.LatencyMs = time.Since(start).Milliseconds()
		e.stats.recordOutcome(result.State, result.Cached)
		logger.Info().
			Str("state", string(result.State)).
			Str("intent", string(result.Intent)).
			Bool("cached", result.Cached).
			Int64("latency_ms", result.LatencyMs).
			Msg("Turn processed")
	}()

	logger.Debug().Str("query", input).Str("state", string(StateReceived)).Msg("Turn received")

	if m := commandPattern.FindStringSubmatch(input); m != nil {
		e.stats.recordCommand()
		return e.processCommand(ctx, logger, input, m[1], m[2], strings.Fields(m[3]), conv)
	}

	e.stats.recordNatural()
	return e.processQuery(ctx, logger, input, conv)
}

// processCommand runs the explicit command path: no extraction, no intent
// analysis, straight to dispatch.
func (e *Engine) processCommand(ctx context.Context, logger *observability.Logger, input, cmd, productID string, params []string, conv session.Context) *TurnResult {
	if !e.index.ValidateID(productID) {
		return e.failed(input, conv, &TurnError{
			Kind:    FailureLookup,
			Message: fmt.Sprintf("Ogiltig produkt: %s", productID),
		})
	}

	key := e.cache.CommandKey(cmd, productID, params)
	if cached, ok := e.cache.Get(ctx, key); ok {
		res := *cached
		res.Cached = true
		res.Context = e.commitContext(conv, &res)
		return &res
	}

	res := &TurnResult{
		TurnID:    uuid.New(),
		State:     StateDispatched,
		Query:     input,
		Command:   cmd,
		ProductID: productID,
		Intent:    commandIntent(cmd),
	}

	var (
		lookup *catalog.Result
		err    error
	)
	switch cmd {
	case "-t":
		lookup, err = e.lookup.GetTechnicalSpecs(ctx, productID)
	case "-c":
		lookup, err = e.lookup.GetCompatibility(ctx, productID)
	case "-s":
		lookup, err = e.lookup.GetSummary(ctx, productID)
	case "-f":
		lookup, err = e.fullInfo(ctx, productID)
	}
	if err != nil {
		logger.Error().Err(err).Str("command", cmd).Str("product_id", productID).Msg("Command lookup failed")
		return e.failed(input, conv, &TurnError{
			Kind:    FailureLookup,
			Message: "Kunde inte hämta produktdata",
			Err:     err,
		})
	}
	if lookup.Status != catalog.StatusSuccess {
		return e.failed(input, conv, &TurnError{
			Kind:    FailureLookup,
			Message: lookup.Message,
		})
	}

	res.State = StateCompleted
	res.Lookup = lookup
	res.Context = e.commitContext(conv, res)

	_ = e.cache.Set(ctx, key, stripContext(res))
	return res
}

// fullInfo combines summary, technical specs and compatibility.
func (e *Engine) fullInfo(ctx context.Context, productID string) (*catalog.Result, error) {
	summary, err := e.lookup.GetSummary(ctx, productID)
	if err != nil {
		return nil, err
	}
	if summary.Status != catalog.StatusSuccess {
		return summary, nil
	}

	full := *summary

	specs, err := e.lookup.GetTechnicalSpecs(ctx, productID)
	if err != nil {
		return nil, err
	}
	if specs.Status == catalog.StatusSuccess {
		full.Specs = specs.Specs
	}

	compat, err := e.lookup.GetCompatibility(ctx, productID)
	if err != nil {
		return nil, err
	}
	if compat.Status == catalog.StatusSuccess {
		full.Compat = compat.Compat
	}

	return &full, nil
}

func commandIntent(cmd string) session.Intent {
	switch cmd {
	case "-t":
		return session.IntentTechnical
	case "-c":
		return session.IntentCompatibility
	default:
		return session.IntentSummary
	}
}

// processQuery runs the free-text path: extraction, context analysis,
// intent fusion, confidence gate, dispatch.
func (e *Engine) processQuery(ctx context.Context, logger *observability.Logger, input string, conv session.Context) *TurnResult {
	processed := analysis.Preprocess(input)

	key := e.cache.QueryKey(processed, conv.ActiveProduct, conv.LastProperty, conv.PreviousIntent)
	if cached, ok := e.cache.Get(ctx, key); ok {
		res := *cached
		res.Cached = true
		res.Context = e.commitContext(conv, &res)
		return &res
	}

	entities := e.extractor.Extract(ctx, processed, conv)
	logger.Debug().Int("entities", len(entities)).Str("state", string(StateParsed)).Msg("Entities extracted")

	ctxAnalysis := e.contexts.Analyze(processed, conv, entities)
	intentAnalysis := e.intents.Analyze(ctx, processed, entities, conv, ctxAnalysis.Type)
	logger.Debug().
		Str("context_type", string(ctxAnalysis.Type)).
		Str("primary", string(intentAnalysis.Primary)).
		Float64("confidence", intentAnalysis.Confidence).
		Str("state", string(StateAnalyzed)).
		Msg("Turn analyzed")

	res := &TurnResult{
		TurnID:     uuid.New(),
		State:      StateConfidenceChecked,
		Query:      input,
		Intent:     intentAnalysis.Primary,
		Confidence: intentAnalysis.Confidence,
		Analysis: &TurnAnalysis{
			Processed:  processed,
			Entities:   entities,
			Context:    ctxAnalysis,
			Candidates: intentAnalysis.Candidates,
		},
	}

	if intentAnalysis.Confidence < e.cfg.ConfidenceFloor {
		res.State = StateLowConfidence
		res.Intent = session.IntentClarification
		res.Alternatives = topCandidates(intentAnalysis.Candidates, 2)
		res.Clarification = e.clarifications(entities, intentAnalysis)
		// Remember the utterance, commit nothing else
		res.Context = conv.Update(session.TurnInfo{Utterance: processed})
		return res
	}

	res.State = StateDispatched
	if err := e.dispatch(ctx, logger, res, ctxAnalysis, conv); err != nil {
		return e.failed(input, conv, err)
	}

	res.State = StateCompleted
	res.Context = e.commitContext(conv, res)

	// Turns resolved through a plural-group reference depend on the
	// mentioned-products set, which the cache key does not cover.
	if _, usedGroup := ctxAnalysis.Resolved[analysis.RefGroup]; !usedGroup {
		_ = e.cache.Set(ctx, key, stripContext(res))
	}
	return res
}

// dispatch maps the primary intent to exactly one lookup.
func (e *Engine) dispatch(ctx context.Context, logger *observability.Logger, res *TurnResult, ctxAnalysis analysis.ContextAnalysis, conv session.Context) *TurnError {
	productID := e.resolveProduct(res.Analysis.Entities, ctxAnalysis, conv)
	res.ProductID = productID

	var (
		lookup *catalog.Result
		err    error
	)

	switch res.Intent {
	case session.IntentComparison:
		return e.dispatchComparison(ctx, res, ctxAnalysis)

	case session.IntentSearch:
		lookup, err = e.lookup.SearchProducts(ctx, res.Analysis.Processed, e.cfg.MaxSearchResults)

	case session.IntentTechnical, session.IntentCompatibility, session.IntentSummary:
		if productID == "" {
			// No product in play anywhere: fall back to search
			logger.Debug().Str("intent", string(res.Intent)).Msg("No product resolved, falling back to search")
			res.Fallback = "search"
			lookup, err = e.lookup.SearchProducts(ctx, res.Analysis.Processed, e.cfg.MaxSearchResults)
			break
		}
		switch res.Intent {
		case session.IntentTechnical:
			lookup, err = e.lookup.GetTechnicalSpecs(ctx, productID)
		case session.IntentCompatibility:
			lookup, err = e.lookup.GetCompatibility(ctx, productID)
		default:
			lookup, err = e.lookup.GetSummary(ctx, productID)
		}

	default:
		return &TurnError{
			Kind:    FailureInternal,
			Message: fmt.Sprintf("Okänd avsikt: %s", res.Intent),
		}
	}

	if err != nil {
		return &TurnError{Kind: FailureLookup, Message: "Kunde inte hämta produktdata", Err: err}
	}
	if lookup.Status != catalog.StatusSuccess {
		return &TurnError{Kind: FailureLookup, Message: lookup.Message}
	}

	res.Lookup = lookup
	return nil
}

// dispatchComparison gathers the identifiers and runs one spec lookup per
// product. Fewer than two resolved identifiers is a hard failure, never a
// partial comparison.
func (e *Engine) dispatchComparison(ctx context.Context, res *TurnResult, ctxAnalysis analysis.ContextAnalysis) *TurnError {
	ids := analysis.ProductIDs(res.Analysis.Entities)
	if group, ok := ctxAnalysis.Resolved[analysis.RefGroup]; ok {
		for _, id := range group.ProductIDs {
			ids = appendUnique(ids, id)
		}
	}

	if len(ids) < 2 {
		return &TurnError{
			Kind:    FailureInsufficientEntities,
			Message: "En jämförelse kräver minst två produkter",
			Err:     ErrInsufficientProducts,
		}
	}

	results := make([]*catalog.Result, 0, len(ids))
	for _, id := range ids {
		lookup, err := e.lookup.GetTechnicalSpecs(ctx, id)
		if err != nil {
			return &TurnError{Kind: FailureLookup, Message: "Kunde inte hämta produktdata", Err: err}
		}
		if lookup.Status != catalog.StatusSuccess {
			return &TurnError{Kind: FailureLookup, Message: lookup.Message}
		}
		results = append(results, lookup)
	}

	res.Comparison = results
	res.ComparisonIDs = ids
	res.ProductID = ""
	return nil
}

// resolveProduct picks the product for single-product intents: entity
// evidence first, then a resolved entity reference, then the active focus.
func (e *Engine) resolveProduct(entities []analysis.Entity, ctxAnalysis analysis.ContextAnalysis, conv session.Context) string {
	if ids := analysis.ProductIDs(entities); len(ids) > 0 {
		return ids[0]
	}
	if ref, ok := ctxAnalysis.Resolved[analysis.RefEntity]; ok && ref.ProductID != "" {
		return ref.ProductID
	}
	return conv.ActiveProduct
}

// clarifications builds the questions for an ambiguous turn.
func (e *Engine) clarifications(entities []analysis.Entity, intentAnalysis analysis.IntentAnalysis) []Clarification {
	var out []Clarification

	if ids := analysis.ProductIDs(entities); len(ids) > 1 {
		options := make([]ClarificationOption, 0, len(ids))
		for _, id := range ids {
			label := id
			if name, ok := e.index.ProductName(id); ok {
				label = name
			}
			options = append(options, ClarificationOption{ID: id, Label: label})
		}
		out = append(out, Clarification{
			Kind:    "product_selection",
			Prompt:  "Vilken produkt menar du?",
			Options: options,
		})
	}

	if intentAnalysis.Confidence < e.cfg.ClarificationThreshold {
		out = append(out, Clarification{
			Kind:   "intent_selection",
			Prompt: "Vad vill du veta?",
			Options: []ClarificationOption{
				{ID: string(session.IntentTechnical), Label: "Tekniska specifikationer"},
				{ID: string(session.IntentCompatibility), Label: "Kompatibilitet"},
				{ID: string(session.IntentSummary), Label: "Produktinformation"},
				{ID: string(session.IntentSearch), Label: "Sök produkter"},
			},
		})
	}

	if len(out) == 0 {
		out = append(out, Clarification{
			Kind:   "general",
			Prompt: "Kan du omformulera din fråga?",
		})
	}

	return out
}

// commitContext derives the next conversation context from a completed
// turn.
func (e *Engine) commitContext(conv session.Context, res *TurnResult) session.Context {
	utterance := res.Query
	if res.Analysis != nil && res.Analysis.Processed != "" {
		utterance = res.Analysis.Processed
	}

	next := conv.Update(session.TurnInfo{
		Utterance: utterance,
		ProductID: res.ProductID,
		Property:  propertyOf(res),
		Intent:    res.Intent,
	})

	if len(res.ComparisonIDs) > 0 {
		next = next.Mention(res.ComparisonIDs...)
	}

	return next
}

// propertyOf returns the property mentioned in the turn, if any.
func propertyOf(res *TurnResult) string {
	if res.Analysis == nil {
		return ""
	}
	for _, ent := range res.Analysis.Entities {
		if ent.Kind == analysis.KindProperty || ent.Kind == analysis.KindDimension {
			return ent.Text
		}
	}
	return ""
}

// failed builds a failed result. The input context is returned untouched.
func (e *Engine) failed(input string, conv session.Context, err *TurnError) *TurnResult {
	e.logger.WithSession(conv.SessionID.String()).Warn().
		Str("kind", string(err.Kind)).
		Str("query", input).
		Err(err.Err).
		Msg("Turn failed")

	return &TurnResult{
		TurnID:  uuid.New(),
		State:   StateFailed,
		Query:   input,
		Failure: failureFrom(err),
		Context: conv,
	}
}

// stripContext copies a result without its context for caching; cached
// results get a fresh context commit on every hit.
func stripContext(res *TurnResult) *TurnResult {
	clone := *res
	clone.Context = session.Context{}
	return &clone
}

func topCandidates(candidates []analysis.IntentCandidate, n int) []analysis.IntentCandidate {
	if len(candidates) < n {
		n = len(candidates)
	}
	return append([]analysis.IntentCandidate(nil), candidates[:n]...)
}

func appendUnique(list []string, value string) []string {
	for _, v := range list {
		if v == value {
			return list
		}
	}
	return append(list, value)
}
