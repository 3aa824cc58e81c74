package analysis

import (
	"context"
	"errors"
	"regexp"
	"sort"
	"strings"
	"unicode"

	"github.com/beslagsboden/dialog-engine/internal/catalog"
	"github.com/beslagsboden/dialog-engine/internal/nlp"
	"github.com/beslagsboden/dialog-engine/internal/observability"
	"github.com/beslagsboden/dialog-engine/internal/session"
)

// EntityKind classifies an extracted entity.
type EntityKind string

const (
	KindProduct       EntityKind = "PRODUCT"
	KindProperty      EntityKind = "PROPERTY"
	KindDimension     EntityKind = "DIMENSION"
	KindArticleNumber EntityKind = "ARTICLE_NUMBER"
	KindEAN           EntityKind = "EAN"
	KindCompatibility EntityKind = "COMPATIBILITY"
)

// Source identifies which strategy produced an entity. On equal-length
// overlaps the higher-precision source wins: index > ner > pattern.
type Source string

const (
	SourceIndex   Source = "index"
	SourceNER     Source = "ner"
	SourcePattern Source = "pattern"
)

func sourcePriority(s Source) int {
	switch s {
	case SourceIndex:
		return 0
	case SourceNER:
		return 1
	default:
		return 2
	}
}

// Entity is one extracted span. Offsets are byte offsets into the
// preprocessed utterance. ProductID is set when the span resolved to a
// catalog identifier.
type Entity struct {
	Kind       EntityKind `json:"kind"`
	Text       string     `json:"text"`
	Start      int        `json:"start"`
	End        int        `json:"end"`
	Confidence float64    `json:"confidence"`
	Source     Source     `json:"source"`
	ProductID  string     `json:"product_id,omitempty"`
}

// Resolved reports whether the entity carries a catalog identifier.
func (e Entity) Resolved() bool {
	return e.ProductID != ""
}

var (
	digitRunPattern  = regexp.MustCompile(`\d+`)
	modelCodePattern = regexp.MustCompile(`\b[A-ZÅÄÖ]{2,4} ?\d{3,4}(?:-\d{1,2})?\b`)
	dimensionPattern = regexp.MustCompile(`(?i)\b\d+(?:[.,]\d+)?\s*(?:mm|cm|m|tum)\b`)
)

// Extractor extracts entities using the external tagger, regex patterns,
// and the catalog name index.
type Extractor struct {
	logger *observability.Logger
	tagger nlp.Tagger
	index  catalog.Index
}

// NewExtractor creates an extractor. tagger may be nil when no tagging
// service is configured.
func NewExtractor(logger *observability.Logger, tagger nlp.Tagger, index catalog.Index) *Extractor {
	return &Extractor{logger: logger, tagger: tagger, index: index}
}

// Extract runs all strategies over the text, merges overlapping spans and
// enriches product mentions with catalog identifiers. The result is ordered
// by start offset and free of overlaps. An unavailable tagger degrades the
// turn to pattern and index extraction only.
func (e *Extractor) Extract(ctx context.Context, text string, conv session.Context) []Entity {
	var candidates []Entity

	candidates = append(candidates, e.taggerEntities(ctx, text)...)
	candidates = append(candidates, patternEntities(text)...)
	candidates = append(candidates, e.indexEntities(text)...)

	merged := mergeOverlaps(candidates)

	for i := range merged {
		e.enrich(&merged[i])
	}

	return merged
}

// taggerEntities queries the external tagger and normalizes its labels.
func (e *Extractor) taggerEntities(ctx context.Context, text string) []Entity {
	if e.tagger == nil {
		return nil
	}

	spans, err := e.tagger.Entities(ctx, text)
	if err != nil {
		if errors.Is(err, nlp.ErrUnavailable) {
			e.logger.Debug().Err(err).Msg("Tagger unavailable, degrading to pattern and index extraction")
		} else {
			e.logger.Warn().Err(err).Msg("Tagger failed, degrading to pattern and index extraction")
		}
		return nil
	}

	var entities []Entity
	for _, span := range spans {
		kind, ok := normalizeLabel(span.Label)
		if !ok {
			continue
		}
		entities = append(entities, Entity{
			Kind:       kind,
			Text:       span.Text,
			Start:      span.Start,
			End:        span.End,
			Confidence: 0.7,
			Source:     SourceNER,
		})
	}
	return entities
}

// normalizeLabel maps tagger labels onto the engine's entity kinds.
func normalizeLabel(label string) (EntityKind, bool) {
	switch strings.ToUpper(label) {
	case "PRODUCT", "WORK_OF_ART", "ORG":
		return KindProduct, true
	case "PROPERTY", "ATTRIBUTE":
		return KindProperty, true
	case "QUANTITY", "DIMENSION", "MEASURE":
		return KindDimension, true
	case "COMPATIBILITY":
		return KindCompatibility, true
	default:
		return "", false
	}
}

// patternEntities extracts article numbers, EAN codes, model codes and
// dimension expressions.
func patternEntities(text string) []Entity {
	var entities []Entity

	for _, loc := range digitRunPattern.FindAllStringIndex(text, -1) {
		run := text[loc[0]:loc[1]]
		switch {
		case len(run) == 8:
			entities = append(entities, Entity{
				Kind:       KindArticleNumber,
				Text:       run,
				Start:      loc[0],
				End:        loc[1],
				Confidence: 0.9,
				Source:     SourcePattern,
			})
		case len(run) >= 12 && len(run) <= 14 && ValidEAN(run):
			entities = append(entities, Entity{
				Kind:       KindEAN,
				Text:       run,
				Start:      loc[0],
				End:        loc[1],
				Confidence: 0.95,
				Source:     SourcePattern,
			})
		}
	}

	for _, loc := range modelCodePattern.FindAllStringIndex(text, -1) {
		entities = append(entities, Entity{
			Kind:       KindProduct,
			Text:       text[loc[0]:loc[1]],
			Start:      loc[0],
			End:        loc[1],
			Confidence: 0.75,
			Source:     SourcePattern,
		})
	}

	for _, loc := range dimensionPattern.FindAllStringIndex(text, -1) {
		entities = append(entities, Entity{
			Kind:       KindDimension,
			Text:       text[loc[0]:loc[1]],
			Start:      loc[0],
			End:        loc[1],
			Confidence: 0.85,
			Source:     SourcePattern,
		})
	}

	return entities
}

// indexEntities matches catalog names and aliases as whole-word substrings.
// This is the highest-precision strategy: a hit carries its identifier.
func (e *Extractor) indexEntities(text string) []Entity {
	lowered := strings.ToLower(text)

	var entities []Entity
	for name, productID := range e.index.NameToID() {
		if len(name) < 3 {
			continue
		}
		for from := 0; ; {
			i := strings.Index(lowered[from:], name)
			if i < 0 {
				break
			}
			start := from + i
			end := start + len(name)
			if wordBounded(lowered, start, end) {
				entities = append(entities, Entity{
					Kind:       KindProduct,
					Text:       text[start:end],
					Start:      start,
					End:        end,
					Confidence: 0.95,
					Source:     SourceIndex,
					ProductID:  productID,
				})
			}
			from = end
		}
	}
	return entities
}

// wordBounded reports whether text[start:end] is not embedded in a longer
// word or number.
func wordBounded(text string, start, end int) bool {
	if start > 0 {
		r := []rune(text[:start])
		if last := r[len(r)-1]; unicode.IsLetter(last) || unicode.IsDigit(last) {
			return false
		}
	}
	if end < len(text) {
		r := []rune(text[end:])
		if first := r[0]; unicode.IsLetter(first) || unicode.IsDigit(first) {
			return false
		}
	}
	return true
}

// mergeOverlaps resolves overlapping candidates: the longer span wins, and
// equal-length overlaps prefer the higher-precision source. The survivors
// come back ordered by start offset.
func mergeOverlaps(candidates []Entity) []Entity {
	ranked := append([]Entity(nil), candidates...)
	sort.SliceStable(ranked, func(i, j int) bool {
		li, lj := ranked[i].End-ranked[i].Start, ranked[j].End-ranked[j].Start
		if li != lj {
			return li > lj
		}
		pi, pj := sourcePriority(ranked[i].Source), sourcePriority(ranked[j].Source)
		if pi != pj {
			return pi < pj
		}
		return ranked[i].Start < ranked[j].Start
	})

	var kept []Entity
	for _, cand := range ranked {
		overlaps := false
		for _, k := range kept {
			if cand.Start < k.End && k.Start < cand.End {
				overlaps = true
				break
			}
		}
		if !overlaps {
			kept = append(kept, cand)
		}
	}

	sort.Slice(kept, func(i, j int) bool { return kept[i].Start < kept[j].Start })
	return kept
}

// enrich attaches catalog identifiers to entities that lack one.
func (e *Extractor) enrich(ent *Entity) {
	if ent.ProductID != "" {
		return
	}

	switch ent.Kind {
	case KindArticleNumber:
		if id, ok := e.index.ByArticleNumber(ent.Text); ok {
			ent.ProductID = id
		}
	case KindEAN:
		if id, ok := e.index.ByEAN(ent.Text); ok {
			ent.ProductID = id
		}
	case KindProduct:
		lowered := strings.ToLower(ent.Text)
		names := e.index.NameToID()
		if id, ok := names[lowered]; ok {
			ent.ProductID = id
			return
		}
		// Fuzzy fallback over the name index
		bestScore := 0.0
		bestID := ""
		for name, id := range names {
			score := jaccard(Tokenize(lowered), Tokenize(name))
			if score > bestScore {
				bestScore = score
				bestID = id
			}
		}
		if bestScore >= 0.8 {
			ent.ProductID = bestID
		}
	}
}

// jaccard computes token-set Jaccard similarity.
func jaccard(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	setA := make(map[string]struct{}, len(a))
	for _, t := range a {
		setA[t] = struct{}{}
	}
	setB := make(map[string]struct{}, len(b))
	for _, t := range b {
		setB[t] = struct{}{}
	}

	inter := 0
	for t := range setA {
		if _, ok := setB[t]; ok {
			inter++
		}
	}

	union := len(setA) + len(setB) - inter
	return float64(inter) / float64(union)
}

// ValidEAN validates a GS1 check digit for 8 to 14 digit codes.
func ValidEAN(code string) bool {
	if len(code) < 8 || len(code) > 14 {
		return false
	}

	sum := 0
	// Weights alternate 3,1 from the right, starting left of the check digit.
	weight := 3
	for i := len(code) - 2; i >= 0; i-- {
		d := int(code[i] - '0')
		if d < 0 || d > 9 {
			return false
		}
		sum += d * weight
		if weight == 3 {
			weight = 1
		} else {
			weight = 3
		}
	}

	check := (10 - sum%10) % 10
	return int(code[len(code)-1]-'0') == check
}

// ProductIDs returns the distinct catalog identifiers carried by the
// entities, in order of appearance.
func ProductIDs(entities []Entity) []string {
	var ids []string
	seen := make(map[string]struct{})
	for _, ent := range entities {
		if ent.ProductID == "" {
			continue
		}
		if _, ok := seen[ent.ProductID]; ok {
			continue
		}
		seen[ent.ProductID] = struct{}{}
		ids = append(ids, ent.ProductID)
	}
	return ids
}
