// Package analysis implements the language understanding core: entity
// extraction, conversational context analysis, and multi-signal intent
// fusion. All locale-specific data (term lists, reference words, intent
// prototypes) lives in this file so a different catalog language is a data
// change only.
package analysis

import (
	"strings"
	"unicode"

	"github.com/beslagsboden/dialog-engine/internal/session"
)

// intentKeywords maps each intent to its lexical cue list. Scores are
// based on hit counts, not list coverage, so list length is not a bias.
var intentKeywords = map[session.Intent][]string{
	session.IntentTechnical: {
		"teknisk", "specifikation", "mått", "dimension", "vikt", "väger",
		"material", "effekt", "spänning", "hur stor", "hur tung", "hur lång",
		"höjd", "bredd", "djup", "diameter", "tjocklek",
	},
	session.IntentCompatibility: {
		"passar", "kompatibel", "fungerar med", "fungerar ihop",
		"kan användas med", "passar till", "passar ihop", "tillsammans med",
		"monteras med",
	},
	session.IntentSummary: {
		"berätta om", "vad är detta", "vad är det här", "vad är det för",
		"information om", "beskriv", "sammanfatta", "översikt", "produktfakta",
	},
	session.IntentSearch: {
		"hitta", "sök", "leta", "finns det", "har ni", "letar efter",
		"behöver en", "alternativ till", "liknande", "visa alla",
	},
	session.IntentComparison: {
		"jämför", "jämfört", "kontra", "versus", " vs ", "skillnad",
	},
}

// comparisonTerms trigger the comparison context type. Checked before the
// reference and continuation terms so "jämför X och Y" is never mistaken
// for a follow-up.
var comparisonTerms = []string{
	"jämför", "jämfört med", "kontra", "versus", " vs ",
	"skillnad", "skillnaden mellan", "vilken är bäst",
}

// continuationTerms mark a follow-up on the previous topic.
var continuationTerms = []string{
	"mer", "fler", "fortsätt", "berätta mer", "också", "dessutom",
}

// Reference terms by category. Single words are matched per token,
// multiword phrases by substring.
var (
	entityRefTerms   = []string{"den", "denna", "den här", "produkten", "artikeln", "varan"}
	propertyRefTerms = []string{"det", "detta", "den egenskapen", "den funktionen", "det värdet"}
	groupRefTerms    = []string{"dessa", "de här", "dom", "produkterna", "de där", "båda", "bägge"}
)

// intentPrototypes are example phrasings per intent. Their mean embedding is
// the semantic anchor the utterance is compared against.
var intentPrototypes = map[session.Intent][]string{
	session.IntentTechnical: {
		"vilka mått har produkten",
		"hur mycket väger den",
		"vad är höjden på låset",
		"vilket material är handtaget gjort av",
	},
	session.IntentCompatibility: {
		"passar handtaget till dörren",
		"är låset kompatibelt med karmen",
		"kan trycket användas med denna låskista",
	},
	session.IntentSummary: {
		"berätta om produkten",
		"vad är det här för artikel",
		"ge mig en översikt av produkten",
	},
	session.IntentSearch: {
		"hitta ett lås till ytterdörren",
		"finns det liknande handtag",
		"jag letar efter en monteringsstolpe",
	},
	session.IntentComparison: {
		"jämför de två produkterna",
		"vad är skillnaden mellan låsen",
		"vilken av produkterna är bäst",
	},
}

// Preprocess normalizes an utterance before analysis: whitespace collapse
// and typographic quote/dash normalization.
func Preprocess(text string) string {
	replacer := strings.NewReplacer(
		"“", `"`, "”", `"`, "‘", "'", "’", "'",
		"–", "-", "—", "-", " ", " ",
	)
	text = replacer.Replace(text)
	return strings.Join(strings.Fields(text), " ")
}

// Tokenize lowercases and splits on anything that is not a letter or digit.
func Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// containsTerm reports whether the term occurs in the query. Single words
// must match a whole token; phrases match as substrings.
func containsTerm(lowered string, tokens []string, term string) bool {
	if strings.ContainsRune(term, ' ') {
		return strings.Contains(lowered, term)
	}
	for _, tok := range tokens {
		if tok == term {
			return true
		}
	}
	return false
}

// matchTerms returns the terms from the list present in the query.
func matchTerms(lowered string, tokens []string, terms []string) []string {
	var found []string
	for _, term := range terms {
		if containsTerm(lowered, tokens, term) {
			found = append(found, term)
		}
	}
	return found
}

// matchKeywords is matchTerms with stemming-light semantics: single-word
// terms of four or more characters also match as token prefixes, so "vikt"
// covers "vikten" and "höjd" covers "höjden". Reference terms stay exact;
// this is for the intent cue lists only.
func matchKeywords(lowered string, tokens []string, terms []string) []string {
	var found []string
	for _, term := range terms {
		if containsTerm(lowered, tokens, term) {
			found = append(found, term)
			continue
		}
		if strings.ContainsRune(term, ' ') || len([]rune(term)) < 4 {
			continue
		}
		for _, tok := range tokens {
			if strings.HasPrefix(tok, term) {
				found = append(found, term)
				break
			}
		}
	}
	return found
}
