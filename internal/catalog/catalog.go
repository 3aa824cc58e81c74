// Package catalog provides the product knowledge base: lookup operations the
// engine dispatches to, and the name/identifier index the extractor matches
// against.
package catalog

import "context"

// Status reports whether a lookup produced usable data.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// SpecRow is one technical specification entry.
type SpecRow struct {
	Name  string `json:"name"`
	Value string `json:"value"`
	Unit  string `json:"unit,omitempty"`
}

// CompatRow is one compatibility relation.
type CompatRow struct {
	TargetID   string `json:"target_id,omitempty"`
	TargetName string `json:"target_name"`
	Note       string `json:"note,omitempty"`
}

// Hit is one search result.
type Hit struct {
	ProductID string  `json:"product_id"`
	Name      string  `json:"name"`
	Score     float64 `json:"score"`
}

// Result is the payload of a single lookup. Only the fields relevant to the
// operation are populated; the engine inspects Status and passes the rest
// through untouched.
type Result struct {
	Status    Status      `json:"status"`
	Message   string      `json:"message,omitempty"`
	ProductID string      `json:"product_id,omitempty"`
	Name      string      `json:"name,omitempty"`
	Summary   string      `json:"summary,omitempty"`
	Specs     []SpecRow   `json:"specs,omitempty"`
	Compat    []CompatRow `json:"compatibility,omitempty"`
	Hits      []Hit       `json:"hits,omitempty"`
}

// Lookup is the retrieval contract the engine dispatches against.
type Lookup interface {
	GetTechnicalSpecs(ctx context.Context, productID string) (*Result, error)
	GetCompatibility(ctx context.Context, productID string) (*Result, error)
	GetSummary(ctx context.Context, productID string) (*Result, error)
	SearchProducts(ctx context.Context, query string, limit int) (*Result, error)
}

// Index exposes the identifier and name lookups entity extraction needs.
type Index interface {
	// ValidateID reports whether the product identifier exists.
	ValidateID(productID string) bool
	// ProductName returns the display name for a product identifier.
	ProductName(productID string) (string, bool)
	// NameToID returns lowercased display names and aliases mapped to
	// product identifiers.
	NameToID() map[string]string
	// ByArticleNumber resolves an 8-digit article number.
	ByArticleNumber(articleNumber string) (string, bool)
	// ByEAN resolves an EAN code.
	ByEAN(ean string) (string, bool)
}

// ErrorResult builds an error result with the given message.
func ErrorResult(message string) *Result {
	return &Result{Status: StatusError, Message: message}
}
