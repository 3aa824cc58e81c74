package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"github.com/beslagsboden/dialog-engine/internal/observability"
)

// Product is the full seed record for one catalog item.
type Product struct {
	ID             string      `json:"id"`
	Name           string      `json:"name"`
	Summary        string      `json:"summary,omitempty"`
	Aliases        []string    `json:"aliases,omitempty"`
	ArticleNumbers []string    `json:"article_numbers,omitempty"`
	EANs           []string    `json:"eans,omitempty"`
	Specs          []SpecRow   `json:"specs,omitempty"`
	Compat         []CompatRow `json:"compatibility,omitempty"`
}

// Store is a SQLite-backed catalog implementing Lookup and Index. The
// identifier indices are held in memory and rebuilt on writes; reads are
// lock-free against the database and mutex-guarded against the maps.
type Store struct {
	db     *sql.DB
	logger *observability.Logger

	mu       sync.RWMutex
	names    map[string]string // lowercased name/alias -> product ID
	ids      map[string]string // product ID -> display name
	articles map[string]string // article number -> product ID
	eans     map[string]string // EAN -> product ID
}

const schema = `
CREATE TABLE IF NOT EXISTS products (
	id      TEXT PRIMARY KEY,
	name    TEXT NOT NULL,
	summary TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS product_aliases (
	product_id TEXT NOT NULL REFERENCES products(id) ON DELETE CASCADE,
	alias      TEXT NOT NULL,
	UNIQUE (product_id, alias)
);

CREATE TABLE IF NOT EXISTS product_numbers (
	product_id     TEXT NOT NULL REFERENCES products(id) ON DELETE CASCADE,
	article_number TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS product_eans (
	product_id TEXT NOT NULL REFERENCES products(id) ON DELETE CASCADE,
	ean        TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS product_specs (
	product_id TEXT NOT NULL REFERENCES products(id) ON DELETE CASCADE,
	name       TEXT NOT NULL,
	value      TEXT NOT NULL,
	unit       TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS product_compat (
	product_id  TEXT NOT NULL REFERENCES products(id) ON DELETE CASCADE,
	target_id   TEXT NOT NULL DEFAULT '',
	target_name TEXT NOT NULL,
	note        TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_specs_product ON product_specs(product_id);
CREATE INDEX IF NOT EXISTS idx_compat_product ON product_compat(product_id);
`

// Open opens (creating if needed) a SQLite catalog at the given path.
// Use ":memory:" for an ephemeral store in tests.
func Open(path string, logger *observability.Logger) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_foreign_keys=on", path)
	if path == ":memory:" {
		// The cascade deletes rely on foreign keys in memory too.
		dsn = "file::memory:?_foreign_keys=on"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	// SQLite handles one writer; a single connection sidesteps SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate catalog: %w", err)
	}

	s := &Store{db: db, logger: logger}
	if err := s.Reload(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Reload rebuilds the in-memory identifier indices from the database.
func (s *Store) Reload() error {
	names := make(map[string]string)
	ids := make(map[string]string)
	articles := make(map[string]string)
	eans := make(map[string]string)

	rows, err := s.db.Query(`SELECT id, name FROM products`)
	if err != nil {
		return fmt.Errorf("load products: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id, name string
		if err := rows.Scan(&id, &name); err != nil {
			return fmt.Errorf("scan product: %w", err)
		}
		ids[id] = name
		names[strings.ToLower(name)] = id
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate products: %w", err)
	}

	aliasRows, err := s.db.Query(`SELECT product_id, alias FROM product_aliases`)
	if err != nil {
		return fmt.Errorf("load aliases: %w", err)
	}
	defer aliasRows.Close()

	for aliasRows.Next() {
		var id, alias string
		if err := aliasRows.Scan(&id, &alias); err != nil {
			return fmt.Errorf("scan alias: %w", err)
		}
		names[strings.ToLower(alias)] = id
	}
	if err := aliasRows.Err(); err != nil {
		return fmt.Errorf("iterate aliases: %w", err)
	}

	numRows, err := s.db.Query(`SELECT product_id, article_number FROM product_numbers`)
	if err != nil {
		return fmt.Errorf("load article numbers: %w", err)
	}
	defer numRows.Close()

	for numRows.Next() {
		var id, num string
		if err := numRows.Scan(&id, &num); err != nil {
			return fmt.Errorf("scan article number: %w", err)
		}
		articles[num] = id
	}
	if err := numRows.Err(); err != nil {
		return fmt.Errorf("iterate article numbers: %w", err)
	}

	eanRows, err := s.db.Query(`SELECT product_id, ean FROM product_eans`)
	if err != nil {
		return fmt.Errorf("load eans: %w", err)
	}
	defer eanRows.Close()

	for eanRows.Next() {
		var id, ean string
		if err := eanRows.Scan(&id, &ean); err != nil {
			return fmt.Errorf("scan ean: %w", err)
		}
		eans[ean] = id
	}
	if err := eanRows.Err(); err != nil {
		return fmt.Errorf("iterate eans: %w", err)
	}

	s.mu.Lock()
	s.names = names
	s.ids = ids
	s.articles = articles
	s.eans = eans
	s.mu.Unlock()

	if s.logger != nil {
		s.logger.Debug().
			Int("products", len(ids)).
			Int("names", len(names)).
			Msg("Catalog index loaded")
	}

	return nil
}

// AddProduct inserts or replaces a product with all its satellite rows.
func (s *Store) AddProduct(ctx context.Context, p Product) error {
	if p.ID == "" || p.Name == "" {
		return fmt.Errorf("product requires id and name")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM products WHERE id = ?`, p.ID); err != nil {
		return fmt.Errorf("clear product: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO products (id, name, summary) VALUES (?, ?, ?)`,
		p.ID, p.Name, p.Summary); err != nil {
		return fmt.Errorf("insert product: %w", err)
	}

	for _, alias := range p.Aliases {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO product_aliases (product_id, alias) VALUES (?, ?)`,
			p.ID, alias); err != nil {
			return fmt.Errorf("insert alias: %w", err)
		}
	}

	for _, num := range p.ArticleNumbers {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO product_numbers (product_id, article_number) VALUES (?, ?)`,
			p.ID, num); err != nil {
			return fmt.Errorf("insert article number: %w", err)
		}
	}

	for _, ean := range p.EANs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO product_eans (product_id, ean) VALUES (?, ?)`,
			p.ID, ean); err != nil {
			return fmt.Errorf("insert ean: %w", err)
		}
	}

	for _, spec := range p.Specs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO product_specs (product_id, name, value, unit) VALUES (?, ?, ?, ?)`,
			p.ID, spec.Name, spec.Value, spec.Unit); err != nil {
			return fmt.Errorf("insert spec: %w", err)
		}
	}

	for _, compat := range p.Compat {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO product_compat (product_id, target_id, target_name, note) VALUES (?, ?, ?, ?)`,
			p.ID, compat.TargetID, compat.TargetName, compat.Note); err != nil {
			return fmt.Errorf("insert compat: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	return s.Reload()
}

// GetTechnicalSpecs returns the specification rows for a product.
func (s *Store) GetTechnicalSpecs(ctx context.Context, productID string) (*Result, error) {
	name, ok := s.ProductName(productID)
	if !ok {
		return ErrorResult(fmt.Sprintf("Ogiltig produkt: %s", productID)), nil
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT name, value, unit FROM product_specs WHERE product_id = ? ORDER BY name`,
		productID)
	if err != nil {
		return nil, fmt.Errorf("query specs: %w", err)
	}
	defer rows.Close()

	var specs []SpecRow
	for rows.Next() {
		var row SpecRow
		if err := rows.Scan(&row.Name, &row.Value, &row.Unit); err != nil {
			return nil, fmt.Errorf("scan spec: %w", err)
		}
		specs = append(specs, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate specs: %w", err)
	}

	if len(specs) == 0 {
		return ErrorResult(fmt.Sprintf("Inga tekniska specifikationer för %s", name)), nil
	}

	return &Result{
		Status:    StatusSuccess,
		ProductID: productID,
		Name:      name,
		Specs:     specs,
	}, nil
}

// GetCompatibility returns the compatibility relations for a product.
func (s *Store) GetCompatibility(ctx context.Context, productID string) (*Result, error) {
	name, ok := s.ProductName(productID)
	if !ok {
		return ErrorResult(fmt.Sprintf("Ogiltig produkt: %s", productID)), nil
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT target_id, target_name, note FROM product_compat WHERE product_id = ? ORDER BY target_name`,
		productID)
	if err != nil {
		return nil, fmt.Errorf("query compatibility: %w", err)
	}
	defer rows.Close()

	var compat []CompatRow
	for rows.Next() {
		var row CompatRow
		if err := rows.Scan(&row.TargetID, &row.TargetName, &row.Note); err != nil {
			return nil, fmt.Errorf("scan compatibility: %w", err)
		}
		compat = append(compat, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate compatibility: %w", err)
	}

	if len(compat) == 0 {
		return ErrorResult(fmt.Sprintf("Ingen kompatibilitetsinformation för %s", name)), nil
	}

	return &Result{
		Status:    StatusSuccess,
		ProductID: productID,
		Name:      name,
		Compat:    compat,
	}, nil
}

// GetSummary returns the product summary.
func (s *Store) GetSummary(ctx context.Context, productID string) (*Result, error) {
	var name, summary string
	err := s.db.QueryRowContext(ctx,
		`SELECT name, summary FROM products WHERE id = ?`, productID).
		Scan(&name, &summary)
	if err == sql.ErrNoRows {
		return ErrorResult(fmt.Sprintf("Ogiltig produkt: %s", productID)), nil
	}
	if err != nil {
		return nil, fmt.Errorf("query summary: %w", err)
	}

	if summary == "" {
		summary = name
	}

	return &Result{
		Status:    StatusSuccess,
		ProductID: productID,
		Name:      name,
		Summary:   summary,
	}, nil
}

// SearchProducts returns products whose name or alias matches the query,
// ranked exact > prefix > substring.
func (s *Store) SearchProducts(ctx context.Context, query string, limit int) (*Result, error) {
	if limit <= 0 {
		limit = 5
	}

	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return ErrorResult("Tom sökfråga"), nil
	}

	pattern := "%" + q + "%"
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT p.id, p.name
		FROM products p
		LEFT JOIN product_aliases a ON a.product_id = p.id
		WHERE lower(p.name) LIKE ? OR lower(a.alias) LIKE ?`,
		pattern, pattern)
	if err != nil {
		return nil, fmt.Errorf("search products: %w", err)
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var hit Hit
		if err := rows.Scan(&hit.ProductID, &hit.Name); err != nil {
			return nil, fmt.Errorf("scan hit: %w", err)
		}
		hit.Score = matchScore(q, strings.ToLower(hit.Name))
		hits = append(hits, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate hits: %w", err)
	}

	if len(hits) == 0 {
		return ErrorResult(fmt.Sprintf("Inga produkter matchade %q", query)), nil
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Name < hits[j].Name
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}

	return &Result{Status: StatusSuccess, Hits: hits}, nil
}

func matchScore(query, name string) float64 {
	switch {
	case name == query:
		return 1.0
	case strings.HasPrefix(name, query):
		return 0.8
	case strings.Contains(name, query):
		return 0.6
	default:
		// Alias-only match
		return 0.5
	}
}

// ValidateID reports whether the product identifier exists.
func (s *Store) ValidateID(productID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.ids[productID]
	return ok
}

// ProductName returns the display name for a product identifier.
func (s *Store) ProductName(productID string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	name, ok := s.ids[productID]
	return name, ok
}

// NameToID returns a copy of the lowercased name/alias index.
func (s *Store) NameToID() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(s.names))
	for k, v := range s.names {
		out[k] = v
	}
	return out
}

// ByArticleNumber resolves an 8-digit article number.
func (s *Store) ByArticleNumber(articleNumber string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.articles[articleNumber]
	return id, ok
}

// ByEAN resolves an EAN code.
func (s *Store) ByEAN(ean string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.eans[ean]
	return id, ok
}

var (
	_ Lookup = (*Store)(nil)
	_ Index  = (*Store)(nil)
)
