package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/user/projectdesk/internal/dossier"
	"github.com/user/projectdesk/internal/embedding"
	"github.com/user/projectdesk/internal/template"
)

var (
	// ErrNotFound marks a lookup of a project that was never created.
	ErrNotFound = errors.New("project not found")
	// ErrAlreadyExists marks a create for a name that is already persisted.
	ErrAlreadyExists = errors.New("project already exists")
	// ErrNoActiveDossier marks an operation that needs a selected project
	// when the conversation has none.
	ErrNoActiveDossier = errors.New("no active project")
)

// minSimilarity is the cosine floor below which an approximate match is
// treated as a miss rather than returned.
const minSimilarity = 0.35

// Record is the persisted identity of a project.
type Record struct {
	Name        string
	Description string
}

// Store keeps one dossier per project in SQLite, each row overwritten
// wholesale on save. Which project a conversation is working on lives in
// that conversation's state, not here; the store itself is shared by every
// conversation and the REST surface. Writes to the same project are
// serialized, distinct projects are independent.
type Store struct {
	db     *sql.DB
	tpl    *template.Template
	engine embedding.Engine

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// Open opens (creating if needed) the project database. The engine is
// optional; without one, approximate lookup falls back to substring match.
func Open(ctx context.Context, path string, tpl *template.Template, engine embedding.Engine) (*Store, error) {
	if tpl == nil {
		return nil, fmt.Errorf("template is required")
	}
	conn, err := openDB(ctx, path)
	if err != nil {
		return nil, err
	}
	return &Store{
		db:     conn,
		tpl:    tpl,
		engine: engine,
		locks:  make(map[string]*sync.Mutex),
	}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Template returns the schema the store instantiates projects from.
func (s *Store) Template() *template.Template {
	return s.tpl
}

// Create instantiates a dossier from the template and persists it. It does
// not select the project for anyone; selection is conversation state. The
// template's project.name and project.description leaves are seeded when
// present.
func (s *Store) Create(ctx context.Context, name, description string) (*dossier.Dossier, error) {
	name = strings.TrimSpace(name)
	d, err := dossier.Instantiate(s.tpl, name)
	if err != nil {
		return nil, err
	}
	if d.IsValidPath("project.name") {
		_ = d.Set("project.name", name)
	}
	if description != "" && d.IsValidPath("project.description") {
		_ = d.Set("project.description", description)
	}

	tree, err := d.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("serialize dossier for %q: %w", name, err)
	}
	vector, err := s.embed(ctx, name, description)
	if err != nil {
		return nil, err
	}

	lock := s.projectLock(name)
	lock.Lock()
	defer lock.Unlock()

	now := time.Now().UTC().Format(time.RFC3339)
	_, err = s.db.ExecContext(ctx, `
INSERT INTO projects (name, description, context, embedding, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?)
`, name, description, string(tree), encodeVector(vector), now, now)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: %q", ErrAlreadyExists, name)
		}
		return nil, fmt.Errorf("failed to create project %q: %w", name, err)
	}
	return d, nil
}

// Load reads a project by exact name. The returned dossier is a private
// copy; use Mutate to change what is stored.
func (s *Store) Load(ctx context.Context, name string) (*dossier.Dossier, error) {
	if strings.TrimSpace(name) == "" {
		return nil, ErrNoActiveDossier
	}
	var tree string
	err := s.db.QueryRowContext(ctx, `SELECT context FROM projects WHERE name = ?`, name).Scan(&tree)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load project %q: %w", name, err)
	}
	return dossier.FromJSON(name, []byte(tree))
}

// Record returns the persisted identity of one project.
func (s *Store) Record(ctx context.Context, name string) (Record, error) {
	var record Record
	err := s.db.QueryRowContext(ctx, `
SELECT name, description FROM projects WHERE name = ?
`, name).Scan(&record.Name, &record.Description)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	if err != nil {
		return Record{}, fmt.Errorf("failed to load project %q: %w", name, err)
	}
	return record, nil
}

// Mutate loads a project, applies fn to it, and persists the result as one
// atomic overwrite. The project lock is held for the whole load-mutate-save
// cycle, so concurrent conversations and REST calls writing to the same
// project are serialized and each fn sees the latest stored tree.
func (s *Store) Mutate(ctx context.Context, name string, fn func(*dossier.Dossier) error) error {
	if strings.TrimSpace(name) == "" {
		return ErrNoActiveDossier
	}
	lock := s.projectLock(name)
	lock.Lock()
	defer lock.Unlock()

	var tree string
	err := s.db.QueryRowContext(ctx, `SELECT context FROM projects WHERE name = ?`, name).Scan(&tree)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	if err != nil {
		return fmt.Errorf("failed to load project %q: %w", name, err)
	}
	d, err := dossier.FromJSON(name, []byte(tree))
	if err != nil {
		return err
	}
	if err := fn(d); err != nil {
		return err
	}

	updated, err := d.MarshalJSON()
	if err != nil {
		return fmt.Errorf("serialize dossier for %q: %w", name, err)
	}
	now := time.Now().UTC().Format(time.RFC3339)
	if _, err := s.db.ExecContext(ctx, `
UPDATE projects SET context = ?, updated_at = ? WHERE name = ?
`, string(updated), now, name); err != nil {
		return fmt.Errorf("failed to save project %q: %w", name, err)
	}
	return nil
}

// Delete removes a project. Conversations that had it selected discover the
// deletion on their next load.
func (s *Store) Delete(ctx context.Context, name string) error {
	lock := s.projectLock(name)
	lock.Lock()
	defer lock.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM projects WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("failed to delete project %q: %w", name, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete project %q: %w", name, err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %q", ErrNotFound, name)
	}

	s.mu.Lock()
	delete(s.locks, name)
	s.mu.Unlock()
	return nil
}

// List returns the names of all persisted projects.
func (s *Store) List(ctx context.Context) ([]string, error) {
	records, err := s.Records(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(records))
	for i, record := range records {
		names[i] = record.Name
	}
	return names, nil
}

// Records returns name and description for all persisted projects.
func (s *Store) Records(ctx context.Context) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, description FROM projects ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer rows.Close()

	records := make([]Record, 0)
	for rows.Next() {
		var record Record
		if err := rows.Scan(&record.Name, &record.Description); err != nil {
			return nil, fmt.Errorf("failed to scan project row: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	return records, nil
}

// FindApproximate resolves a partial or fuzzy project name to its dossier.
// It returns (nil, nil) when nothing matches. With an embedding engine the
// stored vectors are ranked by cosine similarity; otherwise a
// case-insensitive substring match is used.
func (s *Store) FindApproximate(ctx context.Context, query string) (*dossier.Dossier, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}

	name, err := s.bestMatch(ctx, query)
	if err != nil || name == "" {
		return nil, err
	}

	var tree string
	if err := s.db.QueryRowContext(ctx, `SELECT context FROM projects WHERE name = ?`, name).Scan(&tree); err != nil {
		return nil, fmt.Errorf("failed to load project %q: %w", name, err)
	}
	return dossier.FromJSON(name, []byte(tree))
}

func (s *Store) bestMatch(ctx context.Context, query string) (string, error) {
	// Exact name always wins.
	var exact string
	err := s.db.QueryRowContext(ctx, `SELECT name FROM projects WHERE name = ?`, query).Scan(&exact)
	if err == nil {
		return exact, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("failed to query projects: %w", err)
	}

	if s.engine == nil {
		return s.substringMatch(ctx, query)
	}

	queryVec, err := s.engine.Embed(ctx, query)
	if err != nil {
		return "", fmt.Errorf("embed lookup query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT name, embedding FROM projects`)
	if err != nil {
		return "", fmt.Errorf("failed to query projects: %w", err)
	}
	defer rows.Close()

	best, bestScore := "", 0.0
	for rows.Next() {
		var name string
		var blob []byte
		if err := rows.Scan(&name, &blob); err != nil {
			return "", fmt.Errorf("failed to scan project row: %w", err)
		}
		score := embedding.Cosine(queryVec, decodeVector(blob))
		if score > bestScore {
			best, bestScore = name, score
		}
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("failed to query projects: %w", err)
	}
	if bestScore < minSimilarity {
		return s.substringMatch(ctx, query)
	}
	return best, nil
}

func (s *Store) substringMatch(ctx context.Context, query string) (string, error) {
	var name string
	err := s.db.QueryRowContext(ctx, `
SELECT name FROM projects WHERE lower(name) LIKE '%' || lower(?) || '%' ORDER BY length(name) LIMIT 1
`, query).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to query projects: %w", err)
	}
	return name, nil
}

func (s *Store) embed(ctx context.Context, name, description string) ([]float32, error) {
	if s.engine == nil {
		return nil, nil
	}
	vector, err := s.engine.Embed(ctx, name+": "+description)
	if err != nil {
		return nil, fmt.Errorf("embed project %q: %w", name, err)
	}
	return vector, nil
}

func (s *Store) projectLock(name string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[name]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[name] = lock
	}
	return lock
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func encodeVector(vector []float32) []byte {
	if vector == nil {
		return nil
	}
	buf, err := json.Marshal(vector)
	if err != nil {
		return nil
	}
	return buf
}

func decodeVector(blob []byte) []float32 {
	if len(blob) == 0 {
		return nil
	}
	var vector []float32
	if err := json.Unmarshal(blob, &vector); err != nil {
		return nil
	}
	return vector
}
