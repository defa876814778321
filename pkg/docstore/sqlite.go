package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"github.com/storyround/storyround/internal/observability"
)

// SQLiteStore is a Store backed by an embedded SQLite database. Documents
// live in a single table keyed by (collection, id) with a version counter
// driving optimistic concurrency; indexed array fields are mirrored into a
// membership side table so array-contains queries stay indexed lookups.
type SQLiteStore struct {
	db          *sql.DB
	logger      zerolog.Logger
	hub         *watchHub
	maxAttempts int
	indexes     map[string]string

	// Serializes commit+notify so subscribers observe writes in commit order.
	writeMu sync.Mutex
}

// Config holds SQLite store configuration.
type Config struct {
	Path           string
	Logger         zerolog.Logger
	TxnMaxAttempts int
	// Indexes maps a collection to the name of its indexed array field.
	Indexes map[string]string
}

// Open opens (or creates) a SQLite-backed document store.
func Open(cfg Config) (*SQLiteStore, error) {
	observability.EnsureRegistered()

	if cfg.Path == "" {
		return nil, errors.New("database path is required")
	}
	if cfg.TxnMaxAttempts <= 0 {
		cfg.TxnMaxAttempts = 5
	}

	db, err := sql.Open("sqlite3", cfg.Path+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	s := &SQLiteStore{
		db:          db,
		logger:      cfg.Logger,
		hub:         newWatchHub(cfg.Logger),
		maxAttempts: cfg.TxnMaxAttempts,
		indexes:     cfg.Indexes,
	}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	s.logger.Info().Str("path", cfg.Path).Msg("Document store opened")
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS documents (
			collection TEXT NOT NULL,
			id TEXT NOT NULL,
			body TEXT NOT NULL,
			version INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			PRIMARY KEY (collection, id)
		);

		CREATE TABLE IF NOT EXISTS membership (
			collection TEXT NOT NULL,
			field TEXT NOT NULL,
			value TEXT NOT NULL,
			doc_id TEXT NOT NULL,
			PRIMARY KEY (collection, field, value, doc_id)
		);
		CREATE INDEX IF NOT EXISTS idx_membership_lookup ON membership(collection, field, value);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the store and detaches all subscriptions.
func (s *SQLiteStore) Close() error {
	s.hub.closeAll()
	return s.db.Close()
}

// Get returns a single document or ErrNotFound.
func (s *SQLiteStore) Get(ctx context.Context, collection, id string) (Document, error) {
	start := time.Now()
	doc, err := s.get(ctx, collection, id)
	observability.RecordStoreOp("get", time.Since(start), ignoreNotFound(err))
	return doc, err
}

func (s *SQLiteStore) get(ctx context.Context, collection, id string) (Document, error) {
	if collection == "" || id == "" {
		return Document{}, errors.New("collection and id are required")
	}

	var body string
	var version, updatedAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT body, version, updated_at FROM documents WHERE collection = ? AND id = ?`,
		collection, id,
	).Scan(&body, &version, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, fmt.Errorf("failed to read document: %w", err)
	}

	return Document{
		Collection: collection,
		ID:         id,
		Body:       json.RawMessage(body),
		Version:    version,
		UpdatedAt:  time.UnixMilli(updatedAt),
	}, nil
}

// Create writes body only if no document exists yet.
func (s *SQLiteStore) Create(ctx context.Context, collection, id string, body json.RawMessage) (bool, error) {
	start := time.Now()
	created, err := s.create(ctx, collection, id, body)
	observability.RecordStoreOp("create", time.Since(start), err)
	return created, err
}

func (s *SQLiteStore) create(ctx context.Context, collection, id string, body json.RawMessage) (bool, error) {
	if collection == "" || id == "" {
		return false, errors.New("collection and id are required")
	}
	if !json.Valid(body) {
		return false, errors.New("body is not valid JSON")
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	now := time.Now().UnixMilli()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO documents (collection, id, body, version, updated_at) VALUES (?, ?, ?, 1, ?)`,
		collection, id, string(body), now,
	)
	if err != nil {
		return false, fmt.Errorf("failed to create document: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if rows == 0 {
		// Already present; create-if-absent leaves it untouched.
		return false, nil
	}

	if err := s.syncMembership(ctx, tx, collection, id, body); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit: %w", err)
	}

	s.hub.publish(Document{
		Collection: collection,
		ID:         id,
		Body:       body,
		Version:    1,
		UpdatedAt:  time.UnixMilli(now),
	})
	return true, nil
}

// Merge applies a partial last-write-wins update, creating the document when
// absent. Only the named top-level fields are replaced.
func (s *SQLiteStore) Merge(ctx context.Context, collection, id string, fields map[string]any) error {
	start := time.Now()
	err := s.merge(ctx, collection, id, fields)
	observability.RecordStoreOp("merge", time.Since(start), err)
	return err
}

func (s *SQLiteStore) merge(ctx context.Context, collection, id string, fields map[string]any) error {
	if collection == "" || id == "" {
		return errors.New("collection and id are required")
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	now := time.Now().UnixMilli()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	current := map[string]any{}
	var version int64
	var body string
	err = tx.QueryRowContext(ctx,
		`SELECT body, version FROM documents WHERE collection = ? AND id = ?`,
		collection, id,
	).Scan(&body, &version)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		version = 0
	case err != nil:
		return fmt.Errorf("failed to read document: %w", err)
	default:
		if err := json.Unmarshal([]byte(body), &current); err != nil {
			return fmt.Errorf("failed to decode stored document: %w", err)
		}
	}

	for k, v := range fields {
		current[k] = v
	}

	merged, err := json.Marshal(current)
	if err != nil {
		return fmt.Errorf("failed to encode merged document: %w", err)
	}

	if version == 0 {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO documents (collection, id, body, version, updated_at) VALUES (?, ?, ?, 1, ?)`,
			collection, id, string(merged), now,
		)
	} else {
		_, err = tx.ExecContext(ctx,
			`UPDATE documents SET body = ?, version = ?, updated_at = ? WHERE collection = ? AND id = ?`,
			string(merged), version+1, now, collection, id,
		)
	}
	if err != nil {
		return fmt.Errorf("failed to write document: %w", err)
	}

	if err := s.syncMembership(ctx, tx, collection, id, merged); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}

	s.hub.publish(Document{
		Collection: collection,
		ID:         id,
		Body:       merged,
		Version:    version + 1,
		UpdatedAt:  time.UnixMilli(now),
	})
	return nil
}

// RunTransaction runs fn as an optimistic read-compute-commit cycle, retrying
// on version conflicts up to the configured attempt budget.
func (s *SQLiteStore) RunTransaction(ctx context.Context, collection, id string, fn UpdateFunc) error {
	start := time.Now()
	err := s.runTransaction(ctx, collection, id, fn)
	observability.RecordStoreOp("transact", time.Since(start), err)
	return err
}

func (s *SQLiteStore) runTransaction(ctx context.Context, collection, id string, fn UpdateFunc) error {
	if collection == "" || id == "" {
		return errors.New("collection and id are required")
	}

	conflicts := 0
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		var current json.RawMessage
		var version int64
		doc, err := s.get(ctx, collection, id)
		switch {
		case errors.Is(err, ErrNotFound):
			current, version = nil, 0
		case err != nil:
			return err
		default:
			current, version = doc.Body, doc.Version
		}

		next, err := fn(current)
		if err != nil {
			return err
		}
		if !json.Valid(next) {
			return errors.New("transaction produced invalid JSON")
		}

		committed, err := s.commitVersioned(ctx, collection, id, next, version)
		if err != nil {
			return err
		}
		if committed {
			observability.RecordTransaction(attempt, conflicts)
			return nil
		}

		// Somebody committed in between; re-read and reapply.
		conflicts++
		s.logger.Debug().
			Str("collection", collection).
			Str("id", id).
			Int("attempt", attempt).
			Msg("Transaction conflict, retrying")
	}

	observability.RecordTransaction(s.maxAttempts, conflicts)
	return fmt.Errorf("transaction on %s/%s exhausted %d attempts: %w", collection, id, s.maxAttempts, ErrConflict)
}

// commitVersioned writes next iff the document version is still expected.
// expected 0 means the document must still be absent.
func (s *SQLiteStore) commitVersioned(ctx context.Context, collection, id string, next json.RawMessage, expected int64) (bool, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	now := time.Now().UnixMilli()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var res sql.Result
	if expected == 0 {
		res, err = tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO documents (collection, id, body, version, updated_at) VALUES (?, ?, ?, 1, ?)`,
			collection, id, string(next), now,
		)
	} else {
		res, err = tx.ExecContext(ctx,
			`UPDATE documents SET body = ?, version = ?, updated_at = ? WHERE collection = ? AND id = ? AND version = ?`,
			string(next), expected+1, now, collection, id, expected,
		)
	}
	if err != nil {
		return false, fmt.Errorf("failed to write document: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if rows == 0 {
		return false, nil
	}

	if err := s.syncMembership(ctx, tx, collection, id, next); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit: %w", err)
	}

	s.hub.publish(Document{
		Collection: collection,
		ID:         id,
		Body:       next,
		Version:    expected + 1,
		UpdatedAt:  time.UnixMilli(now),
	})
	return true, nil
}

// Subscribe registers a live listener on one document.
func (s *SQLiteStore) Subscribe(ctx context.Context, collection, id string, onChange ChangeHandler, onError ErrorHandler) (CancelFunc, error) {
	if collection == "" || id == "" {
		return nil, errors.New("collection and id are required")
	}
	if onChange == nil {
		return nil, errors.New("change handler is required")
	}

	// The write lock pins the subscription point: no commit can publish
	// between attaching the watcher and enqueueing the snapshot, so the
	// initial snapshot never arrives after a newer version.
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	w, cancel := s.hub.subscribe(collection, id, onChange, onError)

	// Initial snapshot; a missing document is skipped, not reported.
	doc, err := s.get(ctx, collection, id)
	switch {
	case errors.Is(err, ErrNotFound):
	case err != nil:
		cancel()
		return nil, err
	default:
		w.enqueue(doc)
	}

	return cancel, nil
}

// QueryArrayContains returns documents whose indexed array field contains value.
func (s *SQLiteStore) QueryArrayContains(ctx context.Context, collection, field, value string) ([]Document, error) {
	start := time.Now()
	docs, err := s.queryArrayContains(ctx, collection, field, value)
	observability.RecordStoreOp("query", time.Since(start), err)
	return docs, err
}

func (s *SQLiteStore) queryArrayContains(ctx context.Context, collection, field, value string) ([]Document, error) {
	indexed, ok := s.indexes[collection]
	if !ok || indexed != field {
		return nil, fmt.Errorf("field %q is not indexed for collection %q", field, collection)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT d.id, d.body, d.version, d.updated_at
		FROM membership m
		JOIN documents d ON d.collection = m.collection AND d.id = m.doc_id
		WHERE m.collection = ? AND m.field = ? AND m.value = ?
		ORDER BY d.id`,
		collection, field, value,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query membership: %w", err)
	}
	defer rows.Close()

	return scanDocuments(rows, collection)
}

// List returns every document in a collection, ordered by id.
func (s *SQLiteStore) List(ctx context.Context, collection string) ([]Document, error) {
	start := time.Now()
	docs, err := s.list(ctx, collection)
	observability.RecordStoreOp("list", time.Since(start), err)
	return docs, err
}

func (s *SQLiteStore) list(ctx context.Context, collection string) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, body, version, updated_at FROM documents WHERE collection = ? ORDER BY id`,
		collection,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	return scanDocuments(rows, collection)
}

// syncMembership mirrors the collection's indexed array field into the
// membership table, inside the surrounding write transaction.
func (s *SQLiteStore) syncMembership(ctx context.Context, tx *sql.Tx, collection, id string, body json.RawMessage) error {
	field, ok := s.indexes[collection]
	if !ok {
		return nil
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM membership WHERE collection = ? AND field = ? AND doc_id = ?`,
		collection, field, id,
	); err != nil {
		return fmt.Errorf("failed to clear membership rows: %w", err)
	}

	for _, value := range extractStringArray(body, field) {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO membership (collection, field, value, doc_id) VALUES (?, ?, ?, ?)`,
			collection, field, value, id,
		); err != nil {
			return fmt.Errorf("failed to write membership row: %w", err)
		}
	}

	return nil
}

// extractStringArray pulls a top-level string array field out of a JSON body.
// Non-string elements and non-array values yield no entries.
func extractStringArray(body json.RawMessage, field string) []string {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil
	}

	raw, ok := doc[field]
	if !ok {
		return nil
	}

	var values []string
	if err := json.Unmarshal(raw, &values); err != nil {
		return nil
	}
	return values
}

func scanDocuments(rows *sql.Rows, collection string) ([]Document, error) {
	var docs []Document
	for rows.Next() {
		var id, body string
		var version, updatedAt int64
		if err := rows.Scan(&id, &body, &version, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		docs = append(docs, Document{
			Collection: collection,
			ID:         id,
			Body:       json.RawMessage(body),
			Version:    version,
			UpdatedAt:  time.UnixMilli(updatedAt),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read documents: %w", err)
	}
	return docs, nil
}

func ignoreNotFound(err error) error {
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}
