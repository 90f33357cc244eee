package store

import (
	"bytes"
	"compress/gzip"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"podscript/pkg/db"
	"podscript/pkg/model"
)

// Store composes all sub-interfaces for full archive access. Consumers
// should depend on specific sub-interfaces when possible.
type Store interface {
	ScriptStore
	CacheStore
	StateStore

	// Close closes the store connection.
	Close() error
}

// SQLiteStore implements Store.
type SQLiteStore struct {
	db *db.DB
}

// NewSQLiteStore creates a new store.
func NewSQLiteStore(db *db.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Scripts ---

// SaveScript archives a finished script with its quality verdict and
// returns the generated id.
func (s *SQLiteStore) SaveScript(ctx context.Context, script *model.Script, report model.QualityReport) (string, error) {
	id := uuid.New().String()

	var defectsJSON string
	if len(report.Defects) > 0 {
		b, err := json.Marshal(report.Defects)
		if err != nil {
			return "", err
		}
		defectsJSON = string(b)
	}

	query := `INSERT INTO scripts (uuid, template, title, text, line_count, score, passed, defects, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		id, script.Template, scriptTitle(script), script.Text(),
		script.LineCount(), report.Score, report.Passed, defectsJSON, time.Now().UTC())
	if err != nil {
		return "", err
	}
	return id, nil
}

func (s *SQLiteStore) GetScript(ctx context.Context, id string) (*ScriptRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT uuid, template, title, text, line_count, score, passed, defects, created_at
		 FROM scripts WHERE uuid = ?`, id)
	return scanScript(row)
}

func (s *SQLiteStore) ListScripts(ctx context.Context, limit int) ([]*ScriptRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT uuid, template, title, text, line_count, score, passed, defects, created_at
		 FROM scripts ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*ScriptRecord
	for rows.Next() {
		rec, err := scanScript(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// SaveSummary stores a promotional summary linked to an archived script.
// scriptUUID may be empty when the script itself was not archived.
func (s *SQLiteStore) SaveSummary(ctx context.Context, scriptUUID string, kind model.SummaryKind, text string) (string, error) {
	id := uuid.New().String()
	query := `INSERT INTO summaries (uuid, script_uuid, kind, text, created_at) VALUES (?, ?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, query, id, scriptUUID, string(kind), text, time.Now().UTC()); err != nil {
		return "", err
	}
	return id, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanScript(row rowScanner) (*ScriptRecord, error) {
	var rec ScriptRecord
	var defectsJSON sql.NullString

	err := row.Scan(&rec.UUID, &rec.Template, &rec.Title, &rec.Text,
		&rec.LineCount, &rec.Score, &rec.Passed, &defectsJSON, &rec.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil // Not found
	}
	if err != nil {
		return nil, err
	}

	if defectsJSON.Valid && defectsJSON.String != "" {
		if err := json.Unmarshal([]byte(defectsJSON.String), &rec.Defects); err != nil {
			return nil, err
		}
	}
	return &rec, nil
}

// scriptTitle derives a short archive title from the opening line.
func scriptTitle(script *model.Script) string {
	if script.LineCount() == 0 {
		return ""
	}
	title := script.Lines[0].Text
	if len(title) > 80 {
		cut := strings.LastIndex(title[:80], " ")
		if cut < 20 {
			cut = 80
		}
		title = title[:cut] + "…"
	}
	return title
}

// --- Cache ---

func (s *SQLiteStore) GetCache(ctx context.Context, key string) ([]byte, bool) {
	var val []byte
	// Any read error counts as a miss.
	if err := s.db.QueryRowContext(ctx, "SELECT value FROM cache WHERE key = ?", key).Scan(&val); err != nil {
		return nil, false
	}

	// Entries written before compression was introduced are stored raw,
	// so sniff the gzip magic instead of assuming.
	if len(val) > 2 && val[0] == 0x1f && val[1] == 0x8b {
		if plain, err := decompress(val); err == nil {
			return plain, true
		}
	}
	return val, true
}

func (s *SQLiteStore) HasCache(ctx context.Context, key string) (bool, error) {
	var exists int
	err := s.db.QueryRowContext(ctx, "SELECT 1 FROM cache WHERE key = ?", key).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *SQLiteStore) SetCache(ctx context.Context, key string, val []byte) error {
	// Transparent compression
	if compressed, err := compress(val); err == nil {
		val = compressed
	}

	query := `INSERT OR REPLACE INTO cache (key, value, created_at) VALUES (?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query, key, val, time.Now())
	return err
}

func (s *SQLiteStore) ListCacheKeys(ctx context.Context, prefix string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT key FROM cache WHERE key LIKE ? ORDER BY key", prefix+"%")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// --- Compression pooling ---

type gzipCodec struct {
	writers sync.Pool
	buffers sync.Pool
}

var codec = &gzipCodec{
	writers: sync.Pool{New: func() any { return gzip.NewWriter(io.Discard) }},
	buffers: sync.Pool{New: func() any { return new(bytes.Buffer) }},
}

func compress(data []byte) ([]byte, error) {
	buf := codec.buffers.Get().(*bytes.Buffer)
	buf.Reset()
	defer codec.buffers.Put(buf)

	w := codec.writers.Get().(*gzip.Writer)
	w.Reset(buf)
	defer codec.writers.Put(w)

	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	// buf goes back to the pool, so hand out a copy
	return append([]byte(nil), buf.Bytes()...), nil
}

func decompress(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

// --- Persistent state ---

func (s *SQLiteStore) GetState(ctx context.Context, key string) (string, bool) {
	var val string
	if err := s.db.QueryRowContext(ctx, "SELECT value FROM persistent_state WHERE key = ?", key).Scan(&val); err != nil {
		return "", false
	}
	return val, true
}

func (s *SQLiteStore) SetState(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO persistent_state (key, value, created_at) VALUES (?, ?, ?)",
		key, value, time.Now())
	return err
}

func (s *SQLiteStore) DeleteState(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM persistent_state WHERE key = ?", key)
	return err
}
