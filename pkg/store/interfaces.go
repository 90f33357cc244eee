package store

import (
	"context"
	"time"

	"podscript/pkg/model"
)

// ScriptRecord is the archived form of a generated script.
type ScriptRecord struct {
	UUID      string
	Template  string
	Title     string
	Text      string
	LineCount int
	Score     int
	Passed    bool
	Defects   []model.Defect
	CreatedAt time.Time
}

// ScriptStore handles script archive persistence.
type ScriptStore interface {
	SaveScript(ctx context.Context, script *model.Script, report model.QualityReport) (string, error)
	GetScript(ctx context.Context, uuid string) (*ScriptRecord, error)
	ListScripts(ctx context.Context, limit int) ([]*ScriptRecord, error)
	SaveSummary(ctx context.Context, scriptUUID string, kind model.SummaryKind, text string) (string, error)
}

// CacheStore handles generic key-value caching.
type CacheStore interface {
	GetCache(ctx context.Context, key string) ([]byte, bool)
	HasCache(ctx context.Context, key string) (bool, error)
	SetCache(ctx context.Context, key string, val []byte) error
	ListCacheKeys(ctx context.Context, prefix string) ([]string, error)
}

// StateStore handles small persistent key-value state.
type StateStore interface {
	GetState(ctx context.Context, key string) (string, bool)
	SetState(ctx context.Context, key, value string) error
	DeleteState(ctx context.Context, key string) error
}
