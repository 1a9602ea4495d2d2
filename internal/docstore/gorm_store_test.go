package docstore

import (
	"context"
	"errors"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/devpath/devpath-backend/internal/platform/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Document{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

type testDoc struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

var testSchema = map[string]any{
	"type":     "object",
	"required": []any{"name"},
	"properties": map[string]any{
		"name":  map[string]any{"type": "string"},
		"count": map[string]any{"type": "integer"},
	},
}

func TestGormStoreRoundTrip(t *testing.T) {
	s := NewGormStore(newTestDB(t), logger.Nop())
	ctx := context.Background()

	if err := s.Write(ctx, "doc-1", testDoc{Name: "a", Count: 3}); err != nil {
		t.Fatalf("write: %v", err)
	}
	var out testDoc
	if err := s.Read(ctx, "doc-1", ReadOptions{Schema: testSchema}, &out); err != nil {
		t.Fatalf("read: %v", err)
	}
	if out.Name != "a" || out.Count != 3 {
		t.Fatalf("roundtrip mismatch: %+v", out)
	}
}

func TestGormStoreOverwrites(t *testing.T) {
	s := NewGormStore(newTestDB(t), logger.Nop())
	ctx := context.Background()

	if err := s.Write(ctx, "doc-1", testDoc{Name: "a", Count: 1}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := s.Write(ctx, "doc-1", testDoc{Name: "b", Count: 2}); err != nil {
		t.Fatalf("second write: %v", err)
	}
	var out testDoc
	if err := s.Read(ctx, "doc-1", ReadOptions{}, &out); err != nil {
		t.Fatalf("read: %v", err)
	}
	if out.Name != "b" || out.Count != 2 {
		t.Fatalf("last write should win: %+v", out)
	}
}

func TestGormStoreMissingWithoutDefault(t *testing.T) {
	s := NewGormStore(newTestDB(t), logger.Nop())
	var out testDoc
	err := s.Read(context.Background(), "ghost", ReadOptions{}, &out)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestGormStoreMissingWithDefault(t *testing.T) {
	s := NewGormStore(newTestDB(t), logger.Nop())
	var out testDoc
	err := s.Read(context.Background(), "ghost", ReadOptions{
		Default: func() any { return testDoc{Name: "fallback"} },
	}, &out)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if out.Name != "fallback" {
		t.Fatalf("default not applied: %+v", out)
	}
}

func TestGormStoreSchemaViolationServesDefault(t *testing.T) {
	s := NewGormStore(newTestDB(t), logger.Nop())
	ctx := context.Background()

	// Valid JSON, wrong shape: "name" is required by the schema.
	if err := s.Write(ctx, "doc-1", map[string]any{"count": "not-an-int"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	var out testDoc
	err := s.Read(ctx, "doc-1", ReadOptions{
		Schema:  testSchema,
		Default: func() any { return testDoc{Name: "fallback"} },
	}, &out)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if out.Name != "fallback" {
		t.Fatalf("corrupt doc should serve default: %+v", out)
	}
}

func TestGormStoreDelete(t *testing.T) {
	s := NewGormStore(newTestDB(t), logger.Nop())
	ctx := context.Background()

	if err := s.Write(ctx, "doc-1", testDoc{Name: "a"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := s.Delete(ctx, "doc-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	var out testDoc
	if err := s.Read(ctx, "doc-1", ReadOptions{}, &out); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound after delete", err)
	}
}

func TestMemoryStoreMatchesContract(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if err := s.Write(ctx, "doc-1", testDoc{Name: "a", Count: 1}); err != nil {
		t.Fatalf("write: %v", err)
	}
	var out testDoc
	if err := s.Read(ctx, "doc-1", ReadOptions{Schema: testSchema}, &out); err != nil {
		t.Fatalf("read: %v", err)
	}
	if out.Name != "a" {
		t.Fatalf("roundtrip mismatch: %+v", out)
	}

	if err := s.Read(ctx, "ghost", ReadOptions{}, &out); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if err := s.Delete(ctx, "doc-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := s.Read(ctx, "doc-1", ReadOptions{}, &out); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound after delete", err)
	}
}
