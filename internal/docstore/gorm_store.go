package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/devpath/devpath-backend/internal/platform/logger"
)

// Document is one named JSON payload. The single table backs every persisted
// document in the system (job ledger, active streams, threads, focus history).
type Document struct {
	Name      string         `gorm:"primaryKey" json:"name"`
	Payload   datatypes.JSON `gorm:"column:payload;type:jsonb" json:"payload"`
	UpdatedAt time.Time      `gorm:"not null;index" json:"updated_at"`
}

func (Document) TableName() string { return "document" }

type gormStore struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewGormStore(db *gorm.DB, baseLog *logger.Logger) Store {
	return &gormStore{
		db:  db,
		log: baseLog.With("component", "DocStore"),
	}
}

func (s *gormStore) Read(ctx context.Context, name string, opts ReadOptions, out any) error {
	var row Document
	err := s.db.WithContext(ctx).Where("name = ?", name).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return s.fallback(name, opts, out, nil)
	}
	if err != nil {
		// Read failures degrade to the default rather than surfacing I/O
		// errors to every reader. See the corruption note in DESIGN.md.
		s.log.Error("document read failed; serving default", "name", name, "error", err)
		return s.fallback(name, opts, out, err)
	}

	if opts.Schema != nil {
		if verr := validateAgainstSchema(opts.Schema, row.Payload); verr != nil {
			s.log.Error("document failed schema validation; serving default", "name", name, "error", verr)
			return s.fallback(name, opts, out, verr)
		}
	}
	if uerr := json.Unmarshal(row.Payload, out); uerr != nil {
		s.log.Error("document payload corrupt; serving default", "name", name, "error", uerr)
		return s.fallback(name, opts, out, uerr)
	}
	return nil
}

func (s *gormStore) fallback(name string, opts ReadOptions, out any, cause error) error {
	if opts.Default == nil {
		if cause != nil {
			return fmt.Errorf("read document %q: %w", name, cause)
		}
		return ErrNotFound
	}
	b, err := json.Marshal(opts.Default())
	if err != nil {
		return fmt.Errorf("marshal default for %q: %w", name, err)
	}
	if err := json.Unmarshal(b, out); err != nil {
		return fmt.Errorf("apply default for %q: %w", name, err)
	}
	return nil
}

func (s *gormStore) Write(ctx context.Context, name string, doc any) error {
	b, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal document %q: %w", name, err)
	}
	row := Document{
		Name:      name,
		Payload:   datatypes.JSON(b),
		UpdatedAt: time.Now(),
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "name"}},
			DoUpdates: clause.AssignmentColumns([]string{"payload", "updated_at"}),
		}).
		Create(&row).Error
}

func (s *gormStore) Delete(ctx context.Context, name string) error {
	return s.db.WithContext(ctx).Where("name = ?", name).Delete(&Document{}).Error
}
