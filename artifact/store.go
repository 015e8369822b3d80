package artifact

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/Raas21/delay-prediction-api/models"
)

// Store persists artifacts so a restarted process can serve without
// retraining first.
type Store interface {
	Save(ctx context.Context, a *ModelArtifact) error
	// LoadLatest returns the artifact with the highest schema version,
	// the most recently trained one among equal versions, or ErrNotFound.
	LoadLatest(ctx context.Context) (*ModelArtifact, error)
	// List returns artifact metadata newest first, without payloads.
	List(ctx context.Context, limit int, before *time.Time) ([]models.ArtifactRecord, error)
	Close() error
}

// GormStore keeps artifacts in Postgres.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(dsn string) (*GormStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("connect artifact db: %w", err)
	}
	return NewGormStoreFromDB(db)
}

func NewGormStoreFromDB(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&models.ArtifactRecord{}); err != nil {
		return nil, fmt.Errorf("migrate model_artifacts: %w", err)
	}
	return &GormStore{db: db}, nil
}

func (s *GormStore) Save(ctx context.Context, a *ModelArtifact) error {
	rec, err := ToRecord(a)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Create(&rec).Error
}

func (s *GormStore) LoadLatest(ctx context.Context) (*ModelArtifact, error) {
	var rec models.ArtifactRecord
	err := s.db.WithContext(ctx).Order("schema_version DESC, trained_at DESC").First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return FromRecord(rec)
}

func (s *GormStore) List(ctx context.Context, limit int, before *time.Time) ([]models.ArtifactRecord, error) {
	query := s.db.WithContext(ctx).Model(&models.ArtifactRecord{}).
		Select("id", "schema_version", "trained_at", "sample_count").
		Order("trained_at DESC").
		Limit(limit)
	if before != nil {
		query = query.Where("trained_at < ?", *before)
	}
	var rows []models.ArtifactRecord
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
