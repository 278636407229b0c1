// Package store is the append-only prediction history, kept in SQLite via GORM.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	DefaultListLimit = 10
	MaxListLimit     = 1000
	topClassesLimit  = 5
)

var (
	// ErrNotFound is returned by Get for unknown ids.
	ErrNotFound = errors.New("prediction not found")
	// ErrEmptyRecord rejects records without predictions.
	ErrEmptyRecord = errors.New("record has no predictions")
)

// Store persists predictions. Writes are serialized; reads run concurrently.
type Store struct {
	db   *gorm.DB
	path string
	mu   sync.Mutex
}

// Open creates or opens the database at path and migrates the schema.
// ":memory:" opens a private in-memory database.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("store path is empty")
	}
	memory := path == ":memory:"
	dsn := path
	if !memory {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
		dsn = path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", path, err)
	}
	if memory {
		// Every connection would otherwise see its own empty database.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}

	if err := db.AutoMigrate(&Record{}, &Detail{}); err != nil {
		return nil, fmt.Errorf("migrate store: %w", err)
	}
	slog.Debug("Prediction store opened", "path", path)
	return &Store{db: db, path: path}, nil
}

// Path returns the database location.
func (s *Store) Path() string { return s.path }

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Record writes one prediction and its ranked details in a single transaction
// and returns the assigned id.
func (s *Store) Record(ctx context.Context, in NewRecord) (uint, error) {
	if len(in.Predictions) == 0 {
		return 0, ErrEmptyRecord
	}
	top := in.Predictions[0]
	rec := Record{
		ImageName:      in.ImageName,
		TopClassName:   top.Label,
		TopConfidence:  float64(top.Confidence),
		ProcessingTime: in.ProcessingTime.Seconds(),
		Source:         in.Source,
		Details:        make([]Detail, len(in.Predictions)),
	}
	if rec.ImageName == "" {
		rec.ImageName = "unknown"
	}
	for i, p := range in.Predictions {
		rec.Details[i] = Detail{
			Rank:              i + 1,
			ClassName:         p.Label,
			Confidence:        float64(p.Confidence),
			ConfidencePercent: p.Percent(),
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(&rec).Error
	})
	if err != nil {
		return 0, fmt.Errorf("record prediction: %w", err)
	}
	return rec.ID, nil
}

func byRank(db *gorm.DB) *gorm.DB { return db.Order("rank ASC") }

// ClampLimit applies the default and maximum list sizes.
func ClampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultListLimit
	case limit > MaxListLimit:
		return MaxListLimit
	default:
		return limit
	}
}

// List returns up to limit records, newest first, with their details.
func (s *Store) List(ctx context.Context, limit int) ([]Record, error) {
	var recs []Record
	err := s.db.WithContext(ctx).
		Preload("Details", byRank).
		Order("id DESC").
		Limit(ClampLimit(limit)).
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("list predictions: %w", err)
	}
	return recs, nil
}

// Get returns one record with its details.
func (s *Store) Get(ctx context.Context, id uint) (*Record, error) {
	var rec Record
	err := s.db.WithContext(ctx).Preload("Details", byRank).First(&rec, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get prediction %d: %w", id, err)
	}
	return &rec, nil
}

// Stats aggregates the whole history at query time.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	db := s.db.WithContext(ctx)
	st := Stats{TopClasses: []ClassCount{}}

	if err := db.Model(&Record{}).Count(&st.TotalCount).Error; err != nil {
		return Stats{}, fmt.Errorf("count predictions: %w", err)
	}

	err := db.Model(&Record{}).
		Select("top_class_name AS class, COUNT(*) AS count").
		Group("top_class_name").
		Order("count DESC, class ASC").
		Limit(topClassesLimit).
		Scan(&st.TopClasses).Error
	if err != nil {
		return Stats{}, fmt.Errorf("top classes: %w", err)
	}

	var avg sql.NullFloat64
	if err := db.Model(&Record{}).Select("AVG(processing_time)").Row().Scan(&avg); err != nil {
		return Stats{}, fmt.Errorf("average processing time: %w", err)
	}
	if avg.Valid {
		v := avg.Float64
		st.AverageProcessingTime = &v
	}
	return st, nil
}
