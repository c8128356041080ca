package report

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// RunRecord is one archived connection run.
type RunRecord struct {
	ID           string `gorm:"primaryKey;size:36"`
	Suite        string `gorm:"size:255;index"`
	ConnectionID string `gorm:"size:36"`
	RemoteAddr   string `gorm:"size:255"`
	StartedAt    time.Time
	DurationMs   int64
	Aborted      bool
	Passed       bool
	Cases        []CaseRecord `gorm:"foreignKey:RunID;constraint:OnDelete:CASCADE"`
	CreatedAt    time.Time
}

func (RunRecord) TableName() string { return "mocktide_runs" }

// CaseRecord is one archived receive outcome.
type CaseRecord struct {
	ID        uint   `gorm:"primaryKey"`
	RunID     string `gorm:"size:36;index"`
	Position  int
	Name      string `gorm:"size:255"`
	Status    string `gorm:"size:16"`
	Kind      string `gorm:"size:32"`
	Message   string `gorm:"type:text"`
	ElapsedMs int64
}

func (CaseRecord) TableName() string { return "mocktide_cases" }

// PostgresSink archives completed suites so results outlive the process.
type PostgresSink struct {
	db *gorm.DB
}

// NewPostgresSink migrates the archive tables and returns the sink.
func NewPostgresSink(db *gorm.DB) (*PostgresSink, error) {
	if err := db.AutoMigrate(&RunRecord{}, &CaseRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate report archive: %w", err)
	}
	return &PostgresSink{db: db}, nil
}

func (p *PostgresSink) Name() string { return "postgres" }

func (p *PostgresSink) Publish(ctx context.Context, suite SuiteResult) error {
	record := toRunRecord(suite)
	if err := p.db.WithContext(ctx).Create(&record).Error; err != nil {
		return fmt.Errorf("failed to archive suite: %w", err)
	}
	return nil
}

// Runs returns the archived runs of a script, newest first.
func (p *PostgresSink) Runs(ctx context.Context, suite string) ([]RunRecord, error) {
	var runs []RunRecord
	err := p.db.WithContext(ctx).
		Preload("Cases", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).
		Where("suite = ?", suite).
		Order("started_at DESC").
		Find(&runs).Error
	return runs, err
}

// Close is a no-op; the database handle belongs to the caller.
func (p *PostgresSink) Close() error { return nil }

func toRunRecord(suite SuiteResult) RunRecord {
	record := RunRecord{
		ID:           suite.ID,
		Suite:        suite.Name,
		ConnectionID: suite.ConnectionID,
		RemoteAddr:   suite.RemoteAddr,
		StartedAt:    suite.StartedAt,
		DurationMs:   suite.Duration.Milliseconds(),
		Aborted:      suite.Aborted,
		Passed:       suite.Passed(),
		Cases:        make([]CaseRecord, 0, len(suite.Cases)),
	}
	for i, c := range suite.Cases {
		record.Cases = append(record.Cases, CaseRecord{
			RunID:     suite.ID,
			Position:  i,
			Name:      c.Name,
			Status:    string(c.Status),
			Kind:      c.Kind,
			Message:   c.Message,
			ElapsedMs: c.Elapsed.Milliseconds(),
		})
	}
	return record
}
