package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/GenuineGenius999/VPS-Hosting-Twilio-AI-Caller/internal/domain"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// TranscriptRepository handles database operations for call transcripts
type TranscriptRepository struct {
	db *gorm.DB
}

func NewTranscriptRepository(db *gorm.DB) *TranscriptRepository {
	return &TranscriptRepository{db: db}
}

// InsertTranscript stores one spoken line.
func (r *TranscriptRepository) InsertTranscript(ctx context.Context, t domain.Transcript) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	if err := r.db.WithContext(ctx).Create(&t).Error; err != nil {
		return fmt.Errorf("failed to insert transcript: %w", err)
	}
	return nil
}

// ListByCallSID returns a call's lines oldest first.
func (r *TranscriptRepository) ListByCallSID(ctx context.Context, callSID string) ([]domain.Transcript, error) {
	var rows []domain.Transcript
	err := r.db.WithContext(ctx).
		Where("call_sid = ?", callSID).
		Order("created_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list transcripts: %w", err)
	}
	return rows, nil
}
