package supabase

import (
	"context"
	"fmt"

	"github.com/GenuineGenius999/VPS-Hosting-Twilio-AI-Caller/internal/domain"
	"github.com/google/uuid"
	"github.com/supabase-community/supabase-go"
)

// Config holds Supabase connection configuration
type Config struct {
	URL    string
	APIKey string
}

// inserter is the slice of the PostgREST builder the store needs.
type inserter interface {
	insert(table string, row interface{}) error
}

type postgrestInserter struct {
	client *supabase.Client
}

func (p postgrestInserter) insert(table string, row interface{}) error {
	_, _, err := p.client.From(table).Insert(row, false, "", "minimal", "").Execute()
	return err
}

// TranscriptStore writes transcript rows into the call_transcripts table.
type TranscriptStore struct {
	db inserter
}

// New creates a Supabase-backed transcript store.
func New(cfg Config) (*TranscriptStore, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("supabase URL is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("supabase API key is required")
	}

	client, err := supabase.NewClient(cfg.URL, cfg.APIKey, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create supabase client: %w", err)
	}
	return &TranscriptStore{db: postgrestInserter{client: client}}, nil
}

// InsertTranscript stores one line. ctx is not honored by the PostgREST client.
func (s *TranscriptStore) InsertTranscript(_ context.Context, t domain.Transcript) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if err := s.db.insert(domain.Transcript{}.TableName(), t); err != nil {
		return fmt.Errorf("failed to insert transcript: %w", err)
	}
	return nil
}
