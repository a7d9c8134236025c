package supabase

import (
	"context"
	"errors"
	"testing"

	"github.com/GenuineGenius999/VPS-Hosting-Twilio-AI-Caller/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeInserter struct {
	table string
	rows  []domain.Transcript
	err   error
}

func (f *fakeInserter) insert(table string, row interface{}) error {
	if f.err != nil {
		return f.err
	}
	f.table = table
	f.rows = append(f.rows, row.(domain.Transcript))
	return nil
}

func TestInsertTranscript(t *testing.T) {
	db := &fakeInserter{}
	s := &TranscriptStore{db: db}

	require.NoError(t, s.InsertTranscript(context.Background(), domain.Transcript{
		CallSID: "CA1", Speaker: domain.SpeakerCaller, Text: "hi",
	}))

	assert.Equal(t, "call_transcripts", db.table)
	require.Len(t, db.rows, 1)
	assert.NotEmpty(t, db.rows[0].ID)
	assert.Equal(t, "hi", db.rows[0].Text)
}

func TestInsertTranscriptError(t *testing.T) {
	s := &TranscriptStore{db: &fakeInserter{err: errors.New("boom")}}
	err := s.InsertTranscript(context.Background(), domain.Transcript{})
	assert.ErrorContains(t, err, "boom")
}

func TestNewRequiresConfig(t *testing.T) {
	_, err := New(Config{APIKey: "k"})
	assert.Error(t, err)
	_, err = New(Config{URL: "https://x.supabase.co"})
	assert.Error(t, err)
}
