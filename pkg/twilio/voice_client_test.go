package twilio

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	api "github.com/twilio/twilio-go/rest/api/v2010"
)

type fakeCallAPI struct {
	mu      sync.Mutex
	updates map[string]*api.UpdateCallParams
	creates []*api.CreateCallParams
	err     error
	block   chan struct{}
}

func (f *fakeCallAPI) UpdateCall(sid string, params *api.UpdateCallParams) (*api.ApiV2010Call, error) {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updates == nil {
		f.updates = make(map[string]*api.UpdateCallParams)
	}
	f.updates[sid] = params
	return &api.ApiV2010Call{}, f.err
}

func (f *fakeCallAPI) CreateCall(params *api.CreateCallParams) (*api.ApiV2010Call, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates = append(f.creates, params)
	sid := "CA-new"
	return &api.ApiV2010Call{Sid: &sid}, f.err
}

var testCfg = VoiceConfig{
	FromNumber:        "+1000",
	HumanAgentNumber:  "+1222",
	MediaStreamURL:    "wss://bridge.example.com/media-stream",
	StatusCallbackURL: "https://bridge.example.com/call-status",
}

func TestVoiceClient_DisabledWithoutCredentials(t *testing.T) {
	c := NewVoiceClient(VoiceConfig{})
	ctx := context.Background()

	assert.False(t, c.Enabled())
	assert.ErrorIs(t, c.Transfer(ctx, "CA1"), ErrDisabled)
	assert.ErrorIs(t, c.Hangup(ctx, "CA1"), ErrDisabled)
	assert.ErrorIs(t, c.Dial(ctx, "+1999", ""), ErrDisabled)
}

func TestVoiceClient_TransferUsesDialTwiML(t *testing.T) {
	fake := &fakeCallAPI{}
	c := newVoiceClientWithAPI(fake, testCfg)

	require.NoError(t, c.Transfer(context.Background(), "CA1"))

	params := fake.updates["CA1"]
	require.NotNil(t, params)
	require.NotNil(t, params.Twiml)
	assert.Contains(t, *params.Twiml, "<Dial")
	assert.Contains(t, *params.Twiml, "+1222")
	assert.Contains(t, *params.Twiml, TransferMessage)
}

func TestVoiceClient_HangupCompletesCall(t *testing.T) {
	fake := &fakeCallAPI{}
	c := newVoiceClientWithAPI(fake, testCfg)

	require.NoError(t, c.Hangup(context.Background(), "CA1"))
	require.NotNil(t, fake.updates["CA1"].Status)
	assert.Equal(t, "completed", *fake.updates["CA1"].Status)
}

func TestVoiceClient_PlaceCall(t *testing.T) {
	fake := &fakeCallAPI{}
	c := newVoiceClientWithAPI(fake, testCfg)

	sid, err := c.PlaceCall(context.Background(), "+1999", "")
	require.NoError(t, err)
	assert.Equal(t, "CA-new", sid)

	require.Len(t, fake.creates, 1)
	p := fake.creates[0]
	assert.Equal(t, "+1999", *p.To)
	assert.Equal(t, "+1000", *p.From)
	assert.Equal(t, testCfg.StatusCallbackURL, *p.StatusCallback)
	assert.Contains(t, *p.Twiml, testCfg.MediaStreamURL)
}

func TestVoiceClient_ErrorsAndTimeouts(t *testing.T) {
	fake := &fakeCallAPI{err: errors.New("20404 not found")}
	c := newVoiceClientWithAPI(fake, testCfg)
	assert.ErrorContains(t, c.Hangup(context.Background(), "CA1"), "20404")

	slow := &fakeCallAPI{block: make(chan struct{})}
	defer close(slow.block)
	c = newVoiceClientWithAPI(slow, testCfg)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, c.Transfer(ctx, "CA1"), context.DeadlineExceeded)
}

func TestStreamTwiML(t *testing.T) {
	body, err := StreamTwiML("wss://bridge.example.com/media-stream", map[string]string{"callSid": "CA1", "empty": ""})
	require.NoError(t, err)

	assert.Contains(t, body, "<Connect>")
	assert.Contains(t, body, `url="wss://bridge.example.com/media-stream"`)
	assert.Contains(t, body, `name="callSid"`)
	assert.Contains(t, body, `value="CA1"`)
	assert.NotContains(t, body, "empty")
}
