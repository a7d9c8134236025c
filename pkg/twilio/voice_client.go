package twilio

import (
	"context"
	"errors"
	"fmt"

	"github.com/GenuineGenius999/VPS-Hosting-Twilio-AI-Caller/pkg/logger"
	"github.com/twilio/twilio-go"
	api "github.com/twilio/twilio-go/rest/api/v2010"
	"go.uber.org/zap"
)

// ErrDisabled is returned when Twilio credentials are not configured.
var ErrDisabled = errors.New("twilio voice client is disabled")

// VoiceConfig holds the account credentials and the numbers calls use.
type VoiceConfig struct {
	AccountSID        string
	AuthToken         string
	FromNumber        string
	HumanAgentNumber  string
	MediaStreamURL    string
	StatusCallbackURL string
}

// callAPI is the subset of the Twilio REST API the client uses.
type callAPI interface {
	UpdateCall(sid string, params *api.UpdateCallParams) (*api.ApiV2010Call, error)
	CreateCall(params *api.CreateCallParams) (*api.ApiV2010Call, error)
}

// VoiceClient controls live calls through the Twilio REST API: transfers to a
// human, hang-ups and outbound dials.
type VoiceClient struct {
	api     callAPI
	cfg     VoiceConfig
	enabled bool
}

// NewVoiceClient creates a client. With missing credentials every call
// returns ErrDisabled.
func NewVoiceClient(cfg VoiceConfig) *VoiceClient {
	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		logger.Base().Warn("Twilio credentials not provided, call control disabled")
		return &VoiceClient{cfg: cfg}
	}

	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return &VoiceClient{api: client.Api, cfg: cfg, enabled: true}
}

func newVoiceClientWithAPI(a callAPI, cfg VoiceConfig) *VoiceClient {
	return &VoiceClient{api: a, cfg: cfg, enabled: true}
}

// Enabled reports whether credentials were configured.
func (c *VoiceClient) Enabled() bool {
	return c.enabled
}

// Transfer redirects a live call to the human agent number.
func (c *VoiceClient) Transfer(ctx context.Context, callSID string) error {
	if !c.enabled {
		return ErrDisabled
	}
	if c.cfg.HumanAgentNumber == "" {
		return errors.New("human agent number not configured")
	}

	body, err := TransferTwiML(c.cfg.HumanAgentNumber, c.cfg.FromNumber)
	if err != nil {
		return err
	}

	params := &api.UpdateCallParams{}
	params.SetTwiml(body)
	if err := c.do(ctx, func() error {
		_, err := c.api.UpdateCall(callSID, params)
		return err
	}); err != nil {
		return fmt.Errorf("failed to transfer call %s: %w", callSID, err)
	}

	logger.Base().Info("Call transferred to human agent", zap.String("call_sid", callSID))
	return nil
}

// Hangup completes a live call.
func (c *VoiceClient) Hangup(ctx context.Context, callSID string) error {
	if !c.enabled {
		return ErrDisabled
	}

	params := &api.UpdateCallParams{}
	params.SetStatus("completed")
	if err := c.do(ctx, func() error {
		_, err := c.api.UpdateCall(callSID, params)
		return err
	}); err != nil {
		return fmt.Errorf("failed to hang up call %s: %w", callSID, err)
	}

	logger.Base().Info("Call hung up", zap.String("call_sid", callSID))
	return nil
}

// Dial places an outbound call that streams into the bridge. An empty from
// uses the configured caller id.
func (c *VoiceClient) Dial(ctx context.Context, to, from string) error {
	_, err := c.PlaceCall(ctx, to, from)
	return err
}

// PlaceCall is Dial that also returns the new call sid.
func (c *VoiceClient) PlaceCall(ctx context.Context, to, from string) (string, error) {
	if !c.enabled {
		return "", ErrDisabled
	}
	if from == "" {
		from = c.cfg.FromNumber
	}

	// the session treats the remote party as the caller and our number as the company line
	body, err := StreamTwiML(c.cfg.MediaStreamURL, map[string]string{"from": to, "to": from})
	if err != nil {
		return "", err
	}

	params := &api.CreateCallParams{}
	params.SetTo(to)
	params.SetFrom(from)
	params.SetTwiml(body)
	if c.cfg.StatusCallbackURL != "" {
		params.SetStatusCallback(c.cfg.StatusCallbackURL)
		params.SetStatusCallbackMethod("POST")
		params.SetStatusCallbackEvent([]string{"initiated", "ringing", "answered", "completed"})
	}

	var sid string
	if err := c.do(ctx, func() error {
		call, err := c.api.CreateCall(params)
		if err != nil {
			return err
		}
		if call != nil && call.Sid != nil {
			sid = *call.Sid
		}
		return nil
	}); err != nil {
		return "", fmt.Errorf("failed to place call to %s: %w", to, err)
	}

	logger.Base().Info("Outbound call placed", zap.String("to", to), zap.String("call_sid", sid))
	return sid, nil
}

// do runs a blocking REST call, giving up when ctx ends first.
func (c *VoiceClient) do(ctx context.Context, fn func() error) error {
	done := make(chan error, 1)
	go func() { done <- fn() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
