package config

import (
	"time"
)

const (
	// Realtime model defaults
	DefaultRealtimeURL = "wss://api.openai.com/v1/realtime"
	DefaultModel       = "gpt-4o-realtime-preview-2024-10-01"
	DefaultVoice       = "alloy"
	DefaultAudioFormat = "g711_ulaw"

	// Connection Constants
	DefaultConnectionTimeout = 30 * time.Second

	// Turn-taking timings
	DefaultGreetingDelay   = 500 * time.Millisecond
	DefaultSpeechSettle    = 300 * time.Millisecond
	DefaultBargeInGrace    = 400 * time.Millisecond
	DefaultSilenceTimeout  = 10 * time.Second
	DefaultMaxCallDuration = 10 * time.Minute

	// Escalation thresholds
	DefaultMaxFallbacks     = 3
	DefaultMaxFunctionCalls = 8

	// Retry scheduler
	DefaultRetryDelay       = 10 * time.Second
	DefaultRetryMaxAttempts = 3

	// Persistence drivers
	PersistenceDriverPostgres = "postgres"
	PersistenceDriverSupabase = "supabase"
	PersistenceDriverNone     = "none"
)

// CallerConfig holds everything the bridge needs at runtime.
type CallerConfig struct {
	Port       string
	PublicHost string
	InstanceID string
	EnableCORS bool

	// Realtime model
	OpenAIAPIKey       string
	RealtimeURL        string
	Model              string
	Voice              string
	SystemInstructions string

	// Twilio
	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioFromNumber string
	HumanAgentNumber string

	Timing TimingConfig

	// Retry scheduler
	RetryDelay       time.Duration
	RetryMaxAttempts int

	// Redis
	RedisHost     string
	RedisPort     string
	RedisPassword string

	// Persistence
	PersistenceDriver string
	SupabaseURL       string
	SupabaseKey       string

	// Registration side API
	RegistrationBaseURL  string
	RegistrationUsername string
	RegistrationPassword string

	// Observer auth
	ObserverJWTSecret string

	// Summary export
	PubSubProjectID     string
	PubSubTopic         string
	TranscriptBucket    string
	TaskQueueWorkers    int
	TaskQueueCapacity   int
	TaskTimeout         time.Duration
	ObserverMessageRate float64
}

// TimingConfig carries the per-call timer windows and escalation limits.
type TimingConfig struct {
	GreetingDelay    time.Duration
	SpeechSettle     time.Duration
	BargeInGrace     time.Duration
	SilenceTimeout   time.Duration
	MaxCallDuration  time.Duration
	MaxFallbacks     int
	MaxFunctionCalls int
}

// DefaultTimingConfig returns the production timer windows.
func DefaultTimingConfig() TimingConfig {
	return TimingConfig{
		GreetingDelay:    DefaultGreetingDelay,
		SpeechSettle:     DefaultSpeechSettle,
		BargeInGrace:     DefaultBargeInGrace,
		SilenceTimeout:   DefaultSilenceTimeout,
		MaxCallDuration:  DefaultMaxCallDuration,
		MaxFallbacks:     DefaultMaxFallbacks,
		MaxFunctionCalls: DefaultMaxFunctionCalls,
	}
}

// MediaStreamURL is the websocket URL Twilio connects back to.
func (c *CallerConfig) MediaStreamURL() string {
	return "wss://" + c.PublicHost + "/media-stream"
}

// StatusCallbackURL is the webhook Twilio posts call status changes to.
func (c *CallerConfig) StatusCallbackURL() string {
	return "https://" + c.PublicHost + "/call-status"
}
