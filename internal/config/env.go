package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// LoadCallerConfig reads the bridge configuration from the environment.
func LoadCallerConfig() *CallerConfig {
	timing := DefaultTimingConfig()
	timing.GreetingDelay = getEnvAsMillis("GREETING_DELAY_MS", timing.GreetingDelay)
	timing.SpeechSettle = getEnvAsMillis("SPEECH_SETTLE_MS", timing.SpeechSettle)
	timing.BargeInGrace = getEnvAsMillis("BARGE_IN_GRACE_MS", timing.BargeInGrace)
	timing.SilenceTimeout = getEnvAsSeconds("SILENCE_TIMEOUT_SECONDS", timing.SilenceTimeout)
	timing.MaxCallDuration = getEnvAsSeconds("MAX_CALL_DURATION_SECONDS", timing.MaxCallDuration)
	timing.MaxFallbacks = getEnvAsInt("MAX_FALLBACKS", timing.MaxFallbacks)
	timing.MaxFunctionCalls = getEnvAsInt("MAX_FUNCTION_CALLS", timing.MaxFunctionCalls)

	return &CallerConfig{
		Port:       getEnv("PORT", "5050"),
		PublicHost: getEnv("PUBLIC_HOST", "localhost:5050"),
		InstanceID: getEnv("INSTANCE_ID", instanceID()),
		EnableCORS: getEnvAsBool("ENABLE_CORS", true),

		OpenAIAPIKey:       getEnv("OPENAI_API_KEY", ""),
		RealtimeURL:        getEnv("OPENAI_REALTIME_URL", DefaultRealtimeURL),
		Model:              getEnv("OPENAI_MODEL", DefaultModel),
		Voice:              getEnv("OPENAI_VOICE", DefaultVoice),
		SystemInstructions: getEnv("SYSTEM_INSTRUCTIONS", ""),

		TwilioAccountSID: getEnv("TWILIO_ACCOUNT_SID", ""),
		TwilioAuthToken:  getEnv("TWILIO_AUTH_TOKEN", ""),
		TwilioFromNumber: getEnv("TWILIO_FROM_NUMBER", ""),
		HumanAgentNumber: getEnv("HUMAN_AGENT_NUMBER", ""),

		Timing: timing,

		RetryDelay:       getEnvAsSeconds("RETRY_DELAY_SECONDS", DefaultRetryDelay),
		RetryMaxAttempts: getEnvAsInt("RETRY_MAX_ATTEMPTS", DefaultRetryMaxAttempts),

		RedisHost:     getEnv("REDIS_HOST", ""),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),

		PersistenceDriver: strings.ToLower(getEnv("PERSISTENCE_DRIVER", PersistenceDriverNone)),
		SupabaseURL:       getEnv("SUPABASE_URL", ""),
		SupabaseKey:       getEnv("SUPABASE_KEY", ""),

		RegistrationBaseURL:  getEnv("REGISTRATION_BASE_URL", ""),
		RegistrationUsername: getEnv("REGISTRATION_USERNAME", ""),
		RegistrationPassword: getEnv("REGISTRATION_PASSWORD", ""),

		ObserverJWTSecret: getEnv("OBSERVER_JWT_SECRET", ""),

		PubSubProjectID:     getEnv("PUBSUB_PROJECT_ID", ""),
		PubSubTopic:         getEnv("PUBSUB_TOPIC", "call-summaries"),
		TranscriptBucket:    getEnv("GCS_TRANSCRIPT_BUCKET", ""),
		TaskQueueWorkers:    getEnvAsInt("TASK_QUEUE_WORKERS", 4),
		TaskQueueCapacity:   getEnvAsInt("TASK_QUEUE_CAPACITY", 256),
		TaskTimeout:         getEnvAsSeconds("TASK_TIMEOUT_SECONDS", 10*time.Second),
		ObserverMessageRate: getEnvAsFloat("OBSERVER_MESSAGE_RATE", 5),
	}
}

// instanceID prefers the hostname (pod name in Kubernetes).
func instanceID() string {
	if hostname, err := os.Hostname(); err == nil && hostname != "" {
		return hostname
	}
	return fmt.Sprintf("voicebridge-%d", time.Now().UnixNano())
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as an integer with a default value
func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvAsBool gets an environment variable as a boolean with a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvAsMillis(key string, defaultValue time.Duration) time.Duration {
	if ms := getEnvAsInt(key, -1); ms >= 0 {
		return time.Duration(ms) * time.Millisecond
	}
	return defaultValue
}

func getEnvAsSeconds(key string, defaultValue time.Duration) time.Duration {
	if s := getEnvAsInt(key, -1); s >= 0 {
		return time.Duration(s) * time.Second
	}
	return defaultValue
}
