package config

import (
	"fmt"
	"time"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"

	MediaTransportLocal   = "local"
	MediaTransportDiscord = "discord"
)

type Config struct {
	Env        string
	HTTPAddr   string
	InstanceID string

	StoreDriver string
	DatabaseURL string
	RedisURL    string

	MediaTransport            string
	DiscordToken              string
	DiscordGuildID            string
	DiscordVoiceCategoryID    string
	DiscordModeratorChannelID string

	ClassifierSpeechEnabled    bool
	GoogleCloudProjectID       string
	GoogleCloudCredentialsJSON string
	GoogleCloudSpeechLocation  string
	GoogleCloudSpeechModel     string
	DefaultTranscribeLanguage  string

	EmergencyWebhookURL string

	LobbyLeadMin           int
	DefaultDurationMin     int
	DefaultMaxParticipants int
	ReactionTTLSec         int
	HandRaiseTTLMin        int
	TelemetryStaleSec      int

	SafetyAutoEscalation  bool
	SafetyFailClosed      bool
	ClassifierTimeoutMS   int
	ClassifierMaxAttempts int
	ReportRatePerMin      int
}

func (c *Config) Validate() error {
	for _, req := range c.requiredFieldChecks() {
		if req.value == "" {
			return fmt.Errorf("%s is required", req.name)
		}
	}
	switch c.StoreDriver {
	case StoreDriverPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORE_DRIVER=%s", StoreDriverPostgres)
		}
	case StoreDriverMemory:
	default:
		return fmt.Errorf("STORE_DRIVER must be %q or %q, got %q", StoreDriverPostgres, StoreDriverMemory, c.StoreDriver)
	}
	switch c.MediaTransport {
	case MediaTransportDiscord:
		if c.DiscordToken == "" || c.DiscordGuildID == "" {
			return fmt.Errorf("DISCORD_TOKEN and DISCORD_GUILD_ID are required when MEDIA_TRANSPORT=%s", MediaTransportDiscord)
		}
	case MediaTransportLocal:
	default:
		return fmt.Errorf("MEDIA_TRANSPORT must be %q or %q, got %q", MediaTransportLocal, MediaTransportDiscord, c.MediaTransport)
	}
	if c.DiscordModeratorChannelID != "" && c.DiscordToken == "" {
		return fmt.Errorf("DISCORD_TOKEN is required when DISCORD_MODERATOR_CHANNEL_ID is set")
	}
	if c.ClassifierSpeechEnabled {
		if c.GoogleCloudProjectID == "" || c.GoogleCloudCredentialsJSON == "" {
			return fmt.Errorf("GOOGLE_CLOUD_PROJECT_ID and GOOGLE_CLOUD_CREDENTIALS_JSON are required when CLASSIFIER_SPEECH_ENABLED=true")
		}
	}
	for _, p := range c.positiveFieldChecks() {
		if p.value <= 0 {
			return fmt.Errorf("%s must be positive, got %d", p.name, p.value)
		}
	}
	return nil
}

type requiredEnvField struct {
	name  string
	value string
}

func (c *Config) requiredFieldChecks() []requiredEnvField {
	return []requiredEnvField{
		{name: "HTTP_ADDR", value: c.HTTPAddr},
		{name: "INSTANCE_ID", value: c.InstanceID},
		{name: "DEFAULT_TRANSCRIBE_LANGUAGE", value: c.DefaultTranscribeLanguage},
	}
}

type positiveEnvField struct {
	name  string
	value int
}

func (c *Config) positiveFieldChecks() []positiveEnvField {
	return []positiveEnvField{
		{name: "LOBBY_LEAD_MIN", value: c.LobbyLeadMin},
		{name: "DEFAULT_DURATION_MIN", value: c.DefaultDurationMin},
		{name: "DEFAULT_MAX_PARTICIPANTS", value: c.DefaultMaxParticipants},
		{name: "REACTION_TTL_SEC", value: c.ReactionTTLSec},
		{name: "HAND_RAISE_TTL_MIN", value: c.HandRaiseTTLMin},
		{name: "TELEMETRY_STALE_SEC", value: c.TelemetryStaleSec},
		{name: "CLASSIFIER_TIMEOUT_MS", value: c.ClassifierTimeoutMS},
		{name: "CLASSIFIER_MAX_ATTEMPTS", value: c.ClassifierMaxAttempts},
		{name: "REPORT_RATE_PER_MIN", value: c.ReportRatePerMin},
	}
}

func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func (c *Config) LobbyLead() time.Duration {
	return time.Duration(c.LobbyLeadMin) * time.Minute
}

func (c *Config) ReactionTTL() time.Duration {
	return time.Duration(c.ReactionTTLSec) * time.Second
}

func (c *Config) HandRaiseTTL() time.Duration {
	return time.Duration(c.HandRaiseTTLMin) * time.Minute
}

func (c *Config) TelemetryStaleAfter() time.Duration {
	return time.Duration(c.TelemetryStaleSec) * time.Second
}

func (c *Config) ClassifierTimeout() time.Duration {
	return time.Duration(c.ClassifierTimeoutMS) * time.Millisecond
}
