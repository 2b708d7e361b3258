package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
	internalconfig "github.com/foxseedlab/sanctuary/internal/config"
)

type envConfig struct {
	Env        string `env:"ENV" envDefault:"production"`
	HTTPAddr   string `env:"HTTP_ADDR" envDefault:":8080"`
	InstanceID string `env:"INSTANCE_ID" envDefault:"sanctuaryd"`

	StoreDriver string `env:"STORE_DRIVER" envDefault:"postgres"`
	DatabaseURL string `env:"DATABASE_URL"`
	RedisURL    string `env:"REDIS_URL"`

	MediaTransport            string `env:"MEDIA_TRANSPORT" envDefault:"local"`
	DiscordToken              string `env:"DISCORD_TOKEN"`
	DiscordGuildID            string `env:"DISCORD_GUILD_ID"`
	DiscordVoiceCategoryID    string `env:"DISCORD_VOICE_CATEGORY_ID"`
	DiscordModeratorChannelID string `env:"DISCORD_MODERATOR_CHANNEL_ID"`

	ClassifierSpeechEnabled    bool   `env:"CLASSIFIER_SPEECH_ENABLED" envDefault:"false"`
	GoogleCloudProjectID       string `env:"GOOGLE_CLOUD_PROJECT_ID"`
	GoogleCloudCredentialsJSON string `env:"GOOGLE_CLOUD_CREDENTIALS_JSON"`
	GoogleCloudSpeechLocation  string `env:"GOOGLE_CLOUD_SPEECH_LOCATION" envDefault:"asia-northeast1"`
	GoogleCloudSpeechModel     string `env:"GOOGLE_CLOUD_SPEECH_MODEL" envDefault:"chirp_3"`
	DefaultTranscribeLanguage  string `env:"DEFAULT_TRANSCRIBE_LANGUAGE" envDefault:"ja-JP"`

	EmergencyWebhookURL string `env:"EMERGENCY_WEBHOOK_URL"`

	LobbyLeadMin           int `env:"LOBBY_LEAD_MIN" envDefault:"10"`
	DefaultDurationMin     int `env:"DEFAULT_DURATION_MIN" envDefault:"60"`
	DefaultMaxParticipants int `env:"DEFAULT_MAX_PARTICIPANTS" envDefault:"12"`
	ReactionTTLSec         int `env:"REACTION_TTL_SEC" envDefault:"5"`
	HandRaiseTTLMin        int `env:"HAND_RAISE_TTL_MIN" envDefault:"10"`
	TelemetryStaleSec      int `env:"TELEMETRY_STALE_SEC" envDefault:"10"`

	SafetyAutoEscalation  bool `env:"SAFETY_AUTO_ESCALATION" envDefault:"true"`
	SafetyFailClosed      bool `env:"SAFETY_FAIL_CLOSED" envDefault:"true"`
	ClassifierTimeoutMS   int  `env:"CLASSIFIER_TIMEOUT_MS" envDefault:"3000"`
	ClassifierMaxAttempts int  `env:"CLASSIFIER_MAX_ATTEMPTS" envDefault:"3"`
	ReportRatePerMin      int  `env:"REPORT_RATE_PER_MIN" envDefault:"6"`
}

func Load() (*internalconfig.Config, error) {
	var raw envConfig
	if err := env.Parse(&raw); err != nil {
		return nil, fmt.Errorf("environment variables are invalid or missing: %w", err)
	}

	cfg := &internalconfig.Config{
		Env:                        raw.Env,
		HTTPAddr:                   raw.HTTPAddr,
		InstanceID:                 raw.InstanceID,
		StoreDriver:                raw.StoreDriver,
		DatabaseURL:                raw.DatabaseURL,
		RedisURL:                   raw.RedisURL,
		MediaTransport:             raw.MediaTransport,
		DiscordToken:               raw.DiscordToken,
		DiscordGuildID:             raw.DiscordGuildID,
		DiscordVoiceCategoryID:     raw.DiscordVoiceCategoryID,
		DiscordModeratorChannelID:  raw.DiscordModeratorChannelID,
		ClassifierSpeechEnabled:    raw.ClassifierSpeechEnabled,
		GoogleCloudProjectID:       raw.GoogleCloudProjectID,
		GoogleCloudCredentialsJSON: raw.GoogleCloudCredentialsJSON,
		GoogleCloudSpeechLocation:  raw.GoogleCloudSpeechLocation,
		GoogleCloudSpeechModel:     raw.GoogleCloudSpeechModel,
		DefaultTranscribeLanguage:  raw.DefaultTranscribeLanguage,
		EmergencyWebhookURL:        raw.EmergencyWebhookURL,
		LobbyLeadMin:               raw.LobbyLeadMin,
		DefaultDurationMin:         raw.DefaultDurationMin,
		DefaultMaxParticipants:     raw.DefaultMaxParticipants,
		ReactionTTLSec:             raw.ReactionTTLSec,
		HandRaiseTTLMin:            raw.HandRaiseTTLMin,
		TelemetryStaleSec:          raw.TelemetryStaleSec,
		SafetyAutoEscalation:       raw.SafetyAutoEscalation,
		SafetyFailClosed:           raw.SafetyFailClosed,
		ClassifierTimeoutMS:        raw.ClassifierTimeoutMS,
		ClassifierMaxAttempts:      raw.ClassifierMaxAttempts,
		ReportRatePerMin:           raw.ReportRatePerMin,
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
