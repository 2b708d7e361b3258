package classifier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"cloud.google.com/go/auth/credentials"
	speech "cloud.google.com/go/speech/apiv2"
	speechpb "cloud.google.com/go/speech/apiv2/speechpb"
	"github.com/foxseedlab/sanctuary/internal/apperr"
	"github.com/foxseedlab/sanctuary/internal/audio"
	"github.com/foxseedlab/sanctuary/internal/classifier"
	"github.com/googleapis/gax-go/v2"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const speechAPIEndpointPort = 443

type CloudSpeechConfig struct {
	ProjectID       string
	CredentialsJSON string
	Language        string
	Location        string
	Model           string
}

type recognizer interface {
	Recognize(ctx context.Context, req *speechpb.RecognizeRequest, opts ...gax.CallOption) (*speechpb.RecognizeResponse, error)
}

// SpeechClassifier transcribes audio samples with Cloud Speech-to-Text and
// scores the transcript with the keyword rules. Text samples skip recognition.
type SpeechClassifier struct {
	client          recognizer
	recognizer      string
	model           string
	defaultLanguage string
	newDecoder      audio.DecoderFactory
	keywords        *KeywordClassifier
	closeFn         func() error
}

func NewSpeechClassifier(ctx context.Context, cfg CloudSpeechConfig, newDecoder audio.DecoderFactory) (*SpeechClassifier, error) {
	location := strings.TrimSpace(cfg.Location)
	if location == "" {
		location = "global"
	}
	creds, err := credentials.DetectDefault(&credentials.DetectOptions{
		CredentialsJSON: []byte(cfg.CredentialsJSON),
		Scopes:          []string{"https://www.googleapis.com/auth/cloud-platform"},
	})
	if err != nil {
		return nil, fmt.Errorf("detect credentials: %w", err)
	}

	opts := []option.ClientOption{
		option.WithAuthCredentials(creds),
	}
	if location != "global" {
		opts = append(opts, option.WithEndpoint(fmt.Sprintf("%s-speech.googleapis.com:%d", location, speechAPIEndpointPort)))
	}
	client, err := speech.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create speech client: %w", err)
	}
	slog.Info("cloud speech classifier initialized", "location", location, "model", cfg.Model)

	c := newSpeechClassifier(client, cfg, location, newDecoder)
	c.closeFn = client.Close
	return c, nil
}

func newSpeechClassifier(client recognizer, cfg CloudSpeechConfig, location string, newDecoder audio.DecoderFactory) *SpeechClassifier {
	return &SpeechClassifier{
		client:          client,
		recognizer:      fmt.Sprintf("projects/%s/locations/%s/recognizers/_", cfg.ProjectID, location),
		model:           strings.TrimSpace(cfg.Model),
		defaultLanguage: cfg.Language,
		newDecoder:      newDecoder,
		keywords:        NewKeywordClassifier(),
	}
}

func (c *SpeechClassifier) Classify(ctx context.Context, sessionID, participantID string, sample classifier.Sample) (classifier.Result, error) {
	text := sample.Text
	if len(sample.Audio) > 0 {
		transcript, err := c.transcribe(ctx, sample)
		if err != nil {
			return classifier.Result{}, err
		}
		slog.Debug("audio sample transcribed", "session_id", sessionID, "participant_id", participantID, "chars", len(transcript))
		text = strings.TrimSpace(text + " " + transcript)
	}
	return c.keywords.score(text), nil
}

func (c *SpeechClassifier) transcribe(ctx context.Context, sample classifier.Sample) (string, error) {
	pcm, err := audio.DecodePackets(c.newDecoder, sample.Audio)
	if err != nil {
		if errors.Is(err, audio.ErrDecoderUnavailable) {
			return "", apperr.Wrap(apperr.KindUnavailable, "audio decoding is not available", err)
		}
		return "", apperr.Wrap(apperr.KindValidation, "audio sample could not be decoded", err)
	}
	if len(pcm) == 0 {
		return "", nil
	}

	language := sample.Language
	if language == "" {
		language = c.defaultLanguage
	}
	resp, err := c.client.Recognize(ctx, &speechpb.RecognizeRequest{
		Recognizer: c.recognizer,
		Config: &speechpb.RecognitionConfig{
			Model:         c.model,
			LanguageCodes: []string{language},
			DecodingConfig: &speechpb.RecognitionConfig_ExplicitDecodingConfig{
				ExplicitDecodingConfig: &speechpb.ExplicitDecodingConfig{
					Encoding:          speechpb.ExplicitDecodingConfig_LINEAR16,
					SampleRateHertz:   audio.SampleRate,
					AudioChannelCount: audio.Channels,
				},
			},
			Features: &speechpb.RecognitionFeatures{},
		},
		AudioSource: &speechpb.RecognizeRequest_Content{
			Content: audio.LINEAR16(pcm),
		},
	})
	if err != nil {
		if status.Code(err) == codes.InvalidArgument {
			return "", apperr.Wrap(apperr.KindValidation, "audio sample was rejected by the recognizer", err)
		}
		return "", fmt.Errorf("recognize: %w", err)
	}

	var parts []string
	for _, result := range resp.GetResults() {
		if len(result.GetAlternatives()) == 0 {
			continue
		}
		parts = append(parts, result.GetAlternatives()[0].GetTranscript())
	}
	return strings.Join(parts, " "), nil
}

func (c *SpeechClassifier) Close() error {
	if c.closeFn == nil {
		return nil
	}
	return c.closeFn()
}
