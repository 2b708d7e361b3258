package classifier

import (
	"context"
	"errors"
	"testing"

	speechpb "cloud.google.com/go/speech/apiv2/speechpb"
	"github.com/foxseedlab/sanctuary/internal/apperr"
	"github.com/foxseedlab/sanctuary/internal/audio"
	"github.com/foxseedlab/sanctuary/internal/classifier"
	"github.com/foxseedlab/sanctuary/internal/repository"
	"github.com/googleapis/gax-go/v2"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type mockRecognizer struct {
	transcript string
	err        error
	requests   []*speechpb.RecognizeRequest
}

func (m *mockRecognizer) Recognize(_ context.Context, req *speechpb.RecognizeRequest, _ ...gax.CallOption) (*speechpb.RecognizeResponse, error) {
	m.requests = append(m.requests, req)
	if m.err != nil {
		return nil, m.err
	}
	return &speechpb.RecognizeResponse{
		Results: []*speechpb.SpeechRecognitionResult{
			{Alternatives: []*speechpb.SpeechRecognitionAlternative{{Transcript: m.transcript}}},
			{},
		},
	}, nil
}

type mockDecoder struct {
	err error
}

func (d mockDecoder) Decode(packet []byte) ([]int16, error) {
	if d.err != nil {
		return nil, d.err
	}
	return make([]int16, audio.FrameSamples), nil
}

func decoderFactory(err error) audio.DecoderFactory {
	return func() (audio.Decoder, error) { return mockDecoder{err: err}, nil }
}

func newTestSpeech(rec *mockRecognizer, factory audio.DecoderFactory) *SpeechClassifier {
	return newSpeechClassifier(rec, CloudSpeechConfig{ProjectID: "proj", Language: "en-US", Model: "long"}, "global", factory)
}

func TestSpeechClassifier_TranscribesAudio(t *testing.T) {
	rec := &mockRecognizer{transcript: "I want to die"}
	c := newTestSpeech(rec, decoderFactory(nil))

	res, err := c.Classify(context.Background(), "s", "p", classifier.Sample{Audio: [][]byte{{0x01}, {0x02}}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.IsFlagged || res.Severity != repository.SeverityCritical {
		t.Fatalf("unexpected result: %+v", res)
	}
	if len(rec.requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(rec.requests))
	}
	req := rec.requests[0]
	if req.GetRecognizer() != "projects/proj/locations/global/recognizers/_" {
		t.Fatalf("unexpected recognizer: %s", req.GetRecognizer())
	}
	if got := req.GetConfig().GetLanguageCodes(); len(got) != 1 || got[0] != "en-US" {
		t.Fatalf("unexpected languages: %v", got)
	}
	if got := len(req.GetContent()); got != 2*audio.FrameSamples*2 {
		t.Fatalf("unexpected content length: %d", got)
	}
}

func TestSpeechClassifier_TextSkipsRecognition(t *testing.T) {
	rec := &mockRecognizer{}
	c := newTestSpeech(rec, decoderFactory(nil))

	res, err := c.Classify(context.Background(), "s", "p", classifier.Sample{Text: "you're pathetic"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.IsFlagged || res.Severity != repository.SeverityMedium {
		t.Fatalf("unexpected result: %+v", res)
	}
	if len(rec.requests) != 0 {
		t.Fatalf("expected no recognition, got %d", len(rec.requests))
	}
}

func TestSpeechClassifier_Errors(t *testing.T) {
	t.Run("undecodable audio is a validation error", func(t *testing.T) {
		c := newTestSpeech(&mockRecognizer{}, decoderFactory(errors.New("corrupt")))
		_, err := c.Classify(context.Background(), "s", "p", classifier.Sample{Audio: [][]byte{{0x01}}})
		if !errors.Is(err, apperr.ErrValidation) {
			t.Fatalf("expected validation error, got %v", err)
		}
	})
	t.Run("missing decoder is unavailable", func(t *testing.T) {
		factory := func() (audio.Decoder, error) { return nil, audio.ErrDecoderUnavailable }
		c := newTestSpeech(&mockRecognizer{}, factory)
		_, err := c.Classify(context.Background(), "s", "p", classifier.Sample{Audio: [][]byte{{0x01}}})
		if !errors.Is(err, apperr.ErrUnavailable) {
			t.Fatalf("expected unavailable error, got %v", err)
		}
	})
	t.Run("rejected audio is a validation error", func(t *testing.T) {
		rejected := status.Error(codes.InvalidArgument, "bad encoding")
		c := newTestSpeech(&mockRecognizer{err: rejected}, decoderFactory(nil))
		_, err := c.Classify(context.Background(), "s", "p", classifier.Sample{Audio: [][]byte{{0x01}}})
		if !errors.Is(err, apperr.ErrValidation) {
			t.Fatalf("expected validation error, got %v", err)
		}
	})
	t.Run("recognition failure is returned", func(t *testing.T) {
		boom := errors.New("deadline exceeded")
		c := newTestSpeech(&mockRecognizer{err: boom}, decoderFactory(nil))
		_, err := c.Classify(context.Background(), "s", "p", classifier.Sample{Audio: [][]byte{{0x01}}})
		if !errors.Is(err, boom) {
			t.Fatalf("expected recognition error, got %v", err)
		}
	})
}
