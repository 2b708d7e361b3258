package classifier

import (
	"context"

	"github.com/foxseedlab/sanctuary/internal/audio"
	"github.com/foxseedlab/sanctuary/internal/classifier"
	"github.com/foxseedlab/sanctuary/internal/config"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (classifier.Classifier, error) {
		c := do.MustInvoke[*config.Config](i)
		if !c.ClassifierSpeechEnabled {
			return NewKeywordClassifier(), nil
		}
		return NewSpeechClassifier(context.Background(), CloudSpeechConfig{
			ProjectID:       c.GoogleCloudProjectID,
			CredentialsJSON: c.GoogleCloudCredentialsJSON,
			Language:        c.DefaultTranscribeLanguage,
			Location:        c.GoogleCloudSpeechLocation,
			Model:           c.GoogleCloudSpeechModel,
		}, do.MustInvoke[audio.DecoderFactory](i))
	})
}
