package registry

import (
	"time"

	"github.com/okian/tcgprice/internal/config"
	"github.com/okian/tcgprice/internal/domain/model"
	"github.com/okian/tcgprice/internal/domain/ratelimit"
)

// Settings is the validated, typed view of one source's configuration.
type Settings struct {
	Source  model.SourceID
	Enabled bool
	BaseURL string

	RateCapacity   int
	RefillInterval time.Duration
	LimiterMode    ratelimit.Mode
	MaxWait        time.Duration

	FailureThreshold int
	RecoveryTimeout  time.Duration
	ProbeTimeout     time.Duration

	MaxRetries     int
	BackoffBase    time.Duration
	RequestTimeout time.Duration
	SampleSize     int
}

// SettingsFromConfig converts a config block into Settings.
func SettingsFromConfig(id model.SourceID, sc config.SourceConfig) Settings {
	mode, _ := ratelimit.ParseMode(sc.LimiterMode)
	s := Settings{
		Source:           id,
		Enabled:          sc.Enabled,
		BaseURL:          sc.BaseURL,
		RateCapacity:     sc.RateCapacity,
		RefillInterval:   sc.RefillInterval(),
		LimiterMode:      mode,
		MaxWait:          sc.MaxWait(),
		FailureThreshold: sc.FailureThreshold,
		RecoveryTimeout:  sc.RecoveryTimeout(),
		MaxRetries:       sc.MaxRetries,
		BackoffBase:      sc.BackoffBase(),
		RequestTimeout:   sc.RequestTimeout(),
		SampleSize:       sc.SampleSize,
	}
	s.ProbeTimeout = s.worstCaseCall()
	return s
}

// worstCaseCall bounds one Execute: every attempt timing out plus every backoff
// at its jittered maximum.
func (s Settings) worstCaseCall() time.Duration {
	total := s.RequestTimeout * time.Duration(s.MaxRetries+1)
	for i := 0; i < s.MaxRetries; i++ {
		total += s.BackoffBase*time.Duration(1<<uint(i)) + s.BackoffBase/2
	}
	return total + s.MaxWait*time.Duration(s.MaxRetries+1)
}

// FromConfig returns Settings for every known source in cfg.
func FromConfig(cfg *config.Config) []Settings {
	out := make([]Settings, 0, len(model.AllSources()))
	for _, id := range model.AllSources() {
		out = append(out, SettingsFromConfig(id, *cfg.Sources.Get(id)))
	}
	return out
}
