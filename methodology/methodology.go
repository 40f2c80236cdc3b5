// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package methodology

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"

	"github.com/danielhkuo/runoff/models"
	"github.com/danielhkuo/runoff/privacy"
)

// TrendDisclaimer accompanies every unofficial result.
const TrendDisclaimer = "unofficial, may not reflect full electorate"

// Methodology is the published rule set a replay needs alongside the
// ballot dataset. It is loaded once at startup and never changes while
// polls are open.
type Methodology struct {
	Method     string         `yaml:"method" json:"method"`
	Disclaimer string         `yaml:"trend_disclaimer" json:"trend_disclaimer"`
	Privacy    PrivacyConfig  `yaml:"privacy" json:"privacy"`
	Trend      TrendConfig    `yaml:"trend" json:"trend"`
	Realtime   RealtimeConfig `yaml:"realtime" json:"realtime"`
}

type PrivacyConfig struct {
	Thresholds      privacy.Thresholds `yaml:"k" json:"k"`
	EpsilonPerQuery float64            `yaml:"epsilon_per_query" json:"epsilon_per_query"`
	EpsilonBudget   float64            `yaml:"epsilon_budget" json:"epsilon_budget"`
}

// TrendConfig sets when a post-close leader may be called "leading".
type TrendConfig struct {
	Window        time.Duration `yaml:"window" json:"window"`
	MinWindows    int           `yaml:"min_windows" json:"min_windows"`
	MinNewBallots int           `yaml:"min_new_ballots" json:"min_new_ballots"`
}

type RealtimeConfig struct {
	RingSize          int           `yaml:"ring_size" json:"ring_size"`
	Interval          time.Duration `yaml:"interval" json:"interval"`
	FastInterval      time.Duration `yaml:"fast_interval" json:"fast_interval"`
	VelocityThreshold float64       `yaml:"velocity_threshold" json:"velocity_threshold"` // ballots per second
	SubscriberBuffer  int           `yaml:"subscriber_buffer" json:"subscriber_buffer"`
}

// Default returns the methodology used when no file is configured.
func Default() Methodology {
	return Methodology{
		Method:     models.MethodIRV,
		Disclaimer: TrendDisclaimer,
		Privacy: PrivacyConfig{
			Thresholds:      privacy.DefaultThresholds(),
			EpsilonPerQuery: 0.1,
			EpsilonBudget:   1.0,
		},
		Trend: TrendConfig{
			Window:        5 * time.Minute,
			MinWindows:    3,
			MinNewBallots: 50,
		},
		Realtime: RealtimeConfig{
			RingSize:          32,
			Interval:          time.Second,
			FastInterval:      250 * time.Millisecond,
			VelocityThreshold: 50,
			SubscriberBuffer:  64,
		},
	}
}

// Load reads a YAML methodology file over the defaults.
func Load(path string) (Methodology, error) {
	m := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return Methodology{}, fmt.Errorf("read methodology %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Methodology{}, fmt.Errorf("parse methodology %s: %w", path, err)
	}
	return m, m.Validate()
}

// Validate checks that values are usable.
func (m Methodology) Validate() error {
	if m.Method != models.MethodIRV {
		return fmt.Errorf("unsupported method %q", m.Method)
	}
	if strings.TrimSpace(m.Disclaimer) == "" {
		return fmt.Errorf("trend_disclaimer must not be empty")
	}
	t := m.Privacy.Thresholds
	if t.Public < t.Authenticated || t.Authenticated < t.Internal || t.Internal < 1 {
		return fmt.Errorf("k thresholds must satisfy public >= authenticated >= internal >= 1")
	}
	if m.Privacy.EpsilonPerQuery <= 0 || m.Privacy.EpsilonBudget <= 0 {
		return fmt.Errorf("epsilon values must be > 0")
	}
	if m.Trend.Window <= 0 || m.Trend.MinWindows < 1 || m.Trend.MinNewBallots < 0 {
		return fmt.Errorf("trend window, min_windows and min_new_ballots must be positive")
	}
	if m.Realtime.RingSize < 1 || m.Realtime.Interval <= 0 || m.Realtime.FastInterval <= 0 {
		return fmt.Errorf("realtime ring_size and intervals must be > 0")
	}
	if m.Realtime.SubscriberBuffer < 1 {
		return fmt.Errorf("realtime subscriber_buffer must be > 0")
	}
	return nil
}

// Disclose builds the methodology block attached to a published result.
func (m Methodology) Disclose(official bool, sampleSize int, at time.Time, tieBreak string) models.Disclosure {
	d := models.Disclosure{
		Method:         m.Method,
		SampleSize:     sampleSize,
		SampleSizeText: humanize.Comma(int64(sampleSize)) + " " + plural(sampleSize, "ballot"),
		Timestamp:      at.UTC(),
		Official:       official,
		Badge:          models.BadgeOfficial,
		TieBreak:       tieBreak,
	}
	if !official {
		d.Badge = models.BadgeUnofficial
		d.Disclaimer = m.Disclaimer
	}
	return d
}

func plural(n int, word string) string {
	if n == 1 {
		return word
	}
	return word + "s"
}
