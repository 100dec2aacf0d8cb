// Package fraud scores newly referred accounts for bot-driven referral abuse.
package fraud

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
)

// Weights for the composite score; they are expected to sum to 1
type Weights struct {
	Velocity         float64 `toml:"velocity"`
	Entropy          float64 `toml:"entropy"`
	EmailPattern     float64 `toml:"email_pattern"`
	MetadataMismatch float64 `toml:"metadata_mismatch"`
}

// Policy holds every tunable the scorer reads
type Policy struct {
	Window            time.Duration `toml:"window"`
	VelocityHardLimit int           `toml:"velocity_hard_limit"`
	NamingMinPrefix   int           `toml:"naming_min_prefix"`
	NamingScore       float64       `toml:"naming_score"`
	Threshold         float64       `toml:"threshold"`

	VelocityMidpoint  float64 `toml:"velocity_midpoint"`
	VelocitySteepness float64 `toml:"velocity_steepness"`
	EntropyHigh       float64 `toml:"entropy_high"`
	EntropyMedium     float64 `toml:"entropy_medium"`

	Weights Weights `toml:"weights"`
}

// DefaultPolicy returns the built-in scoring policy
func DefaultPolicy() Policy {
	return Policy{
		Window:            30 * time.Minute,
		VelocityHardLimit: 5,
		NamingMinPrefix:   4,
		NamingScore:       0.9,
		Threshold:         0.65,
		VelocityMidpoint:  3,
		VelocitySteepness: 1.5,
		EntropyHigh:       3.8,
		EntropyMedium:     3.0,
		Weights: Weights{
			Velocity:         0.5,
			Entropy:          0.2,
			EmailPattern:     0.15,
			MetadataMismatch: 0.15,
		},
	}
}

// LoadPolicy decodes a TOML file over the defaults, so a file only needs the keys it changes
func LoadPolicy(path string) (Policy, error) {
	policy := DefaultPolicy()
	if _, err := toml.DecodeFile(path, &policy); err != nil {
		return Policy{}, fmt.Errorf("decode fraud policy %s: %w", path, err)
	}
	if err := policy.Validate(); err != nil {
		return Policy{}, fmt.Errorf("fraud policy %s: %w", path, err)
	}
	return policy, nil
}

func (p Policy) Validate() error {
	if p.Window <= 0 {
		return fmt.Errorf("window must be positive")
	}
	if p.VelocityHardLimit <= 0 {
		return fmt.Errorf("velocity_hard_limit must be positive")
	}
	if p.NamingMinPrefix <= 0 {
		return fmt.Errorf("naming_min_prefix must be positive")
	}
	if p.Threshold <= 0 || p.Threshold > 1 {
		return fmt.Errorf("threshold must be in (0, 1]")
	}
	if p.EntropyMedium > p.EntropyHigh {
		return fmt.Errorf("entropy_medium must not exceed entropy_high")
	}
	w := p.Weights
	for name, v := range map[string]float64{
		"velocity": w.Velocity, "entropy": w.Entropy,
		"email_pattern": w.EmailPattern, "metadata_mismatch": w.MetadataMismatch,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("weight %s must be in [0, 1]", name)
		}
	}
	return nil
}
