package simscore

// Weights assigns a relative importance to each compared field. Weights do
// not need to sum to exactly 1.0 — the composite score is renormalized over
// the fields actually present on both records — but the defaults do.
type Weights struct {
	Email   float64 `yaml:"email" json:"email"`
	Company float64 `yaml:"company" json:"company"`
	Name    float64 `yaml:"name" json:"name"`
	Phone   float64 `yaml:"phone" json:"phone"`
	Domain  float64 `yaml:"domain" json:"domain"`
}

// Thresholds are the lower bounds of each confidence band. They are tunable
// configuration, not calibrated constants: the defaults come straight from
// operator experience and should be adjusted per entity type if matches are
// too noisy or too strict.
type Thresholds struct {
	Exact  float64 `yaml:"exact" json:"exact"`
	High   float64 `yaml:"high" json:"high"`
	Medium float64 `yaml:"medium" json:"medium"`
	Low    float64 `yaml:"low" json:"low"`
}

// Config configures a Scorer.
type Config struct {
	Weights    Weights    `yaml:"weights" json:"weights"`
	Thresholds Thresholds `yaml:"thresholds" json:"thresholds"`
}

func (c *Config) defaults() {
	if c.Weights == (Weights{}) {
		c.Weights = Weights{
			Email:   0.35,
			Company: 0.25,
			Name:    0.20,
			Phone:   0.15,
			Domain:  0.05,
		}
	}
	if c.Thresholds == (Thresholds{}) {
		c.Thresholds = Thresholds{
			Exact:  1.0,
			High:   0.85,
			Medium: 0.70,
			Low:    0.50,
		}
	}
}
