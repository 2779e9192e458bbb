package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// ErrInvalidGating is returned when a gating document fails validation
var ErrInvalidGating = errors.New("invalid gating config")

// GatingConfig holds the trade gating thresholds. It is loaded once at startup
// and must not be mutated afterwards.
type GatingConfig struct {
	MinConfidence        float64  `yaml:"min_confidence" json:"min_confidence" default:"0.618" validate:"gte=0,lte=1"`
	MinCoherence         float64  `yaml:"min_coherence" json:"min_coherence" default:"0.5" validate:"gte=0,lte=1"`
	MinStability         float64  `yaml:"min_stability" json:"min_stability" default:"0" validate:"gte=0,lte=1"`
	MaxPositionFraction  float64  `yaml:"max_position_fraction" json:"max_position_fraction" default:"0.25" validate:"gte=0,lte=1"`
	MaxTradesPerDay      int      `yaml:"max_trades_per_day" json:"max_trades_per_day" default:"50" validate:"gte=0"`
	MaxDailyLossFraction float64  `yaml:"max_daily_loss_fraction" json:"max_daily_loss_fraction" default:"0.03" validate:"gte=0,lte=1"`
	AllowedExchanges     []string `yaml:"allowed_exchanges" json:"allowed_exchanges" validate:"dive,required"`

	// Losing-streak breaker, 0 disables
	MaxConsecutiveLosses int           `yaml:"max_consecutive_losses" json:"max_consecutive_losses" default:"0" validate:"gte=0"`
	LossCooldown         time.Duration `yaml:"loss_cooldown" json:"loss_cooldown" default:"30m" validate:"gte=0"`
}

var validate = validator.New()

// LoadGating reads and validates a YAML gating document
func LoadGating(path string) (*GatingConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read gating config: %w", err)
	}
	return ParseGating(b)
}

// ParseGating parses a YAML gating document. Missing keys take their defaults.
func ParseGating(data []byte) (*GatingConfig, error) {
	var c GatingConfig
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("gating defaults: %w", err)
	}
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse gating config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	c.normalize()
	return &c, nil
}

// DefaultGating returns a GatingConfig with every default applied
func DefaultGating() *GatingConfig {
	var c GatingConfig
	_ = defaults.Set(&c)
	return &c
}

// Validate checks thresholds are within range
func (c *GatingConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidGating, err)
	}
	return nil
}

// ExchangeAllowed reports whether exchange is on the allow-list (case-insensitive)
func (c *GatingConfig) ExchangeAllowed(exchange string) bool {
	for _, e := range c.AllowedExchanges {
		if strings.EqualFold(e, exchange) {
			return true
		}
	}
	return false
}

func (c *GatingConfig) normalize() {
	for i, e := range c.AllowedExchanges {
		c.AllowedExchanges[i] = strings.ToLower(strings.TrimSpace(e))
	}
}
