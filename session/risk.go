package session

import (
	"net/netip"
	"strings"
	"time"
)

// RiskWeights are the per-signal increments of the additive risk model.
// The defaults are starting points expected to be tuned per deployment,
// not calibrated constants.
type RiskWeights struct {
	PublicNetwork   float64
	UnknownDevice   float64
	UntrustedDevice float64
	BotUserAgent    float64
	OffHours        float64

	// UTC hours outside of which the OffHours increment applies.
	OffHoursStart int
	OffHoursEnd   int
}

// DefaultRiskWeights returns the platform defaults.
func DefaultRiskWeights() RiskWeights {
	return RiskWeights{
		PublicNetwork:   0.2,
		UnknownDevice:   0.2,
		UntrustedDevice: 0.1,
		BotUserAgent:    0.4,
		OffHours:        0.1,
		OffHoursStart:   6,
		OffHoursEnd:     22,
	}
}

var botUserAgentMarkers = []string{"bot", "crawler", "spider", "scraper", "curl", "wget", "python"}

// RiskEngine computes a bounded [0,1] risk score for a prospective or
// active session. Stateless; Score is a pure function of its inputs.
type RiskEngine struct {
	weights RiskWeights
}

// NewRiskEngine creates a RiskEngine. Zero-valued weights fall back to the
// defaults.
func NewRiskEngine(weights RiskWeights) *RiskEngine {
	if weights == (RiskWeights{}) {
		weights = DefaultRiskWeights()
	}
	return &RiskEngine{weights: weights}
}

// Score combines network origin, device trust, user-agent heuristics, and
// time-of-day into one additive score clamped to [0,1]. A fully trusted
// context scores near 0; an all-bad context scores near 1.
func (r *RiskEngine) Score(ip string, device *Device, userAgent string, at time.Time) float64 {
	score := 0.0

	if !privateOrigin(ip) {
		score += r.weights.PublicNetwork
	}

	switch {
	case device == nil:
		score += r.weights.UnknownDevice
	case !device.Trusted:
		score += r.weights.UntrustedDevice
	}

	if botLikeUserAgent(userAgent) {
		score += r.weights.BotUserAgent
	}

	hour := at.UTC().Hour()
	if hour < r.weights.OffHoursStart || hour >= r.weights.OffHoursEnd {
		score += r.weights.OffHours
	}

	return clamp01(score)
}

func privateOrigin(ip string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	return addr.IsPrivate() || addr.IsLoopback()
}

func botLikeUserAgent(userAgent string) bool {
	if userAgent == "" {
		return true
	}
	lowered := strings.ToLower(userAgent)
	for _, marker := range botUserAgentMarkers {
		if strings.Contains(lowered, marker) {
			return true
		}
	}
	return false
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
