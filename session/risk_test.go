package session

import (
	"testing"
	"time"
)

var businessHours = time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)

func TestRiskScoreSignals(t *testing.T) {
	engine := NewRiskEngine(RiskWeights{})
	trusted := &Device{ID: "d1", Trusted: true}
	untrusted := &Device{ID: "d2"}

	tests := []struct {
		name      string
		ip        string
		device    *Device
		userAgent string
		at        time.Time
		want      float64
	}{
		{
			name:      "fully trusted context",
			ip:        "192.168.1.10",
			device:    trusted,
			userAgent: "Mozilla/5.0",
			at:        businessHours,
			want:      0,
		},
		{
			name:      "public network",
			ip:        "203.0.113.5",
			device:    trusted,
			userAgent: "Mozilla/5.0",
			at:        businessHours,
			want:      0.2,
		},
		{
			name:      "unknown device",
			ip:        "192.168.1.10",
			device:    nil,
			userAgent: "Mozilla/5.0",
			at:        businessHours,
			want:      0.2,
		},
		{
			name:      "untrusted device",
			ip:        "192.168.1.10",
			device:    untrusted,
			userAgent: "Mozilla/5.0",
			at:        businessHours,
			want:      0.1,
		},
		{
			name:      "bot user agent",
			ip:        "192.168.1.10",
			device:    trusted,
			userAgent: "python-requests/2.31",
			at:        businessHours,
			want:      0.4,
		},
		{
			name:      "empty user agent counts as bot-like",
			ip:        "192.168.1.10",
			device:    trusted,
			userAgent: "",
			at:        businessHours,
			want:      0.4,
		},
		{
			name:      "off hours",
			ip:        "192.168.1.10",
			device:    trusted,
			userAgent: "Mozilla/5.0",
			at:        time.Date(2026, 3, 10, 3, 0, 0, 0, time.UTC),
			want:      0.1,
		},
		{
			name:      "everything bad clamps to 1",
			ip:        "203.0.113.5",
			device:    nil,
			userAgent: "curl/8.0",
			at:        time.Date(2026, 3, 10, 3, 0, 0, 0, time.UTC),
			want:      0.9,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := engine.Score(tt.ip, tt.device, tt.userAgent, tt.at)
			if diff := got - tt.want; diff > 1e-9 || diff < -1e-9 {
				t.Errorf("Score() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestScoreNeverExceedsOne(t *testing.T) {
	engine := NewRiskEngine(RiskWeights{
		PublicNetwork: 0.9,
		UnknownDevice: 0.9,
		BotUserAgent:  0.9,
		OffHours:      0.9,
		OffHoursStart: 6,
		OffHoursEnd:   22,
	})

	got := engine.Score("203.0.113.5", nil, "wget/1.21", time.Date(2026, 3, 10, 2, 0, 0, 0, time.UTC))
	if got != 1.0 {
		t.Errorf("Score() = %v, want clamped 1.0", got)
	}
}

func TestUnparseableIPIsPublic(t *testing.T) {
	engine := NewRiskEngine(RiskWeights{})
	got := engine.Score("not-an-ip", &Device{Trusted: true}, "Mozilla/5.0", businessHours)
	if got != 0.2 {
		t.Errorf("Score() with bad IP = %v, want public-network weight 0.2", got)
	}
}
