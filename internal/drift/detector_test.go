package drift

import (
	"testing"

	"github.com/septivank/pppoe-provisioning-worker/internal/db"
	"github.com/septivank/pppoe-provisioning-worker/internal/device"
)

func TestDetectProfile(t *testing.T) {
	local := &db.BandwidthProfile{
		Name:                  "plan-10M",
		UploadBitsPerSecond:   5_000_000,
		DownloadBitsPerSecond: 10_000_000,
		SessionTimeoutSeconds: 86400,
	}

	tests := []struct {
		name    string
		remote  device.Profile
		drifted bool
	}{
		{"in sync", device.Profile{RateLimit: "5M/10M", SessionTimeout: "1d"}, false},
		{"burst ignored", device.Profile{RateLimit: "5M/10M 8M/15M", SessionTimeout: "1d"}, false},
		{"same value other unit", device.Profile{RateLimit: "5000k/10M", SessionTimeout: "24h"}, false},
		{"rate changed", device.Profile{RateLimit: "5M/20M", SessionTimeout: "1d"}, true},
		{"timeout changed", device.Profile{RateLimit: "5M/10M", SessionTimeout: "12h"}, true},
		{"unparsable rate", device.Profile{RateLimit: "fast", SessionTimeout: "1d"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			drifted, reason := DetectProfile(local, tt.remote)
			if drifted != tt.drifted {
				t.Errorf("DetectProfile() drifted = %v, want %v (reason %q)", drifted, tt.drifted, reason)
			}
			if drifted && reason == "" {
				t.Error("DetectProfile() returned no reason for drift")
			}
		})
	}
}

func TestDetectProfile_TruncatedLocalValueIsNotDrift(t *testing.T) {
	local := &db.BandwidthProfile{UploadBitsPerSecond: 1_500_000, DownloadBitsPerSecond: 1_500_000}

	if drifted, reason := DetectProfile(local, device.Profile{RateLimit: "1M/1M"}); drifted {
		t.Errorf("DetectProfile() reported drift for truncated rate: %s", reason)
	}
}
