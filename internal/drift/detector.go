// Package drift spots local profiles whose device mirror no longer matches.
package drift

import (
	"fmt"
	"strings"

	"github.com/septivank/pppoe-provisioning-worker/internal/db"
	"github.com/septivank/pppoe-provisioning-worker/internal/device"
	"github.com/septivank/pppoe-provisioning-worker/tools/units"
)

// DetectProfile reports whether the device's copy of a profile disagrees
// with the local row on rate limit or session timeout, and why.
// Rates are compared in device notation, so a local value the device can only
// hold truncated is not reported.
func DetectProfile(local *db.BandwidthProfile, remote device.Profile) (bool, string) {
	var reasons []string

	upload, download, _ := units.ParseRateLimit(remote.RateLimit)
	want := units.FormatRateLimit(local.UploadBitsPerSecond, local.DownloadBitsPerSecond)
	if got := units.FormatRateLimit(upload, download); got != want {
		reasons = append(reasons, fmt.Sprintf("rate-limit device=%s local=%s", got, want))
	}

	timeout, _ := units.ParseDuration(remote.SessionTimeout)
	if timeout != local.SessionTimeoutSeconds {
		reasons = append(reasons, fmt.Sprintf("session-timeout device=%s local=%s",
			units.FormatDuration(timeout), units.FormatDuration(local.SessionTimeoutSeconds)))
	}

	if len(reasons) == 0 {
		return false, ""
	}
	return true, strings.Join(reasons, "; ")
}
