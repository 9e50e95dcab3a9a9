package device

import (
	"github.com/septivank/pppoe-provisioning-worker/internal/db"
	"github.com/septivank/pppoe-provisioning-worker/tools/units"
)

// ProfileFromLocal renders a local profile in device notation
func ProfileFromLocal(p *db.BandwidthProfile) Profile {
	return Profile{
		Name:           p.Name,
		RateLimit:      units.FormatRateLimit(p.UploadBitsPerSecond, p.DownloadBitsPerSecond),
		SessionTimeout: units.FormatDuration(p.SessionTimeoutSeconds),
		Disabled:       !p.Active,
	}
}

// CredentialFromLocal renders a local credential bound to the named profile
func CredentialFromLocal(c *db.Credential, profileName string) Credential {
	return Credential{
		Name:     c.Username,
		Secret:   c.Secret,
		Profile:  profileName,
		Service:  ServicePPPoE,
		Comment:  c.Comment,
		Disabled: !c.Active,
	}
}
