// Package device talks to PPPoE access concentrators. Every call opens its
// own connection, authenticates, runs, and closes the connection before
// returning; nothing is pooled.
package device

import (
	"context"

	"github.com/septivank/pppoe-provisioning-worker/internal/db"
)

// ServicePPPoE is the service type of every credential this worker manages
const ServicePPPoE = "pppoe"

// Credential is the device-side shape of a PPPoE secret
type Credential struct {
	Name     string
	Secret   string
	Profile  string
	Service  string
	Comment  string
	Disabled bool
}

// Profile is the device-side shape of a bandwidth profile. RateLimit and
// SessionTimeout are kept in device notation; see tools/units.
type Profile struct {
	Name           string
	RateLimit      string
	SessionTimeout string
	Comment        string
	Disabled       bool
}

// Session is one entry of the device's active PPPoE session table
type Session struct {
	Name         string
	Address      string
	LocalAddress string
	CallerID     string
	Uptime       string
	Service      string
}

// Adapter is the capability set shared by both wire protocols.
// Update, Delete, Enable and Disable look the object up by name first and
// fail with ErrObjectNotFound rather than mutating blindly.
type Adapter interface {
	CreateCredential(ctx context.Context, c Credential) error
	UpdateCredential(ctx context.Context, name string, c Credential) error
	DeleteCredential(ctx context.Context, name string) error
	EnableCredential(ctx context.Context, name string) error
	DisableCredential(ctx context.Context, name string) error

	CreateProfile(ctx context.Context, p Profile) error
	UpdateProfile(ctx context.Context, name string, p Profile) error
	DeleteProfile(ctx context.Context, name string) error

	// FindActiveSession returns nil when no session is active for name.
	FindActiveSession(ctx context.Context, name string) (*Session, error)

	ListCredentials(ctx context.Context) ([]Credential, error)
	ListProfiles(ctx context.Context) ([]Profile, error)
}

// Provider hands out an Adapter for a device descriptor
type Provider interface {
	ForDevice(d *db.Device) (Adapter, error)
}
