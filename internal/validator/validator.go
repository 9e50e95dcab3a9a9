package validator

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/septivank/pppoe-provisioning-worker/internal/db"
	"github.com/septivank/pppoe-provisioning-worker/tools/units"
)

// MaxNameLength bounds profile names so they fit device object names
const MaxNameLength = 64

// ValidationResult holds validation outcome
type ValidationResult struct {
	IsValid bool
	Reason  string
}

func invalid(format string, args ...any) ValidationResult {
	return ValidationResult{IsValid: false, Reason: fmt.Sprintf(format, args...)}
}

// ProfileFields is a profile as typed by an operator, in device notation
type ProfileFields struct {
	Name           string
	Download       string
	Upload         string
	SessionTimeout string
}

// ProfileValues is a profile converted to canonical units
type ProfileValues struct {
	Name                  string
	DownloadBitsPerSecond int64
	UploadBitsPerSecond   int64
	SessionTimeoutSeconds int64
}

// Validator checks operator input before it reaches the database or a device
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateProfileName checks that name can be used as a device object name
func (v *Validator) ValidateProfileName(name string) ValidationResult {
	if strings.TrimSpace(name) == "" {
		return invalid("empty profile name")
	}
	if name != strings.TrimSpace(name) {
		return invalid("profile name has leading or trailing spaces")
	}
	if utf8.RuneCountInString(name) > MaxNameLength {
		return invalid("profile name longer than %d characters", MaxNameLength)
	}
	for _, r := range name {
		if unicode.IsControl(r) || r == '"' {
			return invalid("profile name contains %q", r)
		}
	}
	return ValidationResult{IsValid: true}
}

// ValidateProfileValues checks a profile already in canonical units
func (v *Validator) ValidateProfileValues(p ProfileValues) ValidationResult {
	if r := v.ValidateProfileName(p.Name); !r.IsValid {
		return r
	}
	if p.DownloadBitsPerSecond <= 0 || p.UploadBitsPerSecond <= 0 {
		return invalid("download and upload rates must be positive")
	}
	if p.SessionTimeoutSeconds < 0 {
		return invalid("negative session timeout")
	}
	return ValidationResult{IsValid: true}
}

// ParseProfile converts operator input to canonical units. Unlike the
// importer, malformed rates are rejected rather than defaulted to zero.
func (v *Validator) ParseProfile(f ProfileFields) (ProfileValues, ValidationResult) {
	values := ProfileValues{Name: f.Name}

	var err error
	if values.DownloadBitsPerSecond, err = units.ParseBandwidth(f.Download); err != nil {
		return ProfileValues{}, invalid("invalid download rate: %v", err)
	}
	if values.UploadBitsPerSecond, err = units.ParseBandwidth(f.Upload); err != nil {
		return ProfileValues{}, invalid("invalid upload rate: %v", err)
	}
	if values.SessionTimeoutSeconds, err = units.ParseDuration(f.SessionTimeout); err != nil {
		return ProfileValues{}, invalid("invalid session timeout: %v", err)
	}

	return values, v.ValidateProfileValues(values)
}

// ParseStatus checks that s names a contract status
func (v *Validator) ParseStatus(s string) (db.ContractStatus, ValidationResult) {
	status := db.ContractStatus(strings.ToUpper(strings.TrimSpace(s)))
	if !status.Valid() {
		return "", invalid("unknown contract status %q", s)
	}
	return status, ValidationResult{IsValid: true}
}
