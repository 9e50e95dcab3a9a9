// Package devicetest provides an in-memory device for tests.
package devicetest

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/septivank/pppoe-provisioning-worker/internal/db"
	"github.com/septivank/pppoe-provisioning-worker/internal/device"
)

var _ device.Adapter = (*Fake)(nil)

// Fake is a device holding credentials, profiles and sessions in maps. It
// honours find-before-mutate and lets tests inject an error per operation
// name, e.g. "credential.add" or "profile.set".
type Fake struct {
	mu          sync.Mutex
	credentials map[string]device.Credential
	profiles    map[string]device.Profile
	sessions    map[string]device.Session
	fail        map[string]error
	calls       []string
}

// New returns an empty device
func New() *Fake {
	return &Fake{
		credentials: map[string]device.Credential{},
		profiles:    map[string]device.Profile{},
		sessions:    map[string]device.Session{},
		fail:        map[string]error{},
	}
}

// ForDevice implements device.Provider by returning f for every descriptor
func (f *Fake) ForDevice(*db.Device) (device.Adapter, error) {
	return f, nil
}

// FailOn makes op return err until cleared with a nil err
func (f *Fake) FailOn(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.fail, op)
		return
	}
	f.fail[op] = err
}

// PutCredential seeds a credential
func (f *Fake) PutCredential(c device.Credential) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.credentials[c.Name] = c
}

// PutProfile seeds a profile
func (f *Fake) PutProfile(p device.Profile) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.profiles[p.Name] = p
}

// PutSession seeds an active session
func (f *Fake) PutSession(s device.Session) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[s.Name] = s
}

// Credential returns the stored credential
func (f *Fake) Credential(name string) (device.Credential, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.credentials[name]
	return c, ok
}

// Profile returns the stored profile
func (f *Fake) Profile(name string) (device.Profile, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.profiles[name]
	return p, ok
}

// Calls returns the operations invoked so far
func (f *Fake) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *Fake) enter(op string) error {
	f.calls = append(f.calls, op)
	return f.fail[op]
}

func missing(op, name string) error {
	return &device.Error{Op: op, Kind: device.ErrObjectNotFound, Err: fmt.Errorf("no object named %q", name)}
}

func (f *Fake) CreateCredential(_ context.Context, c device.Credential) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("credential.add"); err != nil {
		return err
	}
	if _, ok := f.credentials[c.Name]; ok {
		return &device.Error{Op: "credential.add", Kind: device.ErrCommandFailed, Err: fmt.Errorf("already have user %q", c.Name)}
	}
	if c.Service == "" {
		c.Service = device.ServicePPPoE
	}
	f.credentials[c.Name] = c
	return nil
}

func (f *Fake) UpdateCredential(_ context.Context, name string, c device.Credential) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("credential.set"); err != nil {
		return err
	}
	current, ok := f.credentials[name]
	if !ok {
		return missing("credential.set", name)
	}
	if c.Name == "" {
		c.Name = name
	}
	c.Disabled = current.Disabled
	delete(f.credentials, name)
	f.credentials[c.Name] = c
	return nil
}

func (f *Fake) DeleteCredential(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("credential.remove"); err != nil {
		return err
	}
	if _, ok := f.credentials[name]; !ok {
		return missing("credential.remove", name)
	}
	delete(f.credentials, name)
	return nil
}

func (f *Fake) EnableCredential(_ context.Context, name string) error {
	return f.setDisabled("credential.enable", name, false)
}

func (f *Fake) DisableCredential(_ context.Context, name string) error {
	return f.setDisabled("credential.disable", name, true)
}

func (f *Fake) setDisabled(op, name string, disabled bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(op); err != nil {
		return err
	}
	c, ok := f.credentials[name]
	if !ok {
		return missing(op, name)
	}
	c.Disabled = disabled
	f.credentials[name] = c
	return nil
}

func (f *Fake) CreateProfile(_ context.Context, p device.Profile) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("profile.add"); err != nil {
		return err
	}
	if _, ok := f.profiles[p.Name]; ok {
		return &device.Error{Op: "profile.add", Kind: device.ErrCommandFailed, Err: fmt.Errorf("profile %q exists", p.Name)}
	}
	f.profiles[p.Name] = p
	return nil
}

func (f *Fake) UpdateProfile(_ context.Context, name string, p device.Profile) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("profile.set"); err != nil {
		return err
	}
	if _, ok := f.profiles[name]; !ok {
		return missing("profile.set", name)
	}
	if p.Name == "" {
		p.Name = name
	}
	delete(f.profiles, name)
	f.profiles[p.Name] = p
	return nil
}

func (f *Fake) DeleteProfile(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("profile.remove"); err != nil {
		return err
	}
	if _, ok := f.profiles[name]; !ok {
		return missing("profile.remove", name)
	}
	delete(f.profiles, name)
	return nil
}

func (f *Fake) FindActiveSession(_ context.Context, name string) (*device.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("session.find"); err != nil {
		return nil, err
	}
	s, ok := f.sessions[name]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (f *Fake) ListCredentials(context.Context) ([]device.Credential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("credential.print"); err != nil {
		return nil, err
	}
	out := make([]device.Credential, 0, len(f.credentials))
	for _, c := range f.credentials {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (f *Fake) ListProfiles(context.Context) ([]device.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("profile.print"); err != nil {
		return nil, err
	}
	out := make([]device.Profile, 0, len(f.profiles))
	for _, p := range f.profiles {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
