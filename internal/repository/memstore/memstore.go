// Package memstore is an in-memory repository.Store for tests. Transactions
// run against a copy of the data that replaces the live copy on commit, and
// the unique and foreign-key constraints of the SQL schema are enforced.
// Transactions are serialized; plain calls are not safe to run concurrently
// with a transaction.
package memstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/septivank/pppoe-provisioning-worker/internal/db"
	"github.com/septivank/pppoe-provisioning-worker/internal/repository"
)

var _ repository.Store = (*Store)(nil)

// Store keeps every table in maps
type Store struct {
	*state
	txMu sync.Mutex

	// CommitErr, when set, makes the next commit fail and is then cleared
	CommitErr error
}

// New returns an empty store
func New() *Store {
	return &Store{state: newState()}
}

// WithTx runs fn on a private copy of the data and publishes it when fn
// succeeds
func (s *Store) WithTx(ctx context.Context, fn func(q repository.Queries) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	tx := s.state.clone()
	if err := fn(tx); err != nil {
		return err
	}
	if s.CommitErr != nil {
		err := s.CommitErr
		s.CommitErr = nil
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	s.state = tx
	return nil
}

// AddDevice seeds a device
func (s *Store) AddDevice(d db.Device) { s.devices[d.ID] = d }

// AddCustomer seeds a customer
func (s *Store) AddCustomer(c db.Customer) { s.customers[c.ID] = c }

// AddAddress seeds an address
func (s *Store) AddAddress(a db.Address) { s.addresses[a.ID] = a }

// AddPlan seeds a service plan
func (s *Store) AddPlan(p db.ServicePlan) { s.plans[p.ID] = p }

// AddProfile seeds a profile
func (s *Store) AddProfile(p db.BandwidthProfile) { s.profiles[p.ID] = p }

// AddCredential seeds a credential
func (s *Store) AddCredential(c db.Credential) { s.credentials[c.ID] = c }

// AddContract seeds a contract
func (s *Store) AddContract(c db.Contract) { s.contracts[c.ID] = c }

// Tasks returns every outbox task in insertion order
func (s *Store) Tasks() []db.OutboxTask {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]db.OutboxTask(nil), s.tasks...)
}

// Profiles returns every profile of a device sorted by name
func (s *Store) Profiles(deviceID uuid.UUID) []db.BandwidthProfile {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []db.BandwidthProfile
	for _, p := range s.profiles {
		if p.DeviceID == deviceID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Credentials returns every credential of a device sorted by username
func (s *Store) Credentials(deviceID uuid.UUID) []db.Credential {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []db.Credential
	for _, c := range s.credentials {
		if c.DeviceID == deviceID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out
}

type state struct {
	mu          sync.Mutex
	devices     map[uuid.UUID]db.Device
	customers   map[uuid.UUID]db.Customer
	addresses   map[uuid.UUID]db.Address
	plans       map[uuid.UUID]db.ServicePlan
	profiles    map[uuid.UUID]db.BandwidthProfile
	credentials map[uuid.UUID]db.Credential
	contracts   map[uuid.UUID]db.Contract
	tasks       []db.OutboxTask
}

func newState() *state {
	return &state{
		devices:     map[uuid.UUID]db.Device{},
		customers:   map[uuid.UUID]db.Customer{},
		addresses:   map[uuid.UUID]db.Address{},
		plans:       map[uuid.UUID]db.ServicePlan{},
		profiles:    map[uuid.UUID]db.BandwidthProfile{},
		credentials: map[uuid.UUID]db.Credential{},
		contracts:   map[uuid.UUID]db.Contract{},
	}
}

func (st *state) clone() *state {
	st.mu.Lock()
	defer st.mu.Unlock()

	c := newState()
	for k, v := range st.devices {
		c.devices[k] = v
	}
	for k, v := range st.customers {
		c.customers[k] = v
	}
	for k, v := range st.addresses {
		c.addresses[k] = v
	}
	for k, v := range st.plans {
		c.plans[k] = v
	}
	for k, v := range st.profiles {
		c.profiles[k] = v
	}
	for k, v := range st.credentials {
		c.credentials[k] = v
	}
	for k, v := range st.contracts {
		c.contracts[k] = v
	}
	c.tasks = append(c.tasks, st.tasks...)
	return c
}

func notFound(what string, id any) error {
	return fmt.Errorf("%s %v: %w", what, id, repository.ErrNotFound)
}

func (st *state) GetDevice(_ context.Context, id uuid.UUID) (*db.Device, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	d, ok := st.devices[id]
	if !ok {
		return nil, notFound("device", id)
	}
	return &d, nil
}

func (st *state) GetCustomer(_ context.Context, id uuid.UUID) (*db.Customer, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	c, ok := st.customers[id]
	if !ok {
		return nil, notFound("customer", id)
	}
	return &c, nil
}

func (st *state) UpdateCustomerStatus(_ context.Context, id uuid.UUID, status db.CustomerStatus) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	c, ok := st.customers[id]
	if !ok {
		return notFound("customer", id)
	}
	c.Status = status
	st.customers[id] = c
	return nil
}

func (st *state) GetAddress(_ context.Context, id uuid.UUID) (*db.Address, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	a, ok := st.addresses[id]
	if !ok {
		return nil, notFound("address", id)
	}
	return &a, nil
}

func (st *state) GetServicePlan(_ context.Context, id uuid.UUID) (*db.ServicePlan, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	p, ok := st.plans[id]
	if !ok {
		return nil, notFound("service plan", id)
	}
	return &p, nil
}

func (st *state) GetContract(_ context.Context, id uuid.UUID) (*db.Contract, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	c, ok := st.contracts[id]
	if !ok {
		return nil, notFound("contract", id)
	}
	return &c, nil
}

func (st *state) GetContractForUpdate(ctx context.Context, id uuid.UUID) (*db.Contract, error) {
	return st.GetContract(ctx, id)
}

func (st *state) GetContractByCredential(_ context.Context, credentialID uuid.UUID) (*db.Contract, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	for _, c := range st.contracts {
		if c.CredentialID != nil && *c.CredentialID == credentialID {
			return &c, nil
		}
	}
	return nil, notFound("contract for credential", credentialID)
}

func (st *state) UpdateContractStatus(_ context.Context, id uuid.UUID, status db.ContractStatus) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	c, ok := st.contracts[id]
	if !ok {
		return notFound("contract", id)
	}
	c.Status = status
	c.UpdatedAt = time.Now()
	st.contracts[id] = c
	return nil
}

func (st *state) UpdateContractPlan(_ context.Context, id, planID uuid.UUID) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	c, ok := st.contracts[id]
	if !ok {
		return notFound("contract", id)
	}
	if _, ok := st.plans[planID]; !ok {
		return fmt.Errorf("plan %s: %w", planID, repository.ErrReferenced)
	}
	c.PlanID = planID
	c.UpdatedAt = time.Now()
	st.contracts[id] = c
	return nil
}

func (st *state) AttachCredential(_ context.Context, contractID, credentialID uuid.UUID) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	c, ok := st.contracts[contractID]
	if !ok || c.CredentialID != nil {
		return repository.ErrAlreadyAttached
	}
	if _, ok := st.credentials[credentialID]; !ok {
		return fmt.Errorf("credential %s: %w", credentialID, repository.ErrReferenced)
	}
	for _, other := range st.contracts {
		if other.CredentialID != nil && *other.CredentialID == credentialID {
			return fmt.Errorf("credential %s: %w", credentialID, repository.ErrDuplicate)
		}
	}
	id := credentialID
	c.CredentialID = &id
	c.UpdatedAt = time.Now()
	st.contracts[contractID] = c
	return nil
}

func (st *state) GetProfile(_ context.Context, id uuid.UUID) (*db.BandwidthProfile, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	p, ok := st.profiles[id]
	if !ok {
		return nil, notFound("profile", id)
	}
	return &p, nil
}

func (st *state) FindProfileByName(_ context.Context, deviceID uuid.UUID, name string) (*db.BandwidthProfile, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	for _, p := range st.profiles {
		if p.DeviceID == deviceID && p.Name == name {
			return &p, nil
		}
	}
	return nil, notFound("profile", name)
}

func (st *state) profileNameTaken(p *db.BandwidthProfile) bool {
	for _, other := range st.profiles {
		if other.ID != p.ID && other.DeviceID == p.DeviceID && other.Name == p.Name {
			return true
		}
	}
	return false
}

func (st *state) InsertProfile(_ context.Context, p *db.BandwidthProfile) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if _, ok := st.devices[p.DeviceID]; !ok {
		return fmt.Errorf("device %s: %w", p.DeviceID, repository.ErrReferenced)
	}
	if _, ok := st.profiles[p.ID]; ok || st.profileNameTaken(p) {
		return fmt.Errorf("profile %q: %w", p.Name, repository.ErrDuplicate)
	}
	p.CreatedAt = time.Now()
	p.UpdatedAt = p.CreatedAt
	st.profiles[p.ID] = *p
	return nil
}

func (st *state) UpdateProfile(_ context.Context, p *db.BandwidthProfile) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	current, ok := st.profiles[p.ID]
	if !ok {
		return notFound("profile", p.ID)
	}
	if st.profileNameTaken(p) {
		return fmt.Errorf("profile %q: %w", p.Name, repository.ErrDuplicate)
	}
	p.DeviceID = current.DeviceID
	p.CreatedAt = current.CreatedAt
	p.UpdatedAt = time.Now()
	st.profiles[p.ID] = *p
	return nil
}

func (st *state) DeleteProfile(_ context.Context, id uuid.UUID) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	if _, ok := st.profiles[id]; !ok {
		return notFound("profile", id)
	}
	for _, c := range st.credentials {
		if c.ProfileID == id {
			return fmt.Errorf("profile %s used by credential %s: %w", id, c.Username, repository.ErrReferenced)
		}
	}
	for _, p := range st.plans {
		if p.ProfileID == id {
			return fmt.Errorf("profile %s used by plan %s: %w", id, p.Name, repository.ErrReferenced)
		}
	}
	delete(st.profiles, id)
	return nil
}

func (st *state) GetCredential(_ context.Context, id uuid.UUID) (*db.Credential, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	c, ok := st.credentials[id]
	if !ok {
		return nil, notFound("credential", id)
	}
	return &c, nil
}

func (st *state) FindCredentialByUsername(_ context.Context, deviceID uuid.UUID, username string) (*db.Credential, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	for _, c := range st.credentials {
		if c.DeviceID == deviceID && c.Username == username {
			return &c, nil
		}
	}
	return nil, notFound("credential", username)
}

func (st *state) InsertCredential(_ context.Context, c *db.Credential) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if _, ok := st.devices[c.DeviceID]; !ok {
		return fmt.Errorf("device %s: %w", c.DeviceID, repository.ErrReferenced)
	}
	if _, ok := st.profiles[c.ProfileID]; !ok {
		return fmt.Errorf("profile %s: %w", c.ProfileID, repository.ErrReferenced)
	}
	if _, ok := st.credentials[c.ID]; ok {
		return fmt.Errorf("credential %s: %w", c.ID, repository.ErrDuplicate)
	}
	for _, other := range st.credentials {
		if other.DeviceID == c.DeviceID && other.Username == c.Username {
			return fmt.Errorf("credential %q: %w", c.Username, repository.ErrDuplicate)
		}
	}
	c.CreatedAt = time.Now()
	st.credentials[c.ID] = *c
	return nil
}

func (st *state) UpdateCredentialSecret(_ context.Context, id uuid.UUID, secret string) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	c, ok := st.credentials[id]
	if !ok {
		return notFound("credential", id)
	}
	c.Secret = secret
	st.credentials[id] = c
	return nil
}

func (st *state) UpdateCredentialProfile(_ context.Context, id, profileID uuid.UUID) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	c, ok := st.credentials[id]
	if !ok {
		return notFound("credential", id)
	}
	if _, ok := st.profiles[profileID]; !ok {
		return fmt.Errorf("profile %s: %w", profileID, repository.ErrReferenced)
	}
	c.ProfileID = profileID
	st.credentials[id] = c
	return nil
}

func (st *state) TouchCredentialSeen(_ context.Context, id uuid.UUID, at time.Time) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	c, ok := st.credentials[id]
	if !ok {
		return notFound("credential", id)
	}
	c.LastSeenOnline = &at
	st.credentials[id] = c
	return nil
}

func (st *state) DeleteCredential(_ context.Context, id uuid.UUID) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	if _, ok := st.credentials[id]; !ok {
		return notFound("credential", id)
	}
	for _, c := range st.contracts {
		if c.CredentialID != nil && *c.CredentialID == id {
			return fmt.Errorf("credential %s used by contract %s: %w", id, c.ID, repository.ErrReferenced)
		}
	}
	delete(st.credentials, id)
	return nil
}

func (st *state) EnqueueTask(_ context.Context, task *db.OutboxTask) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	if task.ID == uuid.Nil {
		task.ID = uuid.New()
	}
	if task.Kind == "" {
		return errors.New("task kind is required")
	}
	task.CreatedAt = time.Now()
	st.tasks = append(st.tasks, *task)
	return nil
}

func (st *state) PendingTasks(_ context.Context, limit int) ([]db.OutboxTask, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	var out []db.OutboxTask
	for _, t := range st.tasks {
		if t.DispatchedAt == nil {
			out = append(out, t)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (st *state) MarkTaskDispatched(_ context.Context, id uuid.UUID, at time.Time) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	for i := range st.tasks {
		if st.tasks[i].ID == id && st.tasks[i].DispatchedAt == nil {
			st.tasks[i].DispatchedAt = &at
		}
	}
	return nil
}
