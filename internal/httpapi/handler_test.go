package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/septivank/pppoe-provisioning-worker/internal/db"
	"github.com/septivank/pppoe-provisioning-worker/internal/device"
	"github.com/septivank/pppoe-provisioning-worker/internal/device/devicetest"
	"github.com/septivank/pppoe-provisioning-worker/internal/importer"
	"github.com/septivank/pppoe-provisioning-worker/internal/lock"
	"github.com/septivank/pppoe-provisioning-worker/internal/outbox"
	"github.com/septivank/pppoe-provisioning-worker/internal/repository"
	"github.com/septivank/pppoe-provisioning-worker/internal/repository/memstore"
	"github.com/septivank/pppoe-provisioning-worker/internal/service"
	"github.com/septivank/pppoe-provisioning-worker/internal/validator"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type discardPublisher struct{}

func (discardPublisher) Publish(context.Context, string, string, []byte) error { return nil }

type fixture struct {
	router     http.Handler
	store      *memstore.Store
	dev        *devicetest.Fake
	locker     *lock.LocalLocker
	deviceID   uuid.UUID
	profileID  uuid.UUID
	contractID uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		store:      memstore.New(),
		dev:        devicetest.New(),
		locker:     lock.NewLocalLocker(),
		deviceID:   uuid.New(),
		profileID:  uuid.New(),
		contractID: uuid.New(),
	}
	logger := zap.NewNop()
	customerID, planID := uuid.New(), uuid.New()

	f.store.AddDevice(db.Device{ID: f.deviceID, Name: "bras-01", Host: "10.0.0.1", Protocol: db.ProtocolAPI})
	f.store.AddCustomer(db.Customer{ID: customerID, Name: "Maria Souza", Status: db.CustomerActive})
	f.store.AddProfile(db.BandwidthProfile{
		ID: f.profileID, DeviceID: f.deviceID, Name: "100M",
		DownloadBitsPerSecond: 100_000_000, UploadBitsPerSecond: 50_000_000, Active: true,
	})
	f.store.AddPlan(db.ServicePlan{ID: planID, Name: "Fibra 100", DeviceID: f.deviceID, ProfileID: f.profileID})
	f.store.AddContract(db.Contract{ID: f.contractID, CustomerID: customerID, PlanID: planID, Status: db.ContractDraft})

	relay := outbox.NewRelay(f.store, discardPublisher{}, 10, logger)
	v := validator.NewValidator()

	h := New(Deps{
		Provisioning: service.NewProvisioningService(f.store, f.dev, relay, logger),
		Profiles:     service.NewProfileService(f.store, v, relay, logger),
		Credentials:  service.NewCredentialService(f.store, f.dev, logger),
		Importer:     importer.NewImporter(f.store, f.dev, f.locker, time.Minute, logger),
		Validator:    v,
		Logger:       logger,
	})
	f.router = h.Router()
	return f
}

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

func (f *fixture) do(t *testing.T, method, path string, body any) (*httptest.ResponseRecorder, envelope) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return rec, env
}

func TestHealthCheck(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	rec, env := f.do(t, "GET", "/api/health", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, env.Success)
	require.NotEmpty(t, rec.Header().Get(requestIDHeader))
}

func TestRequestIDIsEchoed(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	req := httptest.NewRequest("GET", "/api/health", nil)
	req.Header.Set(requestIDHeader, "abc-123")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	require.Equal(t, "abc-123", rec.Header().Get(requestIDHeader))
}

func TestChangeContractStatus(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	path := "/api/contracts/" + f.contractID.String() + "/status"

	rec, env := f.do(t, "POST", path, ChangeStatusRequest{Status: "active"})
	require.Equal(t, http.StatusOK, rec.Code, env.Error)

	var c ContractResponse
	require.NoError(t, json.Unmarshal(env.Data, &c))
	require.Equal(t, "ACTIVE", c.Status)
	require.NotNil(t, c.CredentialID)

	_, ok := f.dev.Credential("maria.souza")
	require.True(t, ok)

	rec, _ = f.do(t, "POST", path, ChangeStatusRequest{Status: "DRAFT"})
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestChangeContractStatus_Errors(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	rec, env := f.do(t, "POST", "/api/contracts/"+f.contractID.String()+"/status", ChangeStatusRequest{Status: "PAUSED"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.False(t, env.Success)

	rec, _ = f.do(t, "POST", "/api/contracts/not-a-uuid/status", ChangeStatusRequest{Status: "ACTIVE"})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = f.do(t, "POST", "/api/contracts/"+uuid.NewString()+"/status", ChangeStatusRequest{Status: "ACTIVE"})
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = f.do(t, "POST", "/api/contracts/"+f.contractID.String()+"/status", ChangeStatusRequest{Status: "SUSPENDED_REQUEST"})
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestChangeContractStatus_DeviceFailures(t *testing.T) {
	t.Parallel()

	cases := []struct {
		kind error
		want int
	}{
		{device.ErrCommandFailed, http.StatusBadGateway},
		{device.ErrUnreachable, http.StatusGatewayTimeout},
	}
	for _, tc := range cases {
		f := newFixture(t)
		f.dev.FailOn("credential.add", &device.Error{Op: "credential.add", Kind: tc.kind})

		rec, env := f.do(t, "POST", "/api/contracts/"+f.contractID.String()+"/status", ChangeStatusRequest{Status: "ACTIVE"})
		require.Equal(t, tc.want, rec.Code, env.Error)
		require.Empty(t, f.store.Credentials(f.deviceID))
	}
}

func TestProfiles(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	rec, env := f.do(t, "POST", "/api/profiles", ProfileRequest{
		DeviceID: f.deviceID, Name: "300M", Download: "300M", Upload: "150M", SessionTimeout: "1d",
	})
	require.Equal(t, http.StatusCreated, rec.Code, env.Error)

	var p ProfileResponse
	require.NoError(t, json.Unmarshal(env.Data, &p))
	require.Equal(t, int64(300_000_000), p.DownloadBitsPerSecond)
	require.Equal(t, "150M/300M", p.RateLimit)
	require.Equal(t, int64(86400), p.SessionTimeoutSeconds)

	rec, _ = f.do(t, "POST", "/api/profiles", ProfileRequest{
		DeviceID: f.deviceID, Name: "300M", Download: "1M", Upload: "1M",
	})
	require.Equal(t, http.StatusConflict, rec.Code)

	rec, _ = f.do(t, "POST", "/api/profiles", ProfileRequest{
		DeviceID: f.deviceID, Name: "bad", Download: "fast", Upload: "1M",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = f.do(t, "PUT", "/api/profiles/"+p.ID.String(), ProfileRequest{Name: "300M plus", Download: "350M", Upload: "150M"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec, _ = f.do(t, "DELETE", "/api/profiles/"+f.profileID.String(), nil)
	require.Equal(t, http.StatusConflict, rec.Code, "used by a plan")

	rec, _ = f.do(t, "DELETE", "/api/profiles/"+p.ID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestSyncProfiles(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.dev.PutProfile(device.Profile{Name: "100M", RateLimit: "50M/100M"})
	f.dev.PutProfile(device.Profile{Name: "500M", RateLimit: "250M/500M", SessionTimeout: "12h"})

	rec, env := f.do(t, "POST", "/api/devices/"+f.deviceID.String()+"/sync/profiles", nil)
	require.Equal(t, http.StatusOK, rec.Code, env.Error)

	var report importer.Report
	require.NoError(t, json.Unmarshal(env.Data, &report))
	require.Equal(t, 2, report.TotalSeen)
	require.Equal(t, []string{"500M"}, report.CreatedNames)
	require.Equal(t, []string{"100M"}, report.SkippedNames)
}

func TestSyncCredentials(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.dev.PutCredential(device.Credential{Name: "carlos", Secret: "s3cret", Profile: "other"})

	rec, env := f.do(t, "POST", "/api/devices/"+f.deviceID.String()+"/sync/credentials",
		SyncCredentialsRequest{ProfileID: &f.profileID})
	require.Equal(t, http.StatusOK, rec.Code, env.Error)

	var report importer.Report
	require.NoError(t, json.Unmarshal(env.Data, &report))
	require.Equal(t, []string{"carlos"}, report.CreatedNames)

	creds := f.store.Credentials(f.deviceID)
	require.Len(t, creds, 1)
	require.Equal(t, f.profileID, creds[0].ProfileID)
}

func TestSyncWhileLocked(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	release, err := f.locker.Acquire(context.Background(), "device:"+f.deviceID.String(), time.Minute)
	require.NoError(t, err)
	defer release()

	rec, _ := f.do(t, "POST", "/api/devices/"+f.deviceID.String()+"/sync/profiles", nil)
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestCredentials(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	cred := db.Credential{ID: uuid.New(), DeviceID: f.deviceID, ProfileID: f.profileID, Username: "spare", Secret: "k7Pq2xWm"}
	f.store.AddCredential(cred)
	f.dev.PutCredential(device.Credential{Name: "spare", Profile: "100M"})

	rec, env := f.do(t, "GET", "/api/credentials/"+cred.ID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code, env.Error)
	var c CredentialResponse
	require.NoError(t, json.Unmarshal(env.Data, &c))
	require.Equal(t, "spare", c.Username)
	require.Equal(t, "k7Pq2xWm", c.Secret, "secrets are readable back")

	rec, _ = f.do(t, "GET", "/api/credentials/"+uuid.NewString(), nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec, env = f.do(t, "GET", "/api/credentials/"+cred.ID.String()+"/session", nil)
	require.Equal(t, http.StatusOK, rec.Code, env.Error)
	var s SessionResponse
	require.NoError(t, json.Unmarshal(env.Data, &s))
	require.False(t, s.Online)

	f.dev.PutSession(device.Session{Name: "spare", Address: "100.64.1.9", Uptime: "5m"})
	_, env = f.do(t, "GET", "/api/credentials/"+cred.ID.String()+"/session", nil)
	require.NoError(t, json.Unmarshal(env.Data, &s))
	require.True(t, s.Online)
	require.Equal(t, "100.64.1.9", s.Address)

	rec, _ = f.do(t, "DELETE", "/api/credentials/"+cred.ID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, _ = f.do(t, "DELETE", "/api/credentials/"+cred.ID.String(), nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStatusFor(t *testing.T) {
	t.Parallel()

	cases := []struct {
		err  error
		want int
	}{
		{service.ErrValidation, http.StatusBadRequest},
		{importer.ErrForeignProfile, http.StatusBadRequest},
		{repository.ErrNotFound, http.StatusNotFound},
		{repository.ErrDuplicate, http.StatusConflict},
		{repository.ErrReferenced, http.StatusConflict},
		{lock.ErrLocked, http.StatusConflict},
		{service.ErrInvalidTransition, http.StatusConflict},
		{service.ErrCredentialAttached, http.StatusConflict},
		{device.ErrCommandFailed, http.StatusBadGateway},
		{device.ErrUnreachable, http.StatusGatewayTimeout},
		{errors.New("connection refused"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, statusFor(fmt.Errorf("wrapped: %w", tc.err)), tc.err.Error())
	}
}
