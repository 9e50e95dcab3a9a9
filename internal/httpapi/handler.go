package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/septivank/pppoe-provisioning-worker/internal/db"
	"github.com/septivank/pppoe-provisioning-worker/internal/device"
	"github.com/septivank/pppoe-provisioning-worker/internal/importer"
	"github.com/septivank/pppoe-provisioning-worker/internal/lock"
	"github.com/septivank/pppoe-provisioning-worker/internal/repository"
	"github.com/septivank/pppoe-provisioning-worker/internal/service"
	"github.com/septivank/pppoe-provisioning-worker/internal/validator"
	"go.uber.org/zap"
)

// Provisioner drives contract transitions
type Provisioner interface {
	ChangeStatus(ctx context.Context, contractID uuid.UUID, status db.ContractStatus) (*db.Contract, error)
	ChangePlan(ctx context.Context, contractID, planID uuid.UUID) (*db.Contract, error)
}

// ProfileEditor edits bandwidth profiles
type ProfileEditor interface {
	Create(ctx context.Context, deviceID uuid.UUID, values validator.ProfileValues) (*db.BandwidthProfile, error)
	Update(ctx context.Context, id uuid.UUID, values validator.ProfileValues) (*db.BandwidthProfile, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// CredentialManager acts on single credentials
type CredentialManager interface {
	Get(ctx context.Context, id uuid.UUID) (*db.Credential, error)
	Delete(ctx context.Context, id uuid.UUID) error
	CheckSession(ctx context.Context, id uuid.UUID) (*device.Session, error)
}

// Importer reconciles a device into the database
type Importer interface {
	ImportProfiles(ctx context.Context, deviceID uuid.UUID) (*importer.Report, error)
	ImportCredentials(ctx context.Context, deviceID uuid.UUID, forcedProfileID *uuid.UUID) (*importer.Report, error)
}

// Pinger reports database reachability for the health check
type Pinger interface {
	Ping(ctx context.Context) error
}

type Handler struct {
	provisioning Provisioner
	profiles     ProfileEditor
	credentials  CredentialManager
	importer     Importer
	validator    *validator.Validator
	db           Pinger
	logger       *zap.Logger
}

// Deps groups the collaborators of the operator API
type Deps struct {
	Provisioning Provisioner
	Profiles     ProfileEditor
	Credentials  CredentialManager
	Importer     Importer
	Validator    *validator.Validator
	DB           Pinger
	Logger       *zap.Logger
}

func New(d Deps) *Handler {
	return &Handler{
		provisioning: d.Provisioning,
		profiles:     d.Profiles,
		credentials:  d.Credentials,
		importer:     d.Importer,
		validator:    d.Validator,
		db:           d.DB,
		logger:       d.Logger,
	}
}

type Response struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// Router registers every operator route
func (h *Handler) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(h.requestID)

	r.HandleFunc("/api/health", h.HealthCheck).Methods("GET")

	api := r.PathPrefix("/api").Subrouter()

	// Reconciliation
	api.HandleFunc("/devices/{id}/sync/profiles", h.SyncProfiles).Methods("POST")
	api.HandleFunc("/devices/{id}/sync/credentials", h.SyncCredentials).Methods("POST")

	// Contracts
	api.HandleFunc("/contracts/{id}/status", h.ChangeContractStatus).Methods("POST")
	api.HandleFunc("/contracts/{id}/plan", h.ChangeContractPlan).Methods("PUT")

	// Profiles
	api.HandleFunc("/profiles", h.CreateProfile).Methods("POST")
	api.HandleFunc("/profiles/{id}", h.UpdateProfile).Methods("PUT")
	api.HandleFunc("/profiles/{id}", h.DeleteProfile).Methods("DELETE")

	// Credentials
	api.HandleFunc("/credentials/{id}", h.GetCredential).Methods("GET")
	api.HandleFunc("/credentials/{id}", h.DeleteCredential).Methods("DELETE")
	api.HandleFunc("/credentials/{id}/session", h.GetCredentialSession).Methods("GET")

	return r
}

func (h *Handler) sendJSON(w http.ResponseWriter, status int, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.logger.Warn("failed to write response", zap.Error(err))
	}
}

func (h *Handler) sendError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	logger := requestLogger(r, h.logger)
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", zap.Int("status", status), zap.Error(err))
	} else {
		logger.Info("request rejected", zap.Int("status", status), zap.Error(err))
	}
	h.sendJSON(w, status, Response{Success: false, Error: err.Error()})
}

// statusFor maps domain errors onto HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrValidation), errors.Is(err, importer.ErrForeignProfile):
		return http.StatusBadRequest
	case errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, repository.ErrDuplicate),
		errors.Is(err, repository.ErrReferenced),
		errors.Is(err, repository.ErrAlreadyAttached),
		errors.Is(err, lock.ErrLocked),
		errors.Is(err, service.ErrInvalidTransition),
		errors.Is(err, service.ErrCredentialAttached):
		return http.StatusConflict
	case errors.Is(err, device.ErrCommandFailed), errors.Is(err, device.ErrObjectNotFound):
		return http.StatusBadGateway
	case errors.Is(err, device.ErrUnreachable):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func pathID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: invalid id %q", service.ErrValidation, mux.Vars(r)["id"])
	}
	return id, nil
}

func decodeBody(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: invalid request body: %v", service.ErrValidation, err)
	}
	return nil
}

func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	dbStatus := "connected"
	if h.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.db.Ping(ctx); err != nil {
			dbStatus = "disconnected"
		}
	}

	h.sendJSON(w, http.StatusOK, Response{
		Success: true,
		Message: "provisioning worker is running",
		Data: map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
			"database":  dbStatus,
		},
	})
}
