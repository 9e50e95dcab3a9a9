package httpapi

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/septivank/pppoe-provisioning-worker/internal/db"
	"github.com/septivank/pppoe-provisioning-worker/internal/device"
	"github.com/septivank/pppoe-provisioning-worker/internal/validator"
	"github.com/septivank/pppoe-provisioning-worker/tools/units"
)

type ContractResponse struct {
	ID           uuid.UUID  `json:"id"`
	CustomerID   uuid.UUID  `json:"customer_id"`
	PlanID       uuid.UUID  `json:"plan_id"`
	CredentialID *uuid.UUID `json:"credential_id"`
	Status       string     `json:"status"`
}

type ChangeStatusRequest struct {
	Status string `json:"status"`
}

type ChangePlanRequest struct {
	PlanID uuid.UUID `json:"plan_id"`
}

type SyncCredentialsRequest struct {
	ProfileID *uuid.UUID `json:"profile_id"`
}

type ProfileRequest struct {
	DeviceID       uuid.UUID `json:"device_id,omitempty"`
	Name           string    `json:"name"`
	Download       string    `json:"download"`
	Upload         string    `json:"upload"`
	SessionTimeout string    `json:"session_timeout"`
}

type ProfileResponse struct {
	ID                    uuid.UUID `json:"id"`
	DeviceID              uuid.UUID `json:"device_id"`
	Name                  string    `json:"name"`
	DownloadBitsPerSecond int64     `json:"download_bps"`
	UploadBitsPerSecond   int64     `json:"upload_bps"`
	SessionTimeoutSeconds int64     `json:"session_timeout_seconds"`
	RateLimit             string    `json:"rate_limit"`
	SessionTimeout        string    `json:"session_timeout"`
}

type CredentialResponse struct {
	ID             uuid.UUID  `json:"id"`
	DeviceID       uuid.UUID  `json:"device_id"`
	ProfileID      uuid.UUID  `json:"profile_id"`
	Username       string     `json:"username"`
	Secret         string     `json:"secret"`
	Comment        string     `json:"comment,omitempty"`
	Active         bool       `json:"active"`
	LastSeenOnline *time.Time `json:"last_seen_online,omitempty"`
}

type SessionResponse struct {
	Online   bool   `json:"online"`
	Address  string `json:"address,omitempty"`
	CallerID string `json:"caller_id,omitempty"`
	Uptime   string `json:"uptime,omitempty"`
	Service  string `json:"service,omitempty"`
}

func contractResponse(c *db.Contract) ContractResponse {
	return ContractResponse{
		ID:           c.ID,
		CustomerID:   c.CustomerID,
		PlanID:       c.PlanID,
		CredentialID: c.CredentialID,
		Status:       string(c.Status),
	}
}

func profileResponse(p *db.BandwidthProfile) ProfileResponse {
	return ProfileResponse{
		ID:                    p.ID,
		DeviceID:              p.DeviceID,
		Name:                  p.Name,
		DownloadBitsPerSecond: p.DownloadBitsPerSecond,
		UploadBitsPerSecond:   p.UploadBitsPerSecond,
		SessionTimeoutSeconds: p.SessionTimeoutSeconds,
		RateLimit:             units.FormatRateLimit(p.UploadBitsPerSecond, p.DownloadBitsPerSecond),
		SessionTimeout:        units.FormatDuration(p.SessionTimeoutSeconds),
	}
}

func credentialResponse(c *db.Credential) CredentialResponse {
	return CredentialResponse{
		ID:             c.ID,
		DeviceID:       c.DeviceID,
		ProfileID:      c.ProfileID,
		Username:       c.Username,
		Secret:         c.Secret,
		Comment:        c.Comment,
		Active:         c.Active,
		LastSeenOnline: c.LastSeenOnline,
	}
}

func sessionResponse(s *device.Session) SessionResponse {
	if s == nil {
		return SessionResponse{Online: false}
	}
	return SessionResponse{
		Online:   true,
		Address:  s.Address,
		CallerID: s.CallerID,
		Uptime:   s.Uptime,
		Service:  s.Service,
	}
}

func (h *Handler) SyncProfiles(w http.ResponseWriter, r *http.Request) {
	deviceID, err := pathID(r)
	if err != nil {
		h.sendError(w, r, err)
		return
	}

	report, err := h.importer.ImportProfiles(r.Context(), deviceID)
	if err != nil {
		h.sendError(w, r, err)
		return
	}

	h.sendJSON(w, http.StatusOK, Response{Success: true, Message: "Profiles synchronized", Data: report})
}

func (h *Handler) SyncCredentials(w http.ResponseWriter, r *http.Request) {
	deviceID, err := pathID(r)
	if err != nil {
		h.sendError(w, r, err)
		return
	}

	var req SyncCredentialsRequest
	if r.ContentLength != 0 {
		if err := decodeBody(r, &req); err != nil {
			h.sendError(w, r, err)
			return
		}
	}

	report, err := h.importer.ImportCredentials(r.Context(), deviceID, req.ProfileID)
	if err != nil {
		h.sendError(w, r, err)
		return
	}

	h.sendJSON(w, http.StatusOK, Response{Success: true, Message: "Credentials synchronized", Data: report})
}

func (h *Handler) ChangeContractStatus(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.sendError(w, r, err)
		return
	}

	var req ChangeStatusRequest
	if err := decodeBody(r, &req); err != nil {
		h.sendError(w, r, err)
		return
	}
	status, result := h.validator.ParseStatus(req.Status)
	if !result.IsValid {
		h.sendJSON(w, http.StatusBadRequest, Response{Success: false, Error: result.Reason})
		return
	}

	c, err := h.provisioning.ChangeStatus(r.Context(), id, status)
	if err != nil {
		h.sendError(w, r, err)
		return
	}

	h.sendJSON(w, http.StatusOK, Response{Success: true, Message: "Contract status updated", Data: contractResponse(c)})
}

func (h *Handler) ChangeContractPlan(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.sendError(w, r, err)
		return
	}

	var req ChangePlanRequest
	if err := decodeBody(r, &req); err != nil {
		h.sendError(w, r, err)
		return
	}
	if req.PlanID == uuid.Nil {
		h.sendJSON(w, http.StatusBadRequest, Response{Success: false, Error: "plan_id is required"})
		return
	}

	c, err := h.provisioning.ChangePlan(r.Context(), id, req.PlanID)
	if err != nil {
		h.sendError(w, r, err)
		return
	}

	h.sendJSON(w, http.StatusOK, Response{Success: true, Message: "Contract plan updated", Data: contractResponse(c)})
}

func (h *Handler) CreateProfile(w http.ResponseWriter, r *http.Request) {
	var req ProfileRequest
	if err := decodeBody(r, &req); err != nil {
		h.sendError(w, r, err)
		return
	}
	if req.DeviceID == uuid.Nil {
		h.sendJSON(w, http.StatusBadRequest, Response{Success: false, Error: "device_id is required"})
		return
	}

	values, ok := h.parseProfile(w, req)
	if !ok {
		return
	}

	p, err := h.profiles.Create(r.Context(), req.DeviceID, values)
	if err != nil {
		h.sendError(w, r, err)
		return
	}

	h.sendJSON(w, http.StatusCreated, Response{Success: true, Message: "Profile created", Data: profileResponse(p)})
}

func (h *Handler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.sendError(w, r, err)
		return
	}

	var req ProfileRequest
	if err := decodeBody(r, &req); err != nil {
		h.sendError(w, r, err)
		return
	}
	values, ok := h.parseProfile(w, req)
	if !ok {
		return
	}

	p, err := h.profiles.Update(r.Context(), id, values)
	if err != nil {
		h.sendError(w, r, err)
		return
	}

	h.sendJSON(w, http.StatusOK, Response{Success: true, Message: "Profile updated", Data: profileResponse(p)})
}

func (h *Handler) parseProfile(w http.ResponseWriter, req ProfileRequest) (validator.ProfileValues, bool) {
	values, result := h.validator.ParseProfile(validator.ProfileFields{
		Name:           req.Name,
		Download:       req.Download,
		Upload:         req.Upload,
		SessionTimeout: req.SessionTimeout,
	})
	if !result.IsValid {
		h.sendJSON(w, http.StatusBadRequest, Response{Success: false, Error: result.Reason})
		return values, false
	}
	return values, true
}

func (h *Handler) DeleteProfile(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.sendError(w, r, err)
		return
	}

	if err := h.profiles.Delete(r.Context(), id); err != nil {
		h.sendError(w, r, err)
		return
	}

	h.sendJSON(w, http.StatusOK, Response{Success: true, Message: "Profile deleted"})
}

func (h *Handler) GetCredential(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.sendError(w, r, err)
		return
	}

	cred, err := h.credentials.Get(r.Context(), id)
	if err != nil {
		h.sendError(w, r, err)
		return
	}

	h.sendJSON(w, http.StatusOK, Response{Success: true, Data: credentialResponse(cred)})
}

func (h *Handler) DeleteCredential(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.sendError(w, r, err)
		return
	}

	if err := h.credentials.Delete(r.Context(), id); err != nil {
		h.sendError(w, r, err)
		return
	}

	h.sendJSON(w, http.StatusOK, Response{Success: true, Message: "Credential deleted"})
}

func (h *Handler) GetCredentialSession(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.sendError(w, r, err)
		return
	}

	session, err := h.credentials.CheckSession(r.Context(), id)
	if err != nil {
		h.sendError(w, r, err)
		return
	}

	h.sendJSON(w, http.StatusOK, Response{Success: true, Data: sessionResponse(session)})
}
