package db

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ContractStatus is the lifecycle state of a commercial contract
type ContractStatus string

const (
	ContractDraft              ContractStatus = "DRAFT"
	ContractActive             ContractStatus = "ACTIVE"
	ContractSuspendedFinancial ContractStatus = "SUSPENDED_FINANCIAL"
	ContractSuspendedRequest   ContractStatus = "SUSPENDED_REQUEST"
	ContractCanceled           ContractStatus = "CANCELED"
)

// Valid reports whether s is a known contract status
func (s ContractStatus) Valid() bool {
	switch s {
	case ContractDraft, ContractActive, ContractSuspendedFinancial, ContractSuspendedRequest, ContractCanceled:
		return true
	}
	return false
}

// Suspended reports whether s is one of the suspended variants
func (s ContractStatus) Suspended() bool {
	return s == ContractSuspendedFinancial || s == ContractSuspendedRequest
}

// CustomerStatus is the status mirrored onto a customer from its contract
type CustomerStatus string

const (
	CustomerActive    CustomerStatus = "ACTIVE"
	CustomerSuspended CustomerStatus = "SUSPENDED"
	CustomerCanceled  CustomerStatus = "CANCELED"
)

// DeviceProtocol selects the wire protocol used to reach a device
type DeviceProtocol string

const (
	ProtocolAPI DeviceProtocol = "api"
	ProtocolSSH DeviceProtocol = "ssh"
)

// Device is the connection descriptor of an access concentrator
type Device struct {
	ID          uuid.UUID
	Name        string
	Host        string
	ControlPort int
	AdminUser   string
	AdminSecret string
	Protocol    DeviceProtocol
}

// BandwidthProfile is a named rate-limit bundle mirrored on a device
type BandwidthProfile struct {
	ID                    uuid.UUID
	DeviceID              uuid.UUID
	Name                  string
	DownloadBitsPerSecond int64
	UploadBitsPerSecond   int64
	SessionTimeoutSeconds int64
	Active                bool
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// Credential is a PPPoE login mirrored on a device
type Credential struct {
	ID             uuid.UUID
	DeviceID       uuid.UUID
	ProfileID      uuid.UUID
	Username       string
	Secret         string
	Comment        string
	Active         bool
	LastSeenOnline *time.Time
	CreatedAt      time.Time
}

// Contract is a commercial contract bound to at most one credential
type Contract struct {
	ID           uuid.UUID
	CustomerID   uuid.UUID
	PlanID       uuid.UUID
	AddressID    *uuid.UUID
	CredentialID *uuid.UUID
	Status       ContractStatus
	BillingDay   int
	Amount       float64
	UpdatedAt    time.Time
}

// Customer is the owner of contracts
type Customer struct {
	ID     uuid.UUID
	Name   string
	Status CustomerStatus
}

// Address is an installation address
type Address struct {
	ID           uuid.UUID
	Street       string
	Number       string
	Neighborhood string
	City         string
}

// ServicePlan links a sellable plan to a device and its bandwidth profile
type ServicePlan struct {
	ID        uuid.UUID
	Name      string
	DeviceID  uuid.UUID
	ProfileID uuid.UUID
}

// OutboxTask is a device mutation recorded in the same transaction as the
// local change that requires it, dispatched only after commit
type OutboxTask struct {
	ID           uuid.UUID
	Kind         string
	Payload      json.RawMessage
	CreatedAt    time.Time
	DispatchedAt *time.Time
}
