package db

import (
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
)

func TestContractStatus_Valid(t *testing.T) {
	for _, s := range []ContractStatus{ContractDraft, ContractActive, ContractSuspendedFinancial, ContractSuspendedRequest, ContractCanceled} {
		if !s.Valid() {
			t.Errorf("Expected %s to be valid", s)
		}
	}
	if ContractStatus("PAUSED").Valid() {
		t.Error("Expected PAUSED to be invalid")
	}
}

func TestContractStatus_Suspended(t *testing.T) {
	if !ContractSuspendedFinancial.Suspended() || !ContractSuspendedRequest.Suspended() {
		t.Error("Expected both suspended variants to report Suspended")
	}
	if ContractActive.Suspended() || ContractCanceled.Suspended() {
		t.Error("Expected ACTIVE and CANCELED not to report Suspended")
	}
}

func TestDescribeTarget_HidesPassword(t *testing.T) {
	cfg, err := pgx.ParseConfig("postgres://isp:s3cret@db:5433/isp")
	if err != nil {
		t.Fatalf("Expected URL to parse, got %v", err)
	}

	got := describeTarget(cfg)
	if got != "isp@db:5433/isp" {
		t.Errorf("Expected isp@db:5433/isp, got %s", got)
	}
	if strings.Contains(got, "s3cret") {
		t.Error("Expected password to be left out")
	}
}

func TestSchema_IsEmbedded(t *testing.T) {
	for _, table := range []string{"devices", "bandwidth_profiles", "credentials", "contracts", "outbox_tasks"} {
		if !strings.Contains(schema, "CREATE TABLE IF NOT EXISTS "+table) {
			t.Errorf("Expected schema to create %s", table)
		}
	}
}
