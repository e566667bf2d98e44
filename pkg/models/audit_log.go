// Package models contains domain types for the VERITAS quality engine.
package models

import (
	"strings"
	"time"
)

// Audit actions written by the core. The ledger accepts any non-empty action;
// these are the tags the core itself produces or filters on.
const (
	AuditActionDataEntry              = "Data Entry"
	AuditActionDataUpdate             = "Data Update"
	AuditActionUserLogin              = "User Login"
	AuditActionReportGenerated        = "Report Generated"
	AuditActionDeviationCreated       = "Deviation Created"
	AuditActionDeviationStatusChanged = "Deviation Status Changed"
	AuditActionDeviationUpdated       = "Deviation Updated"
	AuditActionSignatureApplied       = "E-Signature Applied"
)

// AuditEntry is a single immutable record in the append-only audit ledger.
// Sequence is assigned by the ledger, starts at 1 and is never reused.
type AuditEntry struct {
	Sequence  uint64    `json:"sequence_no"`
	Timestamp time.Time `json:"timestamp"`
	User      string    `json:"user"`
	Action    string    `json:"action"`
	RecordID  *string   `json:"record_id,omitempty"`
	Details   string    `json:"details"`

	// Hash chain over the entry contents and the previous entry's hash.
	PrevHash string `json:"prev_hash"`
	Hash     string `json:"hash"`
}

// RecordIDValue returns the record id or "" when the entry has none.
func (e *AuditEntry) RecordIDValue() string {
	if e.RecordID == nil {
		return ""
	}
	return *e.RecordID
}

// AuditFilter selects ledger entries. Every non-empty field must match;
// a zero AuditFilter matches everything.
type AuditFilter struct {
	Users            []string `json:"users,omitempty"`
	Actions          []string `json:"actions,omitempty"`
	RecordIDContains string   `json:"record_id_contains,omitempty"`
}

// Matches reports whether the entry satisfies all supplied filters.
// The record id filter is a case-insensitive substring match.
func (f AuditFilter) Matches(e *AuditEntry) bool {
	if len(f.Users) > 0 && !containsString(f.Users, e.User) {
		return false
	}
	if len(f.Actions) > 0 && !containsString(f.Actions, e.Action) {
		return false
	}
	if f.RecordIDContains != "" {
		if e.RecordID == nil {
			return false
		}
		if !strings.Contains(strings.ToLower(*e.RecordID), strings.ToLower(f.RecordIDContains)) {
			return false
		}
	}
	return true
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
