// Package audit provides security audit logging for SIEM consumption.
// It logs security-relevant events in structured JSON format for easy parsing
// and integration with security information and event management systems.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/veritas-qms/veritas-engine/pkg/auth"
)

// SecurityEventType categorizes security-relevant events for filtering and alerting.
type SecurityEventType string

const (
	// EventSignatureAuthFailure is logged when a signer's credentials are rejected.
	EventSignatureAuthFailure SecurityEventType = "signature_auth_failure"
	// EventStaleTransition is logged when a deviation transition loses a race or
	// names the wrong current state.
	EventStaleTransition SecurityEventType = "stale_transition"
	// EventLedgerTampered is logged when hash chain verification fails.
	EventLedgerTampered SecurityEventType = "ledger_tampered"
)

// SecurityEvent represents an auditable security event with all relevant context
// for SIEM ingestion and analysis.
type SecurityEvent struct {
	Timestamp time.Time         `json:"timestamp"`
	EventType SecurityEventType `json:"event_type"`
	UserID    string            `json:"user_id,omitempty"`
	RecordID  string            `json:"record_id,omitempty"`
	Details   any               `json:"details"`
	Severity  string            `json:"severity"` // info, warning, critical
}

// SecurityAuditor logs security events for SIEM consumption.
type SecurityAuditor struct {
	logger *zap.Logger
}

// NewSecurityAuditor creates a new security auditor with a dedicated logger namespace.
// The logger is configured with the "security_audit" name for filtering in SIEM systems.
func NewSecurityAuditor(logger *zap.Logger) *SecurityAuditor {
	return &SecurityAuditor{logger: logger.Named("security_audit")}
}

// LogSignatureAuthFailure records a rejected e-signature credential check.
// The acting user from ctx is recorded alongside the claimed signer when they differ.
func (a *SecurityAuditor) LogSignatureAuthFailure(ctx context.Context, signer, requestID string) {
	details := map[string]string{"signer": signer}
	if actor, ok := auth.GetUser(ctx); ok && actor != signer {
		details["acting_user"] = actor
	}

	event := a.event(EventSignatureAuthFailure, signer, requestID, details, "warning")
	a.logger.Warn("E-signature authentication failed",
		zap.String("event_json", event),
		zap.String("user_id", signer),
		zap.String("request_id", requestID),
		zap.String("severity", "warning"),
	)
}

// LogStaleTransition records a rejected deviation status change.
func (a *SecurityAuditor) LogStaleTransition(ctx context.Context, user, deviationID, expected, actual string) {
	event := a.event(EventStaleTransition, user, deviationID, map[string]string{
		"expected": expected,
		"actual":   actual,
	}, "info")
	a.logger.Info("Stale deviation transition rejected",
		zap.String("event_json", event),
		zap.String("user_id", user),
		zap.String("deviation_id", deviationID),
		zap.String("expected", expected),
		zap.String("actual", actual),
		zap.String("severity", "info"),
	)
}

// LogLedgerTampered records a failed hash chain verification.
// Logged at ERROR with critical severity for immediate alerting.
func (a *SecurityAuditor) LogLedgerTampered(ctx context.Context, sequence uint64, reason string) {
	user, _ := auth.GetUser(ctx)
	event := a.event(EventLedgerTampered, user, "", map[string]any{
		"sequence": sequence,
		"reason":   reason,
	}, "critical")
	a.logger.Error("Audit ledger verification failed",
		zap.String("event_json", event),
		zap.Uint64("sequence", sequence),
		zap.String("reason", reason),
		zap.String("severity", "critical"),
	)
}

func (a *SecurityAuditor) event(t SecurityEventType, user, recordID string, details any, severity string) string {
	e := SecurityEvent{
		Timestamp: time.Now().UTC(),
		EventType: t,
		UserID:    user,
		RecordID:  recordID,
		Details:   details,
		Severity:  severity,
	}
	// Marshaling known types does not fail.
	b, _ := json.Marshal(e)
	return string(b)
}
