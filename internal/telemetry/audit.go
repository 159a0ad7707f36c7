package telemetry

import "log/slog"

// AuditLogger writes structured audit events for security-relevant
// actions: handshake decisions, invite issuance, daemon API access.
// Every method is nil-safe so callers never need to guard a disabled
// logger with an if-statement.
type AuditLogger struct {
	logger *slog.Logger
}

// NewAuditLogger creates an AuditLogger that writes under the "audit"
// group for easy filtering.
func NewAuditLogger(handler slog.Handler) *AuditLogger {
	return &AuditLogger{logger: slog.New(handler).WithGroup("audit")}
}

// HandshakeDecision logs a mesh handshake accept/reject outcome.
func (a *AuditLogger) HandshakeDecision(peerID, result string) {
	if a == nil {
		return
	}
	a.logger.Info("handshake_decision", "peer", peerID, "result", result)
}

// InviteIssued logs the creation of a new invite token.
func (a *AuditLogger) InviteIssued(meshID string, hasWideArea bool) {
	if a == nil {
		return
	}
	a.logger.Info("invite_issued", "mesh_id", meshID, "wide_area", hasWideArea)
}

// MeshJoined logs this node adopting a new mesh's credentials.
func (a *AuditLogger) MeshJoined(meshID string) {
	if a == nil {
		return
	}
	a.logger.Info("mesh_joined", "mesh_id", meshID)
}

// DaemonAPIAccess logs an API request to the daemon.
func (a *AuditLogger) DaemonAPIAccess(method, path string, status int) {
	if a == nil {
		return
	}
	a.logger.Info("daemon_api_access", "method", method, "path", path, "status", status)
}
