package console

import (
	"github.com/google/uuid"

	"github.com/cohesix/queenroot/internal/logging"
)

// auditDenial logs a ticket-scope refusal in the fixed key=value shape the
// original root task's record_ticket_denial produces, so the audit stream
// stays greppable regardless of which verb triggered it.
func auditDenial(log *logging.Logger, reason, role, ticket, path, verb string) {
	log.Warn("ui-ticket",
		"outcome", "deny",
		"reason", reason,
		"role", role,
		"ticket", ticket,
		"path", path,
		"verb", verb,
	)
}

// auditBridgeError logs a NineDoor bridge failure against the verb that
// triggered it.
func auditBridgeError(log *logging.Logger, verb string, err error) {
	log.Warn("ninedoor bridge error", "verb", verb, "error", err.Error())
}

// auditAttach logs the outcome of an attach attempt.
func auditAttach(log *logging.Logger, outcome, role string, sessionID uuid.UUID, origin InputSource) {
	log.Info("console attach", "outcome", outcome, "role", role, "session_id", sessionID.String(), "origin", origin.String())
}
