package mapper

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotMapped            = errors.New("ticket not mapped")
	ErrTicketActive         = errors.New("ticket already mapped")
	ErrPositionMapped       = errors.New("position already mapped")
	ErrReconciliationFailed = errors.New("reconciliation failed")
)

// ReconciliationError means the open was submitted but the new position could
// not be identified. The venue-side order may exist.
type ReconciliationError struct {
	Ticket     string
	Candidates []string
	Ambiguous  bool
	Reason     string
}

func (e *ReconciliationError) Error() string {
	if len(e.Candidates) > 0 {
		return fmt.Sprintf("reconciliation failed for ticket %s: %s (candidates: %s)", e.Ticket, e.Reason, strings.Join(e.Candidates, ", "))
	}
	return fmt.Sprintf("reconciliation failed for ticket %s: %s", e.Ticket, e.Reason)
}

func (e *ReconciliationError) Is(target error) bool {
	return target == ErrReconciliationFailed
}
