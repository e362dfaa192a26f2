package scheduling

import (
	"context"
	"fmt"
	"time"
)

// ConflictChecker answers whether a patient already holds an appointment,
// with any doctor, inside a window.
type ConflictChecker struct {
	ledger Ledger
}

func NewConflictChecker(ledger Ledger) *ConflictChecker {
	return &ConflictChecker{ledger: ledger}
}

// HasConflict reports whether patient has an appointment with time in
// [start, end).
func (c *ConflictChecker) HasConflict(ctx context.Context, patient string, start, end time.Time) (bool, error) {
	found, err := c.ledger.FindAppointmentForPatientInRange(ctx, patient, start, end)
	if err != nil {
		return false, fmt.Errorf("conflict check for %s: %w", patient, err)
	}
	return found, nil
}
