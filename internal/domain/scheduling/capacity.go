package scheduling

import (
	"context"
	"fmt"
)

// CapacityCalculator derives a schedule's occupancy from the ledger.
//
// Used for an admission decision it must run under the schedule's admission
// lock and inside the admission transaction. Display callers may use it
// unlocked and accept a slightly stale count.
type CapacityCalculator struct {
	ledger Ledger
}

func NewCapacityCalculator(ledger Ledger) *CapacityCalculator {
	return &CapacityCalculator{ledger: ledger}
}

// Availability looks up the schedule and counts its appointments.
func (c *CapacityCalculator) Availability(ctx context.Context, scheduleID int64) (*Availability, error) {
	s, err := c.ledger.GetSchedule(ctx, scheduleID)
	if err != nil {
		return nil, err
	}
	return c.ForSchedule(ctx, s)
}

// ForSchedule counts appointments of s.DoctorID with time in [s.Start, s.End).
func (c *CapacityCalculator) ForSchedule(ctx context.Context, s *Schedule) (*Availability, error) {
	booked, err := c.ledger.CountAppointmentsInRange(ctx, s.DoctorID, s.Start, s.End)
	if err != nil {
		return nil, fmt.Errorf("availability of schedule %d: %w", s.ID, err)
	}
	return &Availability{
		ScheduleID: s.ID,
		Capacity:   s.Capacity,
		Booked:     booked,
		Available:  max(0, s.Capacity-booked),
	}, nil
}
