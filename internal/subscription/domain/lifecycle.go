package domain

import (
	"fmt"
	"time"
)

// InvalidStateTransitionError reports a rejected lifecycle change.
type InvalidStateTransitionError struct {
	From   SubscriptionStatus
	To     SubscriptionStatus
	Reason string
}

func (e *InvalidStateTransitionError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("invalid subscription transition %s -> %s: %s", e.From, e.To, e.Reason)
	}
	return fmt.Sprintf("invalid subscription transition %s -> %s", e.From, e.To)
}

func (e *InvalidStateTransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

var transitions = map[SubscriptionStatus][]SubscriptionStatus{
	SubscriptionStatusCreated: {
		SubscriptionStatusActive,
		SubscriptionStatusCancelled,
		SubscriptionStatusCompleted,
	},
	SubscriptionStatusActive: {
		SubscriptionStatusPending,
		SubscriptionStatusHalted,
		SubscriptionStatusCancelled,
		SubscriptionStatusCompleted,
	},
	SubscriptionStatusPending: {
		SubscriptionStatusActive,
		SubscriptionStatusHalted,
		SubscriptionStatusCancelled,
		SubscriptionStatusCompleted,
	},
	SubscriptionStatusHalted: {
		SubscriptionStatusActive,
		SubscriptionStatusCancelled,
		SubscriptionStatusCompleted,
	},
	// Only reachable while ended_at is still null.
	SubscriptionStatusCancelled: {
		SubscriptionStatusActive,
	},
}

// CanTransition reports whether the table allows from -> to.
func CanTransition(from, to SubscriptionStatus) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the subscription may never transition again.
func (s *Subscription) IsTerminal() bool {
	return s.EndedAt != nil || s.Status == SubscriptionStatusCompleted
}

// HasDeferredCancellation reports a recorded cancel-at-period-end that has not ended yet.
func (s *Subscription) HasDeferredCancellation() bool {
	return s.CancelAtPeriodEnd && s.EndedAt == nil
}

// transition moves the subscription to target. Re-entering the current status is a no-op.
func (s *Subscription) transition(target SubscriptionStatus, now time.Time) (bool, error) {
	if s.Status == target {
		return false, nil
	}
	if s.IsTerminal() {
		return false, &InvalidStateTransitionError{From: s.Status, To: target, Reason: "subscription has ended"}
	}
	if !CanTransition(s.Status, target) {
		return false, &InvalidStateTransitionError{From: s.Status, To: target}
	}
	if s.Status == SubscriptionStatusCancelled && target == SubscriptionStatusActive {
		s.CancelAtPeriodEnd = false
		s.CancelledAt = nil
	}
	s.Status = target
	s.UpdatedAt = now
	return true, nil
}

// Activate sets ACTIVE. Activating an active subscription is a no-op.
func (s *Subscription) Activate(now time.Time) (bool, error) {
	return s.transition(SubscriptionStatusActive, now)
}

// Cancel records a cancellation. Deferred cancellation keeps the status and only
// flags the row; immediate cancellation ends it now.
func (s *Subscription) Cancel(atPeriodEnd bool, now time.Time) error {
	if s.IsTerminal() {
		return &InvalidStateTransitionError{From: s.Status, To: SubscriptionStatusCancelled, Reason: "subscription has ended"}
	}

	if atPeriodEnd {
		if s.Status == SubscriptionStatusCancelled {
			return &InvalidStateTransitionError{From: s.Status, To: s.Status, Reason: "already cancelled"}
		}
		if s.CancelAtPeriodEnd {
			return nil
		}
		s.CancelAtPeriodEnd = true
		s.CancelledAt = &now
		s.UpdatedAt = now
		return nil
	}

	if s.Status != SubscriptionStatusCancelled {
		if _, err := s.transition(SubscriptionStatusCancelled, now); err != nil {
			return err
		}
		s.CancelAtPeriodEnd = false
		s.CancelledAt = &now
	}
	s.EndedAt = &now
	s.UpdatedAt = now
	return nil
}

// Reactivate undoes a cancellation that has not taken effect yet.
func (s *Subscription) Reactivate(now time.Time) error {
	if s.IsTerminal() {
		return &InvalidStateTransitionError{From: s.Status, To: SubscriptionStatusActive, Reason: "subscription has ended"}
	}

	switch {
	case s.Status == SubscriptionStatusCancelled:
		if _, err := s.transition(SubscriptionStatusActive, now); err != nil {
			return err
		}
	case s.HasDeferredCancellation():
	default:
		return &InvalidStateTransitionError{From: s.Status, To: SubscriptionStatusActive, Reason: "no cancellation to undo"}
	}

	s.CancelAtPeriodEnd = false
	s.CancelledAt = nil
	s.UpdatedAt = now
	return nil
}

// MarkStatus applies a gateway-reported status. CANCELLED and COMPLETED end the subscription.
func (s *Subscription) MarkStatus(target SubscriptionStatus, now time.Time) (bool, error) {
	if target == SubscriptionStatusCancelled {
		if s.Status == SubscriptionStatusCancelled && s.EndedAt != nil {
			return false, nil
		}
		if err := s.Cancel(false, now); err != nil {
			return false, err
		}
		return true, nil
	}

	changed, err := s.transition(target, now)
	if err != nil || !changed {
		return changed, err
	}
	if target == SubscriptionStatusCompleted && s.EndedAt == nil {
		s.EndedAt = &now
	}
	return true, nil
}

// SetPeriod refreshes the current billing period bounds. Nil bounds are left as is.
func (s *Subscription) SetPeriod(start, end *time.Time, now time.Time) error {
	if start != nil && end != nil && end.Before(*start) {
		return ErrInvalidPeriod
	}
	if start != nil {
		v := start.UTC()
		s.CurrentPeriodStart = &v
	}
	if end != nil {
		v := end.UTC()
		s.CurrentPeriodEnd = &v
	}
	s.UpdatedAt = now
	return nil
}

// ExpireDeferredCancellation ends a deferred cancellation whose period is over.
func (s *Subscription) ExpireDeferredCancellation(now time.Time) (bool, error) {
	if !s.HasDeferredCancellation() || s.CurrentPeriodEnd == nil || s.CurrentPeriodEnd.After(now) {
		return false, nil
	}
	if s.Status != SubscriptionStatusCancelled {
		if _, err := s.transition(SubscriptionStatusCancelled, now); err != nil {
			return false, err
		}
	}
	endedAt := *s.CurrentPeriodEnd
	s.EndedAt = &endedAt
	s.UpdatedAt = now
	return true, nil
}
