// Package domain defines the gateway webhook events billsync reconciles.
package domain

import (
	"context"
	"errors"
	"strings"
)

var (
	ErrInvalidSignature = errors.New("invalid_webhook_signature")
	// ErrRetryLater asks the caller to answer with a retryable status so the gateway redelivers.
	ErrRetryLater = errors.New("webhook_retry_later")
)

// EventKind is the closed set of gateway events. Unrecognised names parse to EventUnknown.
type EventKind int

const (
	EventUnknown EventKind = iota
	EventSubscriptionActivated
	EventSubscriptionCharged
	EventSubscriptionCancelled
	EventSubscriptionHalted
	EventSubscriptionCompleted
	EventSubscriptionResumed
	EventSubscriptionPending
	EventPaymentCaptured
	EventPaymentFailed
)

var eventNames = map[EventKind]string{
	EventSubscriptionActivated: "subscription.activated",
	EventSubscriptionCharged:   "subscription.charged",
	EventSubscriptionCancelled: "subscription.cancelled",
	EventSubscriptionHalted:    "subscription.halted",
	EventSubscriptionCompleted: "subscription.completed",
	EventSubscriptionResumed:   "subscription.resumed",
	EventSubscriptionPending:   "subscription.pending",
	EventPaymentCaptured:       "payment.captured",
	EventPaymentFailed:         "payment.failed",
}

var eventKinds = func() map[string]EventKind {
	out := make(map[string]EventKind, len(eventNames))
	for kind, name := range eventNames {
		out[name] = kind
	}
	return out
}()

func ParseEventKind(name string) EventKind {
	if kind, ok := eventKinds[strings.ToLower(strings.TrimSpace(name))]; ok {
		return kind
	}
	return EventUnknown
}

// KnownEventKinds lists every kind except EventUnknown.
func KnownEventKinds() []EventKind {
	out := make([]EventKind, 0, len(eventNames))
	for kind := EventSubscriptionActivated; kind <= EventPaymentFailed; kind++ {
		out = append(out, kind)
	}
	return out
}

func (k EventKind) String() string {
	if name, ok := eventNames[k]; ok {
		return name
	}
	return "unknown"
}

// IsSubscriptionEvent reports whether the event is located by gateway subscription id.
func (k EventKind) IsSubscriptionEvent() bool {
	return k >= EventSubscriptionActivated && k <= EventSubscriptionPending
}

type Outcome string

const (
	OutcomeProcessed        Outcome = "processed"
	OutcomeDuplicate        Outcome = "duplicate"
	OutcomeIgnored          Outcome = "ignored"
	OutcomeFailed           Outcome = "failed"
	OutcomeInvalidSignature Outcome = "invalid_signature"
)

type Result struct {
	Event          string
	Outcome        Outcome
	IdempotencyKey string
}

type Reconciler interface {
	// Reconcile verifies, de-duplicates and applies one delivery. It returns
	// ErrInvalidSignature or ErrRetryLater; every other outcome is acknowledged.
	Reconcile(ctx context.Context, body []byte, signature string) (Result, error)
}
