package catalog

// Version identifies the event catalog revision. Receivers can pin against it.
const Version = "2026-08"

// Wildcard subscribes an endpoint to every event type in the catalog.
const Wildcard = "*"

// TestEvent is the synthetic event type used for endpoint test deliveries.
const TestEvent = "endpoint.test"

// eventTypes is the closed set of event types the dispatcher accepts.
// Adding a type here is a versioned catalog change.
var eventTypes = map[string]struct{}{
	"user.created":                {},
	"user.updated":                {},
	"user.deleted":                {},
	"course.created":              {},
	"course.published":            {},
	"course.archived":             {},
	"enrollment.created":          {},
	"enrollment.completed":        {},
	"certificate.issued":          {},
	"application.submitted":       {},
	"application.status_changed":  {},
	"interview.scheduled":         {},
	"interview.completed":         {},
	"interview.cancelled":         {},
	"offer.extended":              {},
	"payment.succeeded":           {},
	"payment.failed":              {},
	"invoice.created":             {},
	"subscription.renewed":        {},
	"subscription.cancelled":      {},
	TestEvent:                     {},
}

// Known reports whether eventType is part of the catalog.
func Known(eventType string) bool {
	_, ok := eventTypes[eventType]
	return ok
}

// Types returns all catalog event types. The order is unspecified.
func Types() []string {
	out := make([]string, 0, len(eventTypes))
	for t := range eventTypes {
		out = append(out, t)
	}
	return out
}

// ValidSubscription reports whether t is acceptable in an endpoint's
// subscription set: either a catalog type or the wildcard.
func ValidSubscription(t string) bool {
	return t == Wildcard || Known(t)
}
