// Package eventmatch implements the pure matching rule the Event Processor
// tick uses to decide which event subscriptions a pending event satisfies.
// No type here touches the database or the clock; every function is a
// deterministic function of its inputs, which keeps it trivially testable.
package eventmatch

import (
	"strings"

	"github.com/google/uuid"
)

// SourceFilterMatches reports whether sourceID satisfies filter. An empty or
// nil filter matches any sourceID, including an empty one. A non-empty filter
// never matches a nil sourceID. A filter ending in "*" matches by prefix; any
// other filter requires an exact match.
func SourceFilterMatches(filter *string, sourceID *string) bool {
	if filter == nil || *filter == "" {
		return true
	}
	if sourceID == nil {
		return false
	}

	actual := *sourceID

	f := *filter
	if strings.HasSuffix(f, "*") {
		return strings.HasPrefix(actual, strings.TrimSuffix(f, "*"))
	}
	return actual == f
}

// EventLike is the minimal view of an event a subscription is matched
// against, kept separate from db.Event so this package stays free of a
// dependency on the persistence layer.
type EventLike struct {
	EventType       string
	SourceID        *string
	TargetPersonaID *uuid.UUID
}

// SubscriptionLike is the minimal view of a subscription needed to decide a match.
type SubscriptionLike struct {
	PersonaID    uuid.UUID
	EventType    string
	SourceFilter *string
	Enabled      bool
}

// Matches reports whether sub should receive event: the subscription must
// be enabled, its eventType must equal the event's, its personaId must equal
// the event's targetPersonaId when the event names one, and its sourceFilter
// (if any) must match the event's sourceID.
func Matches(sub SubscriptionLike, event EventLike) bool {
	if !sub.Enabled {
		return false
	}
	if sub.EventType != event.EventType {
		return false
	}
	if event.TargetPersonaID != nil && sub.PersonaID != *event.TargetPersonaID {
		return false
	}
	return SourceFilterMatches(sub.SourceFilter, event.SourceID)
}
