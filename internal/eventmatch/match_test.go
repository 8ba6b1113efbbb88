package eventmatch

import (
	"testing"

	"github.com/google/uuid"
)

func strp(s string) *string { return &s }

func TestSourceFilterMatches(t *testing.T) {
	cases := []struct {
		name     string
		filter   *string
		sourceID *string
		want     bool
	}{
		{"nil filter matches anything", nil, strp("repo-42"), true},
		{"empty filter matches anything", strp(""), strp("repo-42"), true},
		{"exact match", strp("repo-42"), strp("repo-42"), true},
		{"exact mismatch", strp("repo-42"), strp("repo-43"), false},
		{"prefix wildcard match", strp("repo-*"), strp("repo-42"), true},
		{"prefix wildcard mismatch", strp("repo-*"), strp("issue-42"), false},
		{"nil source with exact filter", strp("repo-42"), nil, false},
		{"nil source with wildcard filter", strp("repo-*"), nil, false},
		{"nil source with nil filter", nil, nil, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SourceFilterMatches(tc.filter, tc.sourceID); got != tc.want {
				t.Errorf("SourceFilterMatches(%v, %v) = %v, want %v", tc.filter, tc.sourceID, got, tc.want)
			}
		})
	}
}

func TestMatches(t *testing.T) {
	sub := SubscriptionLike{EventType: "pull_request", SourceFilter: strp("org/repo-*"), Enabled: true}

	if !Matches(sub, EventLike{EventType: "pull_request", SourceID: strp("org/repo-123")}) {
		t.Error("expected match on event type and source prefix")
	}
	if Matches(sub, EventLike{EventType: "issue", SourceID: strp("org/repo-123")}) {
		t.Error("expected no match on differing event type")
	}
	if Matches(sub, EventLike{EventType: "pull_request", SourceID: strp("other/repo-123")}) {
		t.Error("expected no match on non-matching source")
	}

	disabled := sub
	disabled.Enabled = false
	if Matches(disabled, EventLike{EventType: "pull_request", SourceID: strp("org/repo-123")}) {
		t.Error("expected no match on disabled subscription")
	}
}

func TestMatchesTargetPersonaID(t *testing.T) {
	personaA := uuid.New()
	personaB := uuid.New()

	sub := SubscriptionLike{PersonaID: personaA, EventType: "tick", Enabled: true}

	if !Matches(sub, EventLike{EventType: "tick"}) {
		t.Error("expected match when event has no targetPersonaId")
	}
	if !Matches(sub, EventLike{EventType: "tick", TargetPersonaID: &personaA}) {
		t.Error("expected match when targetPersonaId equals subscription's personaId")
	}
	if Matches(sub, EventLike{EventType: "tick", TargetPersonaID: &personaB}) {
		t.Error("expected no match when targetPersonaId differs from subscription's personaId")
	}
}
