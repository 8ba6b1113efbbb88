package eventproc

import (
	"testing"

	"github.com/arkeep-io/persona-orchestrator/pkg/protocol"
)

func TestFinalStatus(t *testing.T) {
	cases := []struct {
		name              string
		delivered, failed int
		want              string
	}{
		{"all delivered", 3, 0, string(protocol.EventStatusDelivered)},
		{"mixed", 2, 1, string(protocol.EventStatusPartial)},
		{"all failed", 0, 3, string(protocol.EventStatusFailed)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := finalStatus(tc.delivered, tc.failed); got != tc.want {
				t.Errorf("finalStatus(%d, %d) = %q, want %q", tc.delivered, tc.failed, got, tc.want)
			}
		})
	}
}

func strp(s string) *string { return &s }

func TestParsePayload(t *testing.T) {
	cases := []struct {
		name string
		raw  *string
		want map[string]interface{}
	}{
		{"nil payload", nil, map[string]interface{}{}},
		{"empty payload", strp(""), map[string]interface{}{}},
		{"valid json object", strp(`{"a":1}`), map[string]interface{}{"a": float64(1)}},
		{"unparseable payload falls back to raw", strp("not json"), map[string]interface{}{"raw": "not json"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := parsePayload(tc.raw)
			if len(got) != len(tc.want) {
				t.Fatalf("parsePayload(%v) = %v, want %v", tc.raw, got, tc.want)
			}
			for k, v := range tc.want {
				if got[k] != v {
					t.Errorf("parsePayload(%v)[%q] = %v, want %v", tc.raw, k, got[k], v)
				}
			}
		})
	}
}
