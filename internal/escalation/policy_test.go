package escalation

import (
	"strings"
	"testing"
	"time"

	"github.com/lexvoice/voicegate/internal/session"
)

func newSession(t *testing.T) *session.Session {
	t.Helper()
	return session.NewRegistry().Create("CA1", "MZ1", "+61400000000")
}

func TestKeywordPolicy(t *testing.T) {
	cases := []struct {
		name       string
		transcript string
		want       bool
	}{
		{"direct request", "I want to speak to a human", true},
		{"agent keyword", "get me an AGENT please", true},
		{"phrase", "can I talk to someone about my order", true},
		{"real person", "I'd rather deal with a real person", true},
		{"benign", "what products do you have", false},
		{"substring not word", "the payments system is humane", false},
		{"empty", "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := newSession(t)
			got, reason := KeywordPolicy{}.Evaluate(s, tc.transcript)
			if got != tc.want {
				t.Errorf("Evaluate(%q) = %v, want %v", tc.transcript, got, tc.want)
			}
			if got && reason != ReasonKeywordDetected {
				t.Errorf("reason = %q, want %q", reason, ReasonKeywordDetected)
			}
		})
	}
}

func TestPoliciesRecordTranscript(t *testing.T) {
	for _, p := range []Policy{KeywordPolicy{}, ToolPolicy{}} {
		s := newSession(t)
		p.Evaluate(s, "hello there")
		if got := s.RecentTranscript(1); len(got) != 1 || got[0] != "hello there" {
			t.Errorf("%T did not record transcript: %v", p, got)
		}
	}
}

func TestToolPolicyNeverEscalates(t *testing.T) {
	s := newSession(t)
	if got, _ := (ToolPolicy{}).Evaluate(s, "I demand a human agent right now"); got {
		t.Error("tool policy escalated on transcript text")
	}
}

func TestForMode(t *testing.T) {
	if _, ok := ForMode("keyword").(KeywordPolicy); !ok {
		t.Error(`ForMode("keyword") is not KeywordPolicy`)
	}
	if _, ok := ForMode("tool").(ToolPolicy); !ok {
		t.Error(`ForMode("tool") is not ToolPolicy`)
	}
	if _, ok := ForMode("").(ToolPolicy); !ok {
		t.Error("default mode is not ToolPolicy")
	}
}

func TestSummary(t *testing.T) {
	s := newSession(t)
	s.AppendTranscript("I need help with my invoice")
	s.AppendTranscript("can you transfer me")

	got := Summary(s)
	for _, want := range []string{
		"Caller: +61400000000",
		"I need help with my invoice | can you transfer me",
		"User requested human assistance",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("summary missing %q: %s", want, got)
		}
	}
}

func TestSummaryEmptyTranscript(t *testing.T) {
	reg := session.NewRegistry()
	s := reg.Create("CA1", "MZ1", "")
	// Backdate so the duration renders as minutes and seconds.
	s.StartTime = time.Now().Add(-90 * time.Second)

	got := Summary(s)
	if !strings.Contains(got, "Caller: Unknown") {
		t.Errorf("summary missing unknown caller: %s", got)
	}
	if !strings.Contains(got, "No transcript available") {
		t.Errorf("summary missing transcript placeholder: %s", got)
	}
	if !strings.Contains(got, "1m30s") {
		t.Errorf("summary missing duration: %s", got)
	}
}
