// Package escalation decides when a call should leave the AI assistant
// and be handed to a human agent, and builds the context summary passed
// along with the handover.
package escalation

import (
	"regexp"
	"strings"

	"github.com/lexvoice/voicegate/internal/session"
)

// Reason classifies why a call escalated.
type Reason string

const (
	ReasonKeywordDetected Reason = "keyword_detected"
	ReasonAgentDecision   Reason = "agent_decision"
)

// Policy inspects each user transcript and reports whether the call
// should escalate. Implementations must record the transcript on the
// session regardless of the verdict.
type Policy interface {
	Evaluate(s *session.Session, transcript string) (bool, Reason)
}

var escalationPhrases = []string{
	"agent",
	"human",
	"representative",
	"operator",
	"speak to someone",
	"talk to someone",
	"real person",
	"speak with someone",
}

var phrasePatterns = func() []*regexp.Regexp {
	pats := make([]*regexp.Regexp, len(escalationPhrases))
	for i, p := range escalationPhrases {
		pats[i] = regexp.MustCompile(`\b` + regexp.QuoteMeta(p) + `\b`)
	}
	return pats
}()

// KeywordPolicy escalates when the caller asks for a person in so many
// words. Used when the configured model has no tool support, or when
// tool-driven escalation is disabled.
type KeywordPolicy struct{}

func (KeywordPolicy) Evaluate(s *session.Session, transcript string) (bool, Reason) {
	s.AppendTranscript(transcript)
	lower := strings.ToLower(transcript)
	for _, pat := range phrasePatterns {
		if pat.MatchString(lower) {
			return true, ReasonKeywordDetected
		}
	}
	return false, ""
}

// ToolPolicy leaves the decision to the model, which signals escalation
// through its escalate_to_human tool. Transcripts are still recorded for
// the handover summary.
type ToolPolicy struct{}

func (ToolPolicy) Evaluate(s *session.Session, transcript string) (bool, Reason) {
	s.AppendTranscript(transcript)
	return false, ""
}

// ForMode maps the configured escalation mode to a policy. Anything
// other than "keyword" gets the tool-driven default.
func ForMode(mode string) Policy {
	if mode == "keyword" {
		return KeywordPolicy{}
	}
	return ToolPolicy{}
}
