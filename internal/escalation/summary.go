package escalation

import (
	"fmt"
	"strings"
	"time"

	"github.com/lexvoice/voicegate/internal/session"
)

// Summary builds the short human-readable context a Connect agent sees
// when they pick up an escalated call.
func Summary(s *session.Session) string {
	dur := time.Since(s.StartTime)
	mins := int(dur.Minutes())
	secs := int(dur.Seconds()) % 60

	caller := s.CallerPhone
	if caller == "" {
		caller = "Unknown"
	}

	recent := s.RecentTranscript(5)
	conversation := "No transcript available"
	if len(recent) > 0 {
		conversation = strings.Join(recent, " | ")
	}

	summary := fmt.Sprintf(
		"Call duration: %dm%ds. Caller: %s. Intent: User requested human assistance. Recent conversation: %s",
		mins, secs, caller, conversation,
	)
	return strings.TrimSpace(summary)
}
