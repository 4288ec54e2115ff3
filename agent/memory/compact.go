package memory

import (
	"strings"

	contractx "github.com/napatsw/deskmate/agent/contract"
)

const summaryClauseLimit = 80

// summarize reduces dropped messages to one deterministic line: the first
// clause of each text, truncated, comma-joined. Determinism matters so a
// replayed chain audits to the same compacted state.
func summarize(dropped []contractx.Message) string {
	parts := make([]string, 0, len(dropped))
	for _, m := range dropped {
		text := strings.TrimSpace(m.Text())
		if text == "" {
			continue
		}
		clause := text
		if idx := strings.IndexByte(clause, '.'); idx >= 0 {
			clause = clause[:idx]
		}
		if len(clause) > summaryClauseLimit {
			clause = clause[:summaryClauseLimit]
		}
		parts = append(parts, clause)
		if len(parts) == 10 {
			break
		}
	}
	return strings.Join(parts, ", ")
}

// compactSession trims sess in place once the message count exceeds
// threshold: the latest keep messages survive verbatim, everything older is
// folded into the session summary.
func compactSession(sess *contractx.SessionMemory, threshold, keep int) {
	if len(sess.Messages) <= threshold {
		return
	}
	if keep <= 0 || keep > threshold {
		keep = threshold
	}

	cut := len(sess.Messages) - keep
	dropped := sess.Messages[:cut]

	summary := summarize(dropped)
	if sess.Summary != "" && summary != "" {
		sess.Summary = sess.Summary + "; " + summary
	} else if summary != "" {
		sess.Summary = summary
	}

	kept := make([]contractx.Message, keep)
	copy(kept, sess.Messages[cut:])
	sess.Messages = kept

	if len(sess.Sentiments) > keep {
		tail := make([]float64, keep)
		copy(tail, sess.Sentiments[len(sess.Sentiments)-keep:])
		sess.Sentiments = tail
	}
}
