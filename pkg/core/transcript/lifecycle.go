package transcript

func statusRank(s Status) int {
	switch s {
	case StatusPending:
		return 1
	case StatusInProgress:
		return 2
	case StatusDone:
		return 3
	default:
		return 0
	}
}

// Advance returns the status an item ends up in when want is requested while
// it is in cur. Status never moves backward; unknown values are ignored.
func Advance(cur, want Status) Status {
	if statusRank(want) == 0 {
		return cur
	}
	if statusRank(want) > statusRank(cur) {
		return want
	}
	return cur
}

// MergeGuardrail applies a verdict patch to the current verdict.
//
// A pending verdict only ever starts a verdict that does not exist yet. A
// pass resolves a pending verdict. A violation wins over anything except an
// earlier violation, which stays terminal.
func MergeGuardrail(cur *Guardrail, patch Guardrail) (*Guardrail, bool) {
	violation := patch.Status == StatusDone && patch.Category != "" && patch.Category != GuardrailNone

	if cur == nil {
		g := patch
		if g.Status == StatusDone && g.Category == "" {
			g.Category = GuardrailNone
		}
		return &g, true
	}

	if cur.Status == StatusDone {
		if !violation || !cur.Passed() {
			return cur, false
		}
		g := patch
		return &g, true
	}

	switch patch.Status {
	case StatusDone:
		g := patch
		if g.Category == "" {
			g.Category = GuardrailNone
		}
		if g.TestText == "" {
			g.TestText = cur.TestText
		}
		return &g, true
	case StatusInProgress:
		if patch.TestText == "" || patch.TestText == cur.TestText {
			return cur, false
		}
		g := *cur
		g.TestText = patch.TestText
		return &g, true
	default:
		return cur, false
	}
}
