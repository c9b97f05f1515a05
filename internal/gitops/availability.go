package gitops

import "strings"

// Reason is the closed set of availability-change causes.
type Reason string

const (
	ReasonPushSuccess   Reason = "push-success"
	ReasonFetchSuccess  Reason = "fetch-success"
	ReasonPushFailed    Reason = "push-failed"
	ReasonFetchFailed   Reason = "fetch-failed"
	ReasonNetworkError  Reason = "network-error"
	ReasonAuthError     Reason = "auth-error"
	ReasonMergeConflict Reason = "merge-conflict"
	ReasonPushTimeout   Reason = "push-timeout"
	ReasonUnknown       Reason = "unknown"
)

// AvailabilityFunc receives git availability transitions.
type AvailabilityFunc func(available bool, reason Reason, details string)

// OnAvailabilityChange registers an availability subscriber.
func (g *Git) OnAvailabilityChange(cb AvailabilityFunc) {
	g.availMu.Lock()
	defer g.availMu.Unlock()
	g.availSubs = append(g.availSubs, cb)
}

// Availability returns the last reported state.
func (g *Git) Availability() (available bool, reason Reason, details string) {
	g.availMu.Lock()
	defer g.availMu.Unlock()
	return g.available, g.reason, g.details
}

// notifyAvailability records the state and fans it out to subscribers.
func (g *Git) notifyAvailability(available bool, reason Reason, details string) {
	g.availMu.Lock()
	g.available = available
	g.reason = reason
	g.details = details
	subs := make([]AvailabilityFunc, len(g.availSubs))
	copy(subs, g.availSubs)
	g.availMu.Unlock()

	if !available {
		g.log.Printf("git unavailable: %s (%s)", reason, firstLine(details))
	}
	for _, cb := range subs {
		cb(available, reason, details)
	}
}

// classifyGitError narrows a subprocess failure to the most actionable
// reason. Network and auth problems look the same in both directions;
// anything unrecognized falls back to the caller's per-direction reason.
func classifyGitError(output string, fallback Reason) Reason {
	lower := strings.ToLower(output)
	switch {
	case strings.Contains(lower, "could not resolve host"),
		strings.Contains(lower, "connection refused"),
		strings.Contains(lower, "connection timed out"),
		strings.Contains(lower, "network is unreachable"):
		return ReasonNetworkError
	case strings.Contains(lower, "authentication failed"),
		strings.Contains(lower, "permission denied"),
		strings.Contains(lower, "403"),
		strings.Contains(lower, "could not read username"):
		return ReasonAuthError
	case strings.Contains(lower, "timed out") && fallback == ReasonPushFailed:
		return ReasonPushTimeout
	default:
		return fallback
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
