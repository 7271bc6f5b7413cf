package engine

import "strings"

// normalizeFailures maps wire-level failures reported by the engine
// into the FailureCategory taxonomy, dropping anything the wire format
// didn't already categorize into FailureUnknown rather than guessing
// from engine-native text.
func normalizeFailures(wire []failureWire) []Failure {
	if len(wire) == 0 {
		return nil
	}
	out := make([]Failure, 0, len(wire))
	for _, f := range wire {
		out = append(out, Failure{
			Category:   normalizeCategory(f.Category),
			Summary:    f.Summary,
			Detail:     f.Detail,
			ActionHint: actionHintFor(normalizeCategory(f.Category)),
		})
	}
	return out
}

// normalizeCategory maps an engine-reported category string onto the
// fixed taxonomy. Unrecognized values become FailureUnknown rather
// than passed through, so engine-native vocabulary never leaks past
// this boundary.
func normalizeCategory(raw string) FailureCategory {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case string(FailureValidation):
		return FailureValidation
	case string(FailurePolicy):
		return FailurePolicy
	case string(FailureArtifact):
		return FailureArtifact
	case string(FailureInfrastructure):
		return FailureInfrastructure
	case string(FailureConfig):
		return FailureConfig
	case string(FailureApp):
		return FailureApp
	case string(FailureTimeout):
		return FailureTimeout
	case string(FailureRollback):
		return FailureRollback
	default:
		return FailureUnknown
	}
}

// actionHintFor returns a fixed, category-keyed hint string — never
// derived from engine-native text — so the caller always has a safe
// suggestion to surface regardless of what the engine actually said.
func actionHintFor(cat FailureCategory) string {
	switch cat {
	case FailureValidation:
		return "check the deployment intent against the recipe's required parameters"
	case FailurePolicy:
		return "the engine itself rejected this run under its own policy; contact the recipe owner"
	case FailureArtifact:
		return "verify the build artifact is reachable and matches the declared checksum"
	case FailureInfrastructure:
		return "retry once the underlying platform recovers; this was not caused by the deployment intent"
	case FailureConfig:
		return "check the recipe's environment configuration for this service"
	case FailureApp:
		return "inspect application logs for the triggered execution"
	case FailureTimeout:
		return "the execution exceeded its allotted time; consider retrying or escalating"
	case FailureRollback:
		return "the rollback execution itself failed; manual intervention may be required"
	default:
		return "no further detail was provided by the engine"
	}
}
