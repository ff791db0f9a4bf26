package claims

import "strings"

type edgeRule struct {
	aiAllowed bool
}

// transitionTable lists every legal edge. Only open -> validation_complete
// may be driven by the AI path; every other edge needs a human.
var transitionTable = map[Status]map[Status]edgeRule{
	StatusOpen: {
		StatusValidationComplete: {aiAllowed: true},
		StatusNeedMoreInfo:       {},
	},
	StatusValidationComplete: {
		StatusVerified:     {},
		StatusNeedMoreInfo: {},
	},
	StatusVerified: {
		StatusApproved:     {},
		StatusDenied:       {},
		StatusNeedMoreInfo: {},
	},
	StatusNeedMoreInfo: {
		StatusOpen:               {},
		StatusValidationComplete: {},
		StatusVerified:           {},
	},
	StatusApproved: {},
	StatusDenied:   {},
}

// CheckTransition reports whether from -> to is a legal edge for the actor.
func CheckTransition(from, to Status, ai bool) error {
	edges, ok := transitionTable[from]
	if !ok {
		return invalidTransition("unknown status %q", from)
	}
	if from.Terminal() {
		return invalidTransition("claim is %s; no further transitions allowed", from)
	}
	rule, ok := edges[to]
	if !ok {
		return invalidTransition("transition %s -> %s is not allowed", from, to)
	}
	if ai && !rule.aiAllowed {
		return invalidTransition("transition %s -> %s requires a human actor", from, to)
	}
	return nil
}

// AllowedTargets returns the statuses reachable from s in table order.
func AllowedTargets(s Status) []Status {
	var out []Status
	for _, st := range allStatuses {
		if _, ok := transitionTable[s][st]; ok {
			out = append(out, st)
		}
	}
	return out
}

// ValidateWalk checks that history is a legal walk starting at open.
func ValidateWalk(history []StatusTransition) error {
	cur := StatusOpen
	for i, t := range history {
		if t.FromStatus != cur {
			return invalidTransition("transition %d starts at %s, expected %s", i, t.FromStatus, cur)
		}
		if err := CheckTransition(t.FromStatus, t.ToStatus, t.AISuggested); err != nil {
			return err
		}
		if i > 0 && !t.CreatedAt.After(history[i-1].CreatedAt) {
			return invalidTransition("transition %d is not strictly after its predecessor", i)
		}
		cur = t.ToStatus
	}
	return nil
}

func isAIActor(changedBy string) bool {
	return strings.EqualFold(strings.TrimSpace(changedBy), ActorAI)
}
