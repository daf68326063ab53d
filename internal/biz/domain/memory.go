package domain

import "strings"

// AppendObservation adds obs to list with set-union semantics, keeping
// insertion order. It returns the resulting list and whether obs was new.
func AppendObservation(list []string, obs string) ([]string, bool) {
	obs = strings.TrimSpace(obs)
	if obs == "" {
		return list, false
	}
	for _, existing := range list {
		if existing == obs {
			return list, false
		}
	}
	return append(list, obs), true
}

// DecisionNote is the observation recorded when the owner answers a pending action
func DecisionNote(userMessage, instruction string) string {
	return "توجيه إداري بخصوص (" + userMessage + "): " + instruction
}
