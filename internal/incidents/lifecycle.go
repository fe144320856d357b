package incidents

// lifecycle is the only legal order of statuses; each status may advance to the next one only
var lifecycle = []Status{
	StatusReceived,
	StatusInvestigating,
	StatusAnalyzing,
	StatusRemediating,
	StatusResolved,
}

// Position returns the index of s in the lifecycle, or -1 for unknown statuses
func Position(s Status) int {
	for i, st := range lifecycle {
		if st == s {
			return i
		}
	}
	return -1
}

// IsValidStatus reports whether s is a known lifecycle status
func IsValidStatus(s Status) bool {
	return Position(s) >= 0
}

// CanTransition reports whether from -> to is a single forward step
func CanTransition(from, to Status) bool {
	f, t := Position(from), Position(to)
	if f < 0 || t < 0 {
		return false
	}
	return t == f+1
}

// Next returns the status following s and false when s is terminal or unknown
func Next(s Status) (Status, bool) {
	p := Position(s)
	if p < 0 || p == len(lifecycle)-1 {
		return "", false
	}
	return lifecycle[p+1], true
}

// ValidateTransition returns a *StateTransitionError when from -> to is not allowed
func ValidateTransition(from, to Status) error {
	if !CanTransition(from, to) {
		return &StateTransitionError{From: from, To: to}
	}
	return nil
}
