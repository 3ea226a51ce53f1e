package domain

// Derive computes the aggregate status of a master from its content statuses.
// The rules are evaluated in priority order:
//
//  1. some but not all contents MISSING       -> INCOMPLETE
//  2. every content OK or NOT_APPLICABLE      -> OK (non-empty set only)
//  3. at least one MISSING (so all MISSING)   -> MISSING
//  4. empty set                               -> "" (no opinion)
//
// Derive is pure: the same content set always yields the same status.
func Derive(contents []Content) Status {
	if len(contents) == 0 {
		return ""
	}
	var missing, okOrNA int
	for _, c := range contents {
		switch c.Status {
		case StatusMissing:
			missing++
		case StatusOK, StatusNotApplicable:
			okOrNA++
		}
	}
	total := len(contents)
	if missing > 0 && missing < total {
		return StatusIncomplete
	}
	if okOrNA == total {
		return StatusOK
	}
	if missing > 0 {
		return StatusMissing
	}
	return ""
}
