package runner

import "strings"

// FindStop reports the first stop string contained in sequence.
func FindStop(sequence string, stops []string) (bool, string) {
	for _, stop := range stops {
		if strings.Contains(sequence, stop) {
			return true, stop
		}
	}

	return false, ""
}

// ContainsStopSuffix reports whether sequence ends with a prefix of any stop
// string, meaning the text may still turn into a stop and should be held
// back.
func ContainsStopSuffix(sequence string, stops []string) bool {
	for _, stop := range stops {
		for i := 1; i <= len(stop); i++ {
			if strings.HasSuffix(sequence, stop[:i]) {
				return true
			}
		}
	}

	return false
}

// TruncateStop removes the provided stop string from pieces,
// returning the partial pieces with stop removed, including truncating
// the last piece if required (and signalling if this was the case)
func TruncateStop(pieces []string, stop string) ([]string, bool) {
	sequence := strings.Join(pieces, "")

	idx := strings.Index(sequence, stop)
	if idx < 0 {
		return pieces, false
	}

	truncated := sequence[:idx]
	if len(truncated) == 0 {
		return nil, true
	}

	result := make([]string, 0, len(pieces))

	// Track position in truncated sequence
	pos := 0
	truncationHappened := false
	for _, piece := range pieces {
		if pos >= len(truncated) {
			break
		}

		chunk := truncated[pos:min(pos+len(piece), len(truncated))]
		if len(chunk) < len(piece) {
			truncationHappened = true
		}
		if len(chunk) > 0 {
			result = append(result, chunk)
		}
		pos += len(piece)
	}

	return result, truncationHappened
}
