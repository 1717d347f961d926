package perception

// JSONCandidates scans the input for top-level JSON object candidates.
// Interpretation services sometimes wrap their JSON in prose or markdown
// fences despite instructions; this recovers the embedded objects. The
// byte-level state machine tracks brace depth and string escaping so nested
// objects and brace characters inside strings do not confuse the boundary
// detection.
//
// Iterating bytes for the ASCII delimiters is safe: UTF-8 guarantees ASCII
// bytes never appear inside a multi-byte sequence.
func JSONCandidates(s string) []string {
	var candidates []string
	var depth int
	start := -1
	var inString, escape bool

	for i := 0; i < len(s); i++ {
		b := s[i]

		if escape {
			escape = false
			continue
		}
		if inString {
			if b == '\\' {
				escape = true
			} else if b == '"' {
				inString = false
			}
			continue
		}

		switch b {
		case '"':
			inString = true
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth > 0 {
				depth--
				if depth == 0 && start != -1 {
					candidates = append(candidates, s[start:i+1])
					start = -1
				}
			}
		}
	}
	return candidates
}
