package query

// patternStarts returns the byte offsets at which top-level patterns begin.
// A top-level pattern starts with a parenthesised node, a bracketed
// alternation, a quoted anonymous node or a wildcard at nesting depth zero.
// Strings and ';' comments are skipped; captures, quantifiers and anchors
// that follow a pattern belong to it.
func patternStarts(src string) []uint {
	var starts []uint
	depth := 0
	for i := 0; i < len(src); i++ {
		ch := src[i]
		switch ch {
		case ';':
			for i < len(src) && src[i] != '\n' {
				i++
			}
		case '"':
			if depth == 0 {
				starts = append(starts, uint(i))
			}
			i = skipString(src, i)
		case '(', '[':
			if depth == 0 {
				starts = append(starts, uint(i))
			}
			depth++
		case ')', ']':
			if depth > 0 {
				depth--
			}
		case '_':
			if depth == 0 && standalone(src, i) {
				starts = append(starts, uint(i))
			}
		case '@':
			for i+1 < len(src) && isIdentByte(src[i+1]) {
				i++
			}
		}
	}
	return starts
}

// patternIndexAt returns the index of the top-level pattern containing off.
// Offsets before the first pattern map to 0.
func patternIndexAt(src string, off uint) int {
	idx := 0
	for i, s := range patternStarts(src) {
		if s > off {
			break
		}
		idx = i
	}
	return idx
}

func skipString(src string, i int) int {
	for i++; i < len(src); i++ {
		switch src[i] {
		case '\\':
			i++
		case '"':
			return i
		}
	}
	return i
}

func standalone(src string, i int) bool {
	before := i == 0 || !isIdentByte(src[i-1])
	after := i+1 >= len(src) || !isIdentByte(src[i+1])
	return before && after
}

func isIdentByte(b byte) bool {
	return b == '_' || b == '.' || b == '-' || b == '?' || b == '!' ||
		('a' <= b && b <= 'z') || ('A' <= b && b <= 'Z') || ('0' <= b && b <= '9')
}
