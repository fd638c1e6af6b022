package storage

import "strings"

// MatchPattern reports whether key matches the Redis glob pattern. It
// supports '*', '?', '[...]' classes with ranges and '^' negation, and
// backslash escapes.
func MatchPattern(key, pattern string) bool {
	if isSimplePattern(pattern) {
		return matchPatternSimple(key, pattern)
	}
	return matchPatternAutomaton(key, pattern)
}

// isSimplePattern reports whether pattern holds at most one '*' and no
// other special characters
func isSimplePattern(pattern string) bool {
	return strings.Count(pattern, "*") <= 1 && !strings.ContainsAny(pattern, "?[\\")
}

// matchPatternSimple handles the common prefix, suffix and infix forms
func matchPatternSimple(key, pattern string) bool {
	if pattern == "*" {
		return true
	}

	starIndex := strings.IndexByte(pattern, '*')
	if starIndex == -1 {
		return key == pattern
	}

	prefix, suffix := pattern[:starIndex], pattern[starIndex+1:]
	return len(key) >= len(prefix)+len(suffix) &&
		strings.HasPrefix(key, prefix) &&
		strings.HasSuffix(key, suffix)
}

// matchPatternAutomaton implements full pattern matching with memoization
func matchPatternAutomaton(str, pattern string) bool {
	return matchAutomaton(str, pattern, 0, 0, make(map[[2]int]bool))
}

func matchAutomaton(str, pattern string, strIdx, patIdx int, memo map[[2]int]bool) bool {
	key := [2]int{strIdx, patIdx}
	if result, exists := memo[key]; exists {
		return result
	}

	var result bool
	switch {
	case patIdx == len(pattern):
		result = strIdx == len(str)
	case pattern[patIdx] == '*':
		// Zero characters, or one more and stay on the star
		result = matchAutomaton(str, pattern, strIdx, patIdx+1, memo) ||
			(strIdx < len(str) && matchAutomaton(str, pattern, strIdx+1, patIdx, memo))
	case strIdx == len(str):
		result = false
	case pattern[patIdx] == '?':
		result = matchAutomaton(str, pattern, strIdx+1, patIdx+1, memo)
	case pattern[patIdx] == '[':
		ok, next := matchClass(pattern, patIdx, str[strIdx])
		result = ok && matchAutomaton(str, pattern, strIdx+1, next, memo)
	case pattern[patIdx] == '\\' && patIdx+1 < len(pattern):
		result = pattern[patIdx+1] == str[strIdx] &&
			matchAutomaton(str, pattern, strIdx+1, patIdx+2, memo)
	default:
		result = pattern[patIdx] == str[strIdx] &&
			matchAutomaton(str, pattern, strIdx+1, patIdx+1, memo)
	}

	memo[key] = result
	return result
}

// matchClass matches c against the class opening at pattern[start] and
// returns the index just past it. An unterminated class runs to the end
// of the pattern.
func matchClass(pattern string, start int, c byte) (bool, int) {
	i := start + 1
	negate := false
	if i < len(pattern) && pattern[i] == '^' {
		negate = true
		i++
	}

	matched := false
	for i < len(pattern) && pattern[i] != ']' {
		switch {
		case pattern[i] == '\\' && i+1 < len(pattern):
			if pattern[i+1] == c {
				matched = true
			}
			i += 2
		case i+2 < len(pattern) && pattern[i+1] == '-' && pattern[i+2] != ']':
			lo, hi := pattern[i], pattern[i+2]
			if lo > hi {
				lo, hi = hi, lo
			}
			if c >= lo && c <= hi {
				matched = true
			}
			i += 3
		default:
			if pattern[i] == c {
				matched = true
			}
			i++
		}
	}
	if i < len(pattern) {
		i++
	}
	return matched != negate, i
}
