package storage

import "testing"

var matchTestCases = []struct {
	name     string
	str      string
	pattern  string
	expected bool
}{
	// Empty patterns
	{"empty pattern, empty string", "", "", true},
	{"empty pattern, non-empty string", "test", "", false},
	{"non-empty pattern, empty string", "", "test", false},

	// Exact matches
	{"exact match", "hello", "hello", true},
	{"exact match case sensitive", "Hello", "hello", false},

	// Single wildcard
	{"single wildcard, non-empty string", "test", "*", true},
	{"single wildcard, empty string", "", "*", true},

	// Prefix, suffix and infix
	{"prefix match", "hello world", "hello*", true},
	{"prefix no match", "hi world", "hello*", false},
	{"suffix match", "hello world", "*world", true},
	{"suffix no match", "hello universe", "*world", false},
	{"middle wildcard match", "hello world", "hello*world", true},
	{"middle wildcard empty middle", "helloworld", "hello*world", true},
	{"middle wildcard overlapping", "ab", "ab*b", false},

	// Single character wildcard
	{"single char wildcard", "hello", "hell?", true},
	{"single char wildcard no match", "hello", "hell??", false},
	{"single char wildcard multiple", "hello", "h?ll?", true},

	// Classes
	{"class match", "hallo", "h[ae]llo", true},
	{"class no match", "hillo", "h[ae]llo", false},
	{"class range", "key7", "key[0-9]", true},
	{"class range no match", "keyx", "key[0-9]", false},
	{"class negated", "hillo", "h[^e]llo", true},
	{"class negated no match", "hello", "h[^e]llo", false},

	// Escapes
	{"escaped star", "a*b", "a\\*b", true},
	{"escaped star no match", "axb", "a\\*b", false},
	{"escaped question mark", "what?", "what\\?", true},

	// Complex patterns
	{"multiple wildcards", "hello world test", "hello*world*", true},
	{"multiple wildcards no match", "hello universe test", "hello*world*", false},
	{"only stars", "anything", "***", true},
	{"only question marks no match", "abcd", "???", false},

	// Real-world Redis key patterns
	{"redis key prefix", "user:123:profile", "user:*", true},
	{"redis key middle", "user:123:profile", "user:*:profile", true},
	{"redis key complex", "cache:user:123:data", "cache:*:*:data", true},
	{"slash is not special", "a/b", "a*b", true},
}

func TestMatchPattern(t *testing.T) {
	for _, tc := range matchTestCases {
		t.Run(tc.name, func(t *testing.T) {
			result := MatchPattern(tc.str, tc.pattern)
			if result != tc.expected {
				t.Errorf("MatchPattern(%q, %q) = %v, expected %v",
					tc.str, tc.pattern, result, tc.expected)
			}
		})
	}
}

func TestMatchPatternAutomatonAgreesWithSimple(t *testing.T) {
	for _, tc := range matchTestCases {
		if !isSimplePattern(tc.pattern) {
			continue
		}
		simple := matchPatternSimple(tc.str, tc.pattern)
		automaton := matchPatternAutomaton(tc.str, tc.pattern)
		if simple != automaton {
			t.Errorf("pattern %q on %q: simple=%v automaton=%v",
				tc.pattern, tc.str, simple, automaton)
		}
	}
}

func TestMatchClassUnterminated(t *testing.T) {
	ok, next := matchClass("[ab", 0, 'b')
	if !ok {
		t.Error("expected unterminated class to match listed byte")
	}
	if next != 3 {
		t.Errorf("next = %d, expected 3", next)
	}
}
