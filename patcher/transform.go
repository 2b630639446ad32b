// Package patcher applies textual patches to the source files of an external project, in place.
//
// Each patch is an ordered list of Transform values, and each Transform is a pair of a match predicate and a
// replacement. Transforms are written to be idempotent: applying a patch to already patched content changes
// nothing.
package patcher

import (
	"regexp"
	"strings"
)

// Transform is one textual edit. Replace is only called if Match returns true.
type Transform struct {
	// Name describes the edit in logs.
	Name string

	Match   func(text string) bool
	Replace func(text string) string
}

// Apply the transform to text. It returns the new text and whether it changed.
func (t Transform) Apply(text string) (string, bool) {
	if !t.Match(text) {
		return text, false
	}
	result := t.Replace(text)
	return result, result != text
}

// Literal replaces every occurrence of old by replacement.
//
// For the transform to be idempotent, replacement must not contain old.
func Literal(name, old, replacement string) Transform {
	return Transform{
		Name:    name,
		Match:   func(text string) bool { return strings.Contains(text, old) },
		Replace: func(text string) string { return strings.ReplaceAll(text, old, replacement) },
	}
}

// Regex replaces every match of re by repl, which may reference groups as in regexp.Regexp.ReplaceAllString.
func Regex(name string, re *regexp.Regexp, repl string) Transform {
	return Transform{
		Name:    name,
		Match:   re.MatchString,
		Replace: func(text string) string { return re.ReplaceAllString(text, repl) },
	}
}

// CommentOutLines prefixes with "# " every line that starts (after indentation) with stmt.
// Lines already commented out are left alone.
func CommentOutLines(name, stmt string) Transform {
	re := regexp.MustCompile(`(?m)^([ \t]*)` + regexp.QuoteMeta(stmt) + `\b`)
	return Regex(name, re, "${1}# "+stmt)
}

// PrependUnless inserts header at the start of the text, unless guard is already present.
func PrependUnless(name, guard, header string) Transform {
	return Transform{
		Name:    name,
		Match:   func(text string) bool { return !strings.Contains(text, guard) },
		Replace: func(text string) string { return header + text },
	}
}

// AppendUnless adds trailer at the end of the text, unless guard is already present.
func AppendUnless(name, guard, trailer string) Transform {
	return Transform{
		Name:    name,
		Match:   func(text string) bool { return !strings.Contains(text, guard) },
		Replace: func(text string) string { return text + trailer },
	}
}
