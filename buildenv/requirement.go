package buildenv

import (
	"regexp"
	"strings"

	"github.com/pkg/errors"
)

// Requirement is a parsed pip requirement, like "setuptools-scm>=8" or "numpy<2; python_version<'3.12'".
type Requirement struct {
	Package    string
	Extras     string
	Specifiers []VersionSpecifier
	Marker     string
}

// VersionSpecifier is one version constraint of a requirement, e.g.: Op=">=", Version="8".
type VersionSpecifier struct {
	Op, Version string
}

// reRequirement splits the raw string into name, extras, specifiers and environment marker.
var reRequirement = regexp.MustCompile(`^([A-Za-z0-9][A-Za-z0-9._-]*)\s*(\[[^\]]*\])?\s*([^;]*?)\s*(?:;\s*(.+))?$`)

// reSpecifier captures the operator and version of one specifier.
var reSpecifier = regexp.MustCompile(`^(===|==|!=|<=|>=|~=|<|>)\s*([A-Za-z0-9.*+!_-]+)$`)

// ParseRequirement parses a pip requirement string.
func ParseRequirement(raw string) (Requirement, error) {
	raw = strings.TrimSpace(raw)
	matches := reRequirement.FindStringSubmatch(raw)
	if len(matches) == 0 {
		return Requirement{}, errors.Errorf("malformed pip requirement %q", raw)
	}
	req := Requirement{
		Package: matches[1],
		Extras:  matches[2],
		Marker:  strings.TrimSpace(matches[4]),
	}
	fullSpec := strings.TrimSpace(matches[3])
	if fullSpec == "" {
		return req, nil
	}
	for _, part := range strings.Split(fullSpec, ",") {
		part = strings.TrimSpace(part)
		specMatches := reSpecifier.FindStringSubmatch(part)
		if len(specMatches) == 0 {
			return Requirement{}, errors.Errorf("malformed version specifier %q in pip requirement %q", part, raw)
		}
		req.Specifiers = append(req.Specifiers, VersionSpecifier{Op: specMatches[1], Version: specMatches[2]})
	}
	return req, nil
}

// String returns the requirement in pip's format.
func (r Requirement) String() string {
	var sb strings.Builder
	sb.WriteString(r.Package)
	sb.WriteString(r.Extras)
	for ii, spec := range r.Specifiers {
		if ii > 0 {
			sb.WriteString(",")
		}
		sb.WriteString(spec.Op)
		sb.WriteString(spec.Version)
	}
	if r.Marker != "" {
		sb.WriteString("; ")
		sb.WriteString(r.Marker)
	}
	return sb.String()
}
