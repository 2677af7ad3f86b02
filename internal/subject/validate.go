package subject

import (
	"fmt"
	"regexp"
	"strings"
)

const (
	// MinSegments is the minimum number of dot-separated name segments,
	// e.g. "exp.dataplatform.testsubject".
	MinSegments = 3
	MaxLength   = 249
)

var segmentRE = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*$`)

// Canonicalize normalizes a subject before validation and hashing.
func Canonicalize(subject string) string {
	return strings.ToLower(strings.TrimSpace(subject))
}

// Validate checks a subject name against the naming rules and returns every
// violated rule, in check order. An empty slice means the subject is valid.
func Validate(subject string) []string {
	s := Canonicalize(subject)
	var reasons []string
	if s == "" {
		return append(reasons, "subject must not be empty")
	}
	if len(s) > MaxLength {
		reasons = append(reasons, fmt.Sprintf("subject must not exceed %d characters", MaxLength))
	}
	segments := strings.Split(s, ".")
	if len(segments) < MinSegments {
		reasons = append(reasons, fmt.Sprintf("subject must have at least %d dot-separated segments", MinSegments))
	}
	for _, seg := range segments {
		if seg == "" {
			reasons = append(reasons, "subject must not contain empty segments")
			continue
		}
		if !segmentRE.MatchString(seg) {
			reasons = append(reasons, fmt.Sprintf("segment %q must start with a lowercase letter or digit and contain only [a-z0-9-]", seg))
		}
	}
	return reasons
}
