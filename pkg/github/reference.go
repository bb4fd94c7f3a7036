// Package github resolves repository references for the provisioning
// client: validation of the "owner/name" form and lookup of a
// repository's default branch when the caller does not pin one.
package github

import (
	"fmt"
	"regexp"
	"strings"
)

var repoPattern = regexp.MustCompile(`^([A-Za-z0-9][A-Za-z0-9-]*)/([A-Za-z0-9._-]+)$`)

// Repo is a parsed repository reference.
type Repo struct {
	Owner string
	Name  string
}

// String returns the "owner/name" form.
func (r Repo) String() string {
	return r.Owner + "/" + r.Name
}

// ParseRepo parses a repository reference in "owner/name" form.
func ParseRepo(target string) (Repo, error) {
	target = strings.TrimSpace(target)
	matches := repoPattern.FindStringSubmatch(target)
	if matches == nil {
		return Repo{}, fmt.Errorf("invalid repository reference %q, expected owner/name", target)
	}
	return Repo{Owner: matches[1], Name: matches[2]}, nil
}
