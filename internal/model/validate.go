package model

import (
	"path"
	"regexp"
	"strings"
)

var validID = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// ValidID reports whether id is usable as a team, agent, task, or thread
// identifier. Dot names are rejected so an id can never address a parent
// directory.
func ValidID(id string) bool {
	if id == "" || id == "." || id == ".." {
		return false
	}
	return validID.MatchString(id)
}

// NormalizeResource canonicalizes a resource prefix or probe path: forward
// slashes, no leading "./" or "/", no trailing "/". Returns ok=false for
// empty results and for anything that still reaches upward after
// normalization.
func NormalizeResource(p string) (string, bool) {
	p = strings.ReplaceAll(p, "\\", "/")
	p = strings.TrimPrefix(p, "/")
	cleaned := path.Clean(p)
	if cleaned == "." || cleaned == "" {
		return "", false
	}
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", false
	}
	return strings.TrimSuffix(cleaned, "/"), true
}

// ResourceCovers reports whether a normalized resource grants a normalized
// path: equal, or the resource is a strict parent.
func ResourceCovers(resource, p string) bool {
	return resource == p || strings.HasPrefix(p, resource+"/")
}
