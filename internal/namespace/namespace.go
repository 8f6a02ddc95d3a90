// Package namespace derives and validates the project identifier that
// isolates all orchestrator state for one project from all others.
package namespace

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

var (
	slugRe  = regexp.MustCompile(`[^a-z0-9_]+`)
	validRe = regexp.MustCompile(`^[a-z][a-z0-9_]{2,63}$`)
)

// Derive computes the namespace for a project from its root path and name.
// The result is deterministic: the same path and name always yield the same
// namespace, so repeated initialization is idempotent. The path component is
// hashed so that two projects with the same name in different directories
// never share a namespace.
func Derive(rootPath, name string) (string, error) {
	abs, err := filepath.Abs(rootPath)
	if err != nil {
		return "", fmt.Errorf("resolving project path: %w", err)
	}

	slug := Slugify(name)
	if slug == "" {
		return "", fmt.Errorf("project name %q produces an empty slug", name)
	}

	sum := sha256.Sum256([]byte(abs))
	ns := slug + "_" + hex.EncodeToString(sum[:4])
	if !Validate(ns) {
		return "", fmt.Errorf("derived namespace %q is not valid", ns)
	}
	return ns, nil
}

// Slugify converts a project name into a namespace-safe slug: lowercase,
// alphanumeric and underscore only, capped at 40 characters.
func Slugify(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	s = strings.ReplaceAll(s, " ", "_")
	s = strings.ReplaceAll(s, "-", "_")
	s = slugRe.ReplaceAllString(s, "")
	for strings.Contains(s, "__") {
		s = strings.ReplaceAll(s, "__", "_")
	}
	s = strings.Trim(s, "_")
	if len(s) > 40 {
		s = strings.Trim(s[:40], "_")
	}
	return s
}

// Validate reports whether ns is a syntactically valid namespace:
// lowercase, starts with a letter, alphanumeric and underscore, 3-64 chars.
// Malformed namespaces are rejected before they reach storage.
func Validate(ns string) bool {
	return validRe.MatchString(ns)
}
