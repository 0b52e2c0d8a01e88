package rag

import (
	"fmt"
	"regexp"
)

// namespacePattern admits session tokens and the fixed shared namespace while
// keeping namespaces safe as directory and collection names.
var namespacePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// CheckNamespace rejects namespaces that cannot be used as a path segment.
func CheckNamespace(ns string) error {
	if !namespacePattern.MatchString(ns) {
		return fmt.Errorf("rag: invalid namespace %q", ns)
	}
	return nil
}
