package artifact

import (
	"errors"
	"fmt"
	"path"
	"strings"
)

var (
	// ErrNotFound is returned when an artifact for the given run / name pair
	// does not exist in the underlying store.
	ErrNotFound = errors.New("artifact not found")

	// ErrInvalidName is returned for names that could escape the run scope.
	ErrInvalidName = errors.New("invalid artifact name")
)

// CleanName validates a run identifier or artifact name. Both must be single
// path segments so that stores can join them safely.
func CleanName(name string) (string, error) {
	n := strings.TrimSpace(name)
	if n == "" || n == "." || n == ".." || strings.ContainsAny(n, `/\`) || path.Clean(n) != n {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return n, nil
}
