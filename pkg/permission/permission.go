// Package permission implements the fail-closed capability gate that runs
// before any tool handler.
//
// Grants are matched by exact string equality. A "file:*" grant does not
// satisfy "file:read", and neither does " file:read ".
package permission

import (
	"fmt"
	"sort"
	"strings"
)

// Set is an unordered collection of permission strings.
type Set map[string]struct{}

// NewSet builds a Set, dropping empty entries. Entries are kept verbatim.
func NewSet(perms ...string) Set {
	s := make(Set, len(perms))
	for _, p := range perms {
		if p == "" {
			continue
		}
		s[p] = struct{}{}
	}
	return s
}

// Has reports whether p is in the set.
func (s Set) Has(p string) bool {
	_, ok := s[p]
	return ok
}

// Slice returns the sorted members of the set.
func (s Set) Slice() []string {
	out := make([]string, 0, len(s))
	for p := range s {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// DeniedError lists the permissions a caller lacked.
type DeniedError struct {
	Missing []string
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("permission denied: missing %s", strings.Join(e.Missing, ", "))
}

// Check returns nil when every required permission is granted, otherwise a
// *DeniedError naming the missing ones in sorted order.
func Check(required, granted []string) error {
	return CheckSet(NewSet(required...), NewSet(granted...))
}

// CheckSet is Check for prebuilt sets.
func CheckSet(required, granted Set) error {
	var missing []string
	for p := range required {
		if !granted.Has(p) {
			missing = append(missing, p)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	sort.Strings(missing)
	return &DeniedError{Missing: missing}
}
