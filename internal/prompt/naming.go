package prompt

import (
	"fmt"
	"regexp"

	"github.com/nikhilbhutani/promptdeck/internal/apperrors"
)

var slugPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,62}$`)

// ValidateSlug checks environment and branch names.
func ValidateSlug(kind, s string) error {
	if !slugPattern.MatchString(s) {
		return apperrors.Validation("%s %q must be lowercase letters, digits, '-' or '_' (max 63)", kind, s)
	}
	return nil
}

// CopyName picks the first free name among name_copy, name_copy_1,
// name_copy_2 and so on.
func CopyName(name string, taken map[string]bool) string {
	candidate := name + "_copy"
	for i := 1; taken[candidate]; i++ {
		candidate = fmt.Sprintf("%s_copy_%d", name, i)
	}
	return candidate
}
