package secret

import (
	"fmt"
	"os"
	"slices"
	"strings"
)

// LookupFunc reads one environment variable.
type LookupFunc func(key string) (string, bool)

// ExpandEnvStrict expands ${VAR} and $VAR from the process environment.
// See ExpandStrict.
func ExpandEnvStrict(s string) (string, error) {
	return ExpandStrict(s, os.LookupEnv)
}

// ExpandStrict expands ${VAR} and $VAR using lookup. Every unset variable
// is reported in one ErrMissingEnv error. $$ emits a literal $.
func ExpandStrict(s string, lookup LookupFunc) (string, error) {
	var missing []string
	expand := func(key string) string {
		if key == "$" {
			return "$"
		}
		v, ok := lookup(key)
		if !ok && !slices.Contains(missing, key) {
			missing = append(missing, key)
		}
		return v
	}

	// os.Expand treats "$$" as the special variable "$".
	out := os.Expand(s, expand)
	if len(missing) > 0 {
		slices.Sort(missing)
		return "", fmt.Errorf("%w: %s", ErrMissingEnv, strings.Join(missing, ", "))
	}
	return out, nil
}
