package featureflags

import (
	"os"
	"strings"
)

// Enabled reports whether an operational flag is switched on via the
// environment. A flag named "x" reads FLAG_X; accepted truthy values are
// 1/true/yes/on, case-insensitive. Absent flags are off.
func Enabled(name string) bool {
	switch strings.ToLower(os.Getenv("FLAG_" + strings.ToUpper(name))) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}
