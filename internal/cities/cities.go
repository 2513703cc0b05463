// Package cities holds the static list of city names used as placeholder
// worktree names, and the check for whether a worktree still carries one.
package cities

import "strings"

// Names is the pool of placeholder names assigned to new worktrees before
// the user (or a session title) gives them a real name.
var Names = []string{
	"amsterdam", "athens", "auckland", "bangkok", "barcelona", "beijing",
	"berlin", "bogota", "boston", "brussels", "budapest", "cairo",
	"calgary", "chicago", "copenhagen", "dakar", "dallas", "denver",
	"dublin", "geneva", "hanoi", "havana", "helsinki", "houston",
	"istanbul", "jakarta", "kyoto", "lagos", "lima", "lisbon",
	"london", "madrid", "manila", "melbourne", "montreal", "mumbai",
	"nairobi", "naples", "oslo", "ottawa", "paris", "porto",
	"prague", "quito", "reykjavik", "riga", "rome", "santiago",
	"seattle", "seoul", "seville", "singapore", "sofia", "stockholm",
	"sydney", "taipei", "tokyo", "toronto", "tunis", "valencia",
	"vancouver", "venice", "vienna", "warsaw", "wellington", "zurich",
}

var nameSet = func() map[string]struct{} {
	m := make(map[string]struct{}, len(Names))
	for _, n := range Names {
		m[n] = struct{}{}
	}
	return m
}()

// IsPlaceholder reports whether name is one of the placeholder city names,
// optionally carrying a numeric disambiguation suffix ("oslo", "oslo-2").
func IsPlaceholder(name string) bool {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return false
	}
	if _, ok := nameSet[name]; ok {
		return true
	}
	if i := strings.LastIndex(name, "-"); i > 0 {
		base, suffix := name[:i], name[i+1:]
		if suffix != "" && isDigits(suffix) {
			_, ok := nameSet[base]
			return ok
		}
	}
	return false
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
