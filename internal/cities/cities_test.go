package cities

import "testing"

func TestIsPlaceholder(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"oslo", true},
		{"Oslo", true},
		{" tokyo ", true},
		{"oslo-2", true},
		{"oslo-12", true},
		{"my-feature", false},
		{"oslo-branch", false},
		{"oslo-", false},
		{"-2", false},
		{"", false},
		{"atlantis", false},
	}
	for _, tt := range tests {
		if got := IsPlaceholder(tt.name); got != tt.want {
			t.Errorf("IsPlaceholder(%q) = %v; want %v", tt.name, got, tt.want)
		}
	}
}

func TestNamesAreUniqueAndLowercase(t *testing.T) {
	seen := make(map[string]struct{})
	for _, n := range Names {
		if _, dup := seen[n]; dup {
			t.Errorf("duplicate placeholder name %q", n)
		}
		seen[n] = struct{}{}
		for _, r := range n {
			if r < 'a' || r > 'z' {
				t.Errorf("name %q is not plain lowercase", n)
				break
			}
		}
	}
}
