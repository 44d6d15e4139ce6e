package validation

import (
	"reflect"
	"strings"
	"testing"
)

func TestIsValidID(t *testing.T) {
	tests := []struct {
		name  string
		id    string
		valid bool
	}{
		{
			name:  "plain id",
			id:    "reward_0001",
			valid: true,
		},
		{
			name:  "store generated id",
			id:    "aB3xQ9-zz",
			valid: true,
		},
		{
			name:  "contains slash",
			id:    "m1/rewards",
			valid: false,
		},
		{
			name:  "contains space",
			id:    "a b",
			valid: false,
		},
		{
			name:  "dot segment",
			id:    "..",
			valid: false,
		},
		{
			name:  "too long",
			id:    strings.Repeat("x", MaxIDLength+1),
			valid: false,
		},
		{
			name:  "empty string",
			id:    "",
			valid: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := IsValidID(tt.id)
			if got != tt.valid {
				t.Fatalf("IsValidID(%q) = %v, want %v", tt.id, got, tt.valid)
			}
		})
	}
}

func TestNormalizeIDs(t *testing.T) {
	got := NormalizeIDs([]string{" r1", "r2", "", "r1", "r3 ", "r2"})
	want := []string{"r1", "r2", "r3"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("NormalizeIDs = %v, want %v", got, want)
	}
}
