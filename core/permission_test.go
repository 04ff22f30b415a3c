package core

import (
	"errors"
	"testing"
)

func TestPermission_Satisfies(t *testing.T) {
	tests := []struct {
		have     Permission
		required Permission
		want     bool
	}{
		{PermissionRead, PermissionRead, true},
		{PermissionRead, PermissionWrite, false},
		{PermissionRead, PermissionAdmin, false},
		{PermissionWrite, PermissionRead, true},
		{PermissionWrite, PermissionWrite, true},
		{PermissionWrite, PermissionAdmin, false},
		{PermissionAdmin, PermissionRead, true},
		{PermissionAdmin, PermissionAdmin, true},
		{Permission("owner"), PermissionRead, false},
		{Permission(""), PermissionRead, false},
	}

	for _, tt := range tests {
		if got := tt.have.Satisfies(tt.required); got != tt.want {
			t.Errorf("%q.Satisfies(%q) = %v, want %v", tt.have, tt.required, got, tt.want)
		}
	}
}

func TestParsePermission(t *testing.T) {
	p, err := ParsePermission(" Write ")
	if err != nil {
		t.Fatalf("ParsePermission() failed: %v", err)
	}
	if p != PermissionWrite {
		t.Errorf("ParsePermission() = %q, want %q", p, PermissionWrite)
	}

	_, err = ParsePermission("superuser")
	if !errors.Is(err, ErrValidation) {
		t.Errorf("ParsePermission(superuser) error = %v, want ErrValidation", err)
	}
}
