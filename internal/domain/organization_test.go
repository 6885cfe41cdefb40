package domain

import (
	"errors"
	"strings"
	"testing"
)

func TestParseStatusFromString(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   string
		want    Status
		wantErr bool
	}{
		{name: "valid lowercase", input: "pending", want: StatusPending},
		{name: "valid uppercase with spaces", input: " COMPLETED ", want: StatusCompleted},
		{name: "invalid", input: "archived", wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := ParseStatusFromString(tt.input)
			if tt.wantErr {
				if !errors.Is(err, ErrValidation) {
					t.Fatalf("ParseStatusFromString() error = %v, want ErrValidation", err)
				}
				return
			}

			if err != nil {
				t.Fatalf("ParseStatusFromString() unexpected error = %v", err)
			}
			if got != tt.want {
				t.Fatalf("ParseStatusFromString() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestStatusIsTerminal(t *testing.T) {
	t.Parallel()

	if StatusPending.IsTerminal() || StatusProcessing.IsTerminal() {
		t.Fatal("pending and processing must not be terminal")
	}
	if !StatusCompleted.IsTerminal() || !StatusFailed.IsTerminal() {
		t.Fatal("completed and failed must be terminal")
	}
}

func TestOrganizationValidate(t *testing.T) {
	t.Parallel()

	email := "ops@acme.com"
	valid := Organization{Name: "Acme", Domain: "acme.com", ContactEmail: &email}
	if err := valid.Validate(); err != nil {
		t.Fatalf("Validate() unexpected error = %v", err)
	}

	noEmail := Organization{Name: "Acme", Domain: "acme.com"}
	if err := noEmail.Validate(); err != nil {
		t.Fatalf("Validate() without contact email should pass, got %v", err)
	}

	tests := []struct {
		name string
		org  Organization
	}{
		{name: "missing name", org: Organization{Domain: "acme.com"}},
		{name: "missing domain", org: Organization{Name: "Acme"}},
		{name: "name too long", org: Organization{Name: strings.Repeat("a", MaxNameLength+1), Domain: "acme.com"}},
		{name: "domain too long", org: Organization{Name: "Acme", Domain: strings.Repeat("a", MaxDomainLength+1)}},
		{
			name: "invalid email",
			org: func() Organization {
				bad := "not-an-email"
				return Organization{Name: "Acme", Domain: "acme.com", ContactEmail: &bad}
			}(),
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if err := tt.org.Validate(); !errors.Is(err, ErrValidation) {
				t.Fatalf("Validate() error = %v, want ErrValidation", err)
			}
		})
	}
}
