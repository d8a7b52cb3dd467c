package repository

import (
	"errors"
	"fmt"
	"testing"
)

func TestEscapeLike(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "2000", want: "2000"},
		{in: "2000-0_", want: `2000-0\_`},
		{in: "50%", want: `50\%`},
		{in: `a\b`, want: `a\\b`},
	}

	for _, tt := range tests {
		if got := escapeLike(tt.in); got != tt.want {
			t.Errorf("escapeLike(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNotFoundError(t *testing.T) {
	err := fmt.Errorf("lookup: %w", &NotFoundError{Resource: "benchmark_run", ID: "abc"})

	var notFound *NotFoundError
	if !errors.As(err, &notFound) {
		t.Fatal("expected NotFoundError in chain")
	}
	if notFound.IsTransient() {
		t.Error("NotFoundError should not be transient")
	}
	if got := notFound.Error(); got != "benchmark_run not found: abc" {
		t.Errorf("Error() = %q", got)
	}
}
