package outcome

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCategoryExitCodes(t *testing.T) {
	tests := []struct {
		name     string
		category Category
		want     int
	}{
		{name: "general", category: General, want: 1},
		{name: "configuration", category: Configuration, want: 2},
		{name: "database", category: Database, want: 3},
		{name: "authentication shares the database code", category: Authentication, want: 3},
		{name: "email", category: Email, want: 4},
		{name: "already running", category: AlreadyRunning, want: 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.category.ExitCode())
		})
	}
}

func TestWrapKeepsFirstClassification(t *testing.T) {
	base := errors.New("connection refused")
	classified := Wrap(Database, base)

	// A later, less specific classification must not override the one made
	// at the point of failure.
	rewrapped := Wrap(General, fmt.Errorf("running report: %w", classified))

	assert.Equal(t, Database, CategoryOf(rewrapped))
}

func TestWrapNil(t *testing.T) {
	assert.Nil(t, Wrap(Database, nil))
}

func TestCategoryOfUnclassified(t *testing.T) {
	assert.Equal(t, General, CategoryOf(errors.New("boom")))
}

func TestOutcomeExitCode(t *testing.T) {
	assert.Equal(t, 0, Succeeded(3).ExitCode())
	assert.Equal(t, 3, Failed(Errorf(Database, "down")).ExitCode())
	assert.Equal(t, 5, Failed(Errorf(AlreadyRunning, "lease held")).ExitCode())
	assert.Equal(t, 1, Failed(errors.New("unclassified")).ExitCode())
}

func TestErrorUnwrap(t *testing.T) {
	base := errors.New("root cause")
	err := Wrap(Email, fmt.Errorf("sending: %w", base))

	assert.ErrorIs(t, err, base)
	assert.Equal(t, "sending: root cause", err.Error())
}
