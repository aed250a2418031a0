package cli

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersionCommand(t *testing.T) {
	cmd := NewVersionCommand()
	out := &bytes.Buffer{}
	cmd.SetOut(out)

	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "changereport")
}

func TestRootCommandInvalidDate(t *testing.T) {
	root := NewRootCommand()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"--date", "15.01.2024"})

	err := root.Execute()

	require.Error(t, err)
	var ee *ExitError
	require.True(t, errors.As(err, &ee))
	assert.Equal(t, 2, ee.Code, "an unparseable date is a configuration error")
	assert.Contains(t, err.Error(), "yyyy-MM-dd")
}

func TestRootCommandMissingConfig(t *testing.T) {
	root := NewRootCommand()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"--config", "/nonexistent/config.json", "--state-dir", t.TempDir()})

	err := root.Execute()

	require.Error(t, err)
	var ee *ExitError
	require.True(t, errors.As(err, &ee))
	assert.Equal(t, 2, ee.Code)
}

func TestExitErrorUnwrap(t *testing.T) {
	base := errors.New("boom")
	ee := &ExitError{Code: 3, Err: base}
	assert.ErrorIs(t, ee, base)
	assert.Equal(t, "boom", ee.Error())
	assert.Equal(t, "exit code 4", (&ExitError{Code: 4}).Error())
}

func TestCredentialCommandTree(t *testing.T) {
	cmd := NewCredentialCommand()
	names := []string{}
	for _, sub := range cmd.Commands() {
		names = append(names, sub.Name())
	}
	assert.Contains(t, names, "set")
	assert.Contains(t, names, "rm")
}
