package commands

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestRootRegistersSubcommands(t *testing.T) {
	names := map[string]bool{}
	for _, c := range NewRootCommand().Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"serve", "migrate", "recalculate", "seed-chart", "token"} {
		assert.True(t, names[want], want)
	}
}

func TestToken(t *testing.T) {
	t.Setenv("LEDGER_JWT_SECRET", "s3cret")
	out, err := run(t, "token", "--tenant", "7", "--actor", "alice")
	require.NoError(t, err)
	assert.Len(t, strings.Split(strings.TrimSpace(out), "."), 3)
}

func TestToken_RequiresSecret(t *testing.T) {
	t.Setenv("LEDGER_JWT_SECRET", "")
	_, err := run(t, "token", "--tenant", "7", "--actor", "alice")
	require.Error(t, err)
}

func TestOfflineCommandsNeedDatabase(t *testing.T) {
	t.Setenv("LEDGER_DATABASE_URL", "")
	_, err := run(t, "migrate", "status")
	require.ErrorContains(t, err, "DATABASE_URL")

	_, err = run(t, "recalculate")
	require.ErrorContains(t, err, "tenant")
}

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLogLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, parseLogLevel("warning"))
	assert.Equal(t, slog.LevelInfo, parseLogLevel(""))
}
