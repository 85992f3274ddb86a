package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "orchestrate", cmd.Use)
	assert.Contains(t, cmd.Long, "Production")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	commands := [][]string{
		{"init"}, {"schedule"}, {"process"}, {"complete"}, {"cancel"},
		{"terminate", "schedule"}, {"terminate", "prompt"}, {"resume"},
		{"status"}, {"log"}, {"restore"},
		{"flow", "decode"}, {"flow", "validate"}, {"catalog"}, {"test"},
	}

	for _, path := range commands {
		name := path[len(path)-1]
		t.Run(name, func(t *testing.T) {
			subCmd, _, err := cmd.Find(path)
			require.NoError(t, err, "Command %v should exist", path)
			require.NotNil(t, subCmd)
			assert.Equal(t, name, subCmd.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	verboseFlag := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verboseFlag)
	assert.Equal(t, "v", verboseFlag.Shorthand)
	assert.Equal(t, "false", verboseFlag.DefValue)

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)

	workdirFlag := cmd.PersistentFlags().Lookup("workdir")
	require.NotNil(t, workdirFlag)
	assert.Equal(t, "C", workdirFlag.Shorthand)

	for _, name := range []string{"log-format", "config", "session-root", "session", "metrics-out"} {
		assert.NotNil(t, cmd.PersistentFlags().Lookup(name), name)
	}
}

func TestCompleteCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	completeCmd, _, err := cmd.Find([]string{"complete"})
	require.NoError(t, err)

	diffFlag := completeCmd.Flags().Lookup("diff")
	require.NotNil(t, diffFlag)
	assert.Equal(t, "", diffFlag.DefValue)
	assert.NotNil(t, completeCmd.Flags().Lookup("error"))
}

func TestRestoreCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	restoreCmd, _, err := cmd.Find([]string{"restore"})
	require.NoError(t, err)

	intoFlag := restoreCmd.Flags().Lookup("into")
	require.NotNil(t, intoFlag)
	assert.Equal(t, "o", intoFlag.Shorthand)
	assert.Equal(t, "restored", intoFlag.DefValue)
}

func TestParseSchedule(t *testing.T) {
	tests := []struct {
		arg     string
		want    int
		wantErr bool
	}{
		{"1", 1, false},
		{"S4", 4, false},
		{"s5", 5, false},
		{"Knowledge", 1, false},
		{"production", 5, false},
		{"7", 7, false},
		{"deploy", 0, true},
		{"S", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.arg, func(t *testing.T) {
			got, err := parseSchedule(tt.arg)
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, ExitCommandError, GetExitCode(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, int(got))
		})
	}
}

func TestParseProcess(t *testing.T) {
	got, err := parseProcess(2, "consult")
	require.NoError(t, err)
	assert.Equal(t, 2, int(got))

	got, err = parseProcess(0, "p3")
	require.NoError(t, err)
	assert.Equal(t, 3, int(got))

	_, err = parseProcess(1, "consult")
	require.Error(t, err)

	_, err = parseProcess(0, "research")
	require.Error(t, err)
}
