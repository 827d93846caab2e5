package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "latentrec", cmd.Use)
	assert.Contains(t, cmd.Long, "clique-tree inference")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	commands := []string{"compile", "validate", "import", "factors", "assign", "belief", "recommend", "replay", "runs", "test"}

	for _, cmdName := range commands {
		t.Run(cmdName, func(t *testing.T) {
			subCmd, _, err := cmd.Find([]string{cmdName})
			require.NoError(t, err, "Command %s should exist", cmdName)
			require.NotNil(t, subCmd)
			assert.Equal(t, cmdName, subCmd.Name())
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

	configFlag := cmd.PersistentFlags().Lookup("config")
	require.NotNil(t, configFlag)
	assert.Equal(t, "", configFlag.DefValue)
}

func TestCompileCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	compileCmd, _, err := cmd.Find([]string{"compile"})
	require.NoError(t, err)

	outputFlag := compileCmd.Flags().Lookup("output")
	require.NotNil(t, outputFlag)
	assert.Equal(t, "o", outputFlag.Shorthand)
}

func TestFactorsCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	factorsCmd, _, err := cmd.Find([]string{"factors"})
	require.NoError(t, err)

	for _, name := range []string{"db", "model", "model-name", "metrics", "level", "top-level", "restricted", "history", "parallelism", "pool"} {
		assert.NotNil(t, factorsCmd.Flags().Lookup(name), "factors should have --%s", name)
	}
	assert.Equal(t, "false", factorsCmd.Flags().Lookup("restricted").DefValue)
}

func TestAssignCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	assignCmd, _, err := cmd.Find([]string{"assign"})
	require.NoError(t, err)

	for _, name := range []string{"db", "model", "entities", "level", "restricted"} {
		assert.NotNil(t, assignCmd.Flags().Lookup(name), "assign should have --%s", name)
	}
}

func TestBeliefCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	beliefCmd, _, err := cmd.Find([]string{"belief"})
	require.NoError(t, err)

	for _, name := range []string{"model", "evidence", "positives", "query", "family", "restricted", "top-level"} {
		assert.NotNil(t, beliefCmd.Flags().Lookup(name), "belief should have --%s", name)
	}
}

func TestRecommendCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	recommendCmd, _, err := cmd.Find([]string{"recommend"})
	require.NoError(t, err)

	nFlag := recommendCmd.Flags().Lookup("n")
	require.NotNil(t, nFlag)
	assert.Equal(t, "10", nFlag.DefValue)

	assert.NotNil(t, recommendCmd.Flags().Lookup("user"))
	assert.NotNil(t, recommendCmd.Flags().Lookup("include-seen"))
}

func TestReplayCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	replayCmd, _, err := cmd.Find([]string{"replay"})
	require.NoError(t, err)

	dbFlag := replayCmd.Flags().Lookup("db")
	require.NotNil(t, dbFlag)

	runFlag := replayCmd.Flags().Lookup("run")
	require.NotNil(t, runFlag)

	// the level and restriction come from the stored run
	assert.Nil(t, replayCmd.Flags().Lookup("level"))
	assert.Nil(t, replayCmd.Flags().Lookup("restricted"))
}

func TestTestCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	testCmd, _, err := cmd.Find([]string{"test"})
	require.NoError(t, err)

	updateFlag := testCmd.Flags().Lookup("update")
	require.NotNil(t, updateFlag)
	assert.Equal(t, "false", updateFlag.DefValue)

	filterFlag := testCmd.Flags().Lookup("filter")
	require.NotNil(t, filterFlag)
}

func TestFormatValidation(t *testing.T) {
	assert.True(t, isValidFormat("text"))
	assert.True(t, isValidFormat("json"))

	assert.False(t, isValidFormat("xml"))
	assert.False(t, isValidFormat(""))
	assert.False(t, isValidFormat("TEXT"))
}

func TestFormatValidationIntegration(t *testing.T) {
	cmd := NewRootCommand()
	cmd.SetArgs([]string{"--format", "invalid", "compile", "."})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestMissingConfigFile(t *testing.T) {
	cmd := NewRootCommand()
	cmd.SetArgs([]string{"--config", "/nonexistent/latentrec.yaml", "runs"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
