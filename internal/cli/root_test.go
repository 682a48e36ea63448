package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "fold", cmd.Use)
	assert.Contains(t, cmd.Long, "compare-and-swap")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	commands := []string{"validate", "schemas", "quote", "get", "put", "delete", "history", "config"}

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

	for _, name := range []string{"config", "db", "schemas"} {
		flag := cmd.PersistentFlags().Lookup(name)
		require.NotNil(t, flag, name)
		assert.Equal(t, "", flag.DefValue, "%s falls back to the config file", name)
	}
}

func TestOperationCommandFlags(t *testing.T) {
	cmd := NewRootCommand()

	for _, name := range []string{"get", "put", "delete", "history"} {
		t.Run(name, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{name})
			require.NoError(t, err)

			callerKey := sub.Flags().Lookup("caller-key")
			require.NotNil(t, callerKey)
			assert.Equal(t, "", callerKey.DefValue)

			distance := sub.Flags().Lookup("distance")
			require.NotNil(t, distance)
			assert.Equal(t, "-1", distance.DefValue, "unknown distance by default")

			autoPay := sub.Flags().Lookup("auto-pay")
			require.NotNil(t, autoPay)
			assert.Equal(t, "false", autoPay.DefValue)
		})
	}
}

func TestGetCommandFilterFlags(t *testing.T) {
	cmd := NewRootCommand()
	getCmd, _, err := cmd.Find([]string{"get"})
	require.NoError(t, err)

	for _, name := range []string{"key", "prefix", "start", "end", "pattern"} {
		assert.NotNil(t, getCmd.Flags().Lookup(name), name)
	}
}

func TestQuoteCommandHasNoPaymentFlags(t *testing.T) {
	cmd := NewRootCommand()
	quoteCmd, _, err := cmd.Find([]string{"quote"})
	require.NoError(t, err)

	assert.NotNil(t, quoteCmd.Flags().Lookup("distance"))
	assert.Nil(t, quoteCmd.Flags().Lookup("auto-pay"))
}

func TestFormatValidationIntegration(t *testing.T) {
	cmd := NewRootCommand()
	cmd.SetArgs([]string{"--format", "xml", "validate", "."})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}
