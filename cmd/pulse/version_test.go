package main

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatVersion(t *testing.T) {
	assert.Equal(t, "dev", formatVersion("dev"))
	assert.Equal(t, "", formatVersion(""))
	assert.Equal(t, "v1.2.3", formatVersion("1.2.3"))
	assert.Equal(t, "v1.2.3", formatVersion("v1.2.3"))
}

func TestVersionShort(t *testing.T) {
	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetArgs([]string{"version", "--short"})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
		versionShort = false
	})

	require.NoError(t, rootCmd.Execute())
	assert.Equal(t, version+"\n", buf.String())
}

func TestRunFlags(t *testing.T) {
	for _, name := range []string{"config", "entity", "no-auto-watch"} {
		assert.NotNil(t, runCmd.Flags().Lookup(name), name)
	}
}

func TestRunRejectsMissingConfig(t *testing.T) {
	err := runPulse(context.Background(), "/nonexistent/pulse.yaml", nil, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config file not found")
}
