package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestServeHelp(t *testing.T) {
	assert.Contains(t, serveCmd.Long, EnvServeAPIKey)
	assert.NotContains(t, serveCmd.Long, "Examples:")
	assert.NotContains(t, serveCmd.Long, "mcpServers")

	for _, name := range []string{"transport", "port", "serve-api-key"} {
		assert.NotNil(t, serveCmd.Flags().Lookup(name), name)
	}
}

func TestUploadProcessFlags(t *testing.T) {
	for _, name := range []string{"process", "guild", "legacy"} {
		assert.NotNil(t, uploadCmd.Flags().Lookup(name), name)
	}
}
