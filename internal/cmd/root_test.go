package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zapcore"
)

func TestSetVersionInfo(t *testing.T) {
	// Save original values
	origVersion := versionInfo.Version
	origCommit := versionInfo.Commit
	origBuildDate := versionInfo.BuildDate
	defer func() {
		versionInfo.Version = origVersion
		versionInfo.Commit = origCommit
		versionInfo.BuildDate = origBuildDate
	}()

	tests := []struct {
		name      string
		version   string
		commit    string
		buildDate string
	}{
		{
			name:      "set all values",
			version:   "1.0.0",
			commit:    "abc123",
			buildDate: "2024-01-15",
		},
		{
			name:      "set dev version",
			version:   "dev",
			commit:    "HEAD",
			buildDate: "unknown",
		},
		{
			name:      "set empty values",
			version:   "",
			commit:    "",
			buildDate: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			SetVersionInfo(tt.version, tt.commit, tt.buildDate)

			assert.Equal(t, tt.version, versionInfo.Version)
			assert.Equal(t, tt.commit, versionInfo.Commit)
			assert.Equal(t, tt.buildDate, versionInfo.BuildDate)
		})
	}
}

func TestGetAppIdentity(t *testing.T) {
	t.Run("returns nil before init", func(t *testing.T) {
		// Save and restore
		orig := appIdentity
		appIdentity = nil
		defer func() { appIdentity = orig }()

		result := GetAppIdentity()
		assert.Nil(t, result)
	})

	t.Run("returns identity after set", func(t *testing.T) {
		// If appIdentity is already set from other tests, verify it returns
		if appIdentity != nil {
			result := GetAppIdentity()
			assert.NotNil(t, result)
			assert.Equal(t, appIdentity, result)
		}
	})
}

func TestCLILevel(t *testing.T) {
	origLevel, origVerbose := logLevel, verbose
	defer func() { logLevel, verbose = origLevel, origVerbose }()

	tests := []struct {
		name    string
		level   string
		verbose bool
		want    zapcore.Level
	}{
		{"default", "", false, zapcore.InfoLevel},
		{"explicit level", "warn", false, zapcore.WarnLevel},
		{"verbose wins", "error", true, zapcore.DebugLevel},
		{"unknown falls back to info", "chatty", false, zapcore.InfoLevel},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logLevel, verbose = tt.level, tt.verbose
			assert.Equal(t, tt.want, cliLevel())
		})
	}
}

func TestCLIOverrides(t *testing.T) {
	origLevel, origVerbose := logLevel, verbose
	defer func() { logLevel, verbose = origLevel, origVerbose }()

	logLevel, verbose = "", false
	assert.Empty(t, cliOverrides())

	logLevel = "warn"
	assert.Equal(t, map[string]any{"logging": map[string]any{"level": "warn"}}, cliOverrides())

	verbose = true
	assert.Equal(t, map[string]any{"logging": map[string]any{"level": "debug"}}, cliOverrides())
}
