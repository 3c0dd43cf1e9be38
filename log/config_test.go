/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package log

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/acronis/go-jobthrottle/config"
)

func TestConfig(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cfg := NewConfig("")
		require.NoError(t, config.NewDefaultLoader("").Load(cfg))
		require.Equal(t, NewDefaultConfig(), cfg)
	})

	t.Run("file output", func(t *testing.T) {
		cfgData := `
log:
  level: DEBUG
  format: text
  output: file
  nocolor: true
  file:
    path: /var/log/throttled-worker-{{pid}}.log
    rotation:
      compress: true
      maxSize: 100M
      maxBackups: 3
`
		cfg := NewConfig("")
		require.NoError(t, config.NewDefaultLoader("").LoadFromReader(bytes.NewBufferString(cfgData), config.DataTypeYAML, cfg))
		require.Equal(t, LevelDebug, cfg.Level)
		require.Equal(t, FormatText, cfg.Format)
		require.Equal(t, OutputFile, cfg.Output)
		require.True(t, cfg.NoColor)
		require.Equal(t, FileRotationConfig{Compress: true, MaxSize: 100 * 1024 * 1024, MaxBackups: 3}, cfg.File.Rotation)
	})

	t.Run("invalid", func(t *testing.T) {
		tests := []struct {
			name    string
			cfgData string
			wantErr string
		}{
			{name: "file without path", cfgData: "log:\n  output: file\n", wantErr: `log.file.path: cannot be empty when "file" output is used`},
			{name: "small rotation size", cfgData: "log:\n  file:\n    rotation:\n      maxSize: 1K\n", wantErr: "log.file.rotation.maxSize: should be >= 1M"},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				err := config.NewDefaultLoader("").LoadFromReader(bytes.NewBufferString(tt.cfgData), config.DataTypeYAML, NewConfig(""))
				require.EqualError(t, err, tt.wantErr)
			})
		}
	})
}

func TestNewLogger(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Format = FormatText
	cfg.Output = OutputStderr
	logger, closeFn := NewLogger(cfg)
	defer closeFn()
	logger.With(String("queue", "reports")).Infof("queue %s is started", "reports")
	logger.AtLevel(LevelDebug, func(LogFunc) { require.Fail(t, "debug level should be disabled") })
}

func TestResolvePlaceholders(t *testing.T) {
	require.NotContains(t, resolvePlaceholders("/tmp/{{pid}}-{{starttime}}.log"), "{{")
}
