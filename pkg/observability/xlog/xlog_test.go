package xlog_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omeyang/xreg/pkg/observability/xlog"
)

type stateName string

func (s stateName) String() string { return string(s) }

func TestBuilder_LevelsAndFormat(t *testing.T) {
	var buf bytes.Buffer
	logger, cleanup, err := xlog.New().
		SetOutput(&buf).
		SetLevel(xlog.LevelDebug).
		SetFormat("json").
		Build()
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, cleanup()) })

	ctx := context.Background()
	logger.Debug(ctx, "debug message")
	logger.Info(ctx, "info message")
	logger.Warn(ctx, "warn message")
	logger.Error(ctx, "error message")

	out := buf.String()
	for _, want := range []string{"debug message", "info message", "warn message", "error message"} {
		assert.Contains(t, out, want)
	}
	assert.Contains(t, out, `"level":"DEBUG"`)
}

func TestBuilder_DynamicLevel(t *testing.T) {
	var buf bytes.Buffer
	logger, _, err := xlog.New().SetOutput(&buf).Build()
	require.NoError(t, err)

	logger.Debug(context.Background(), "hidden")
	assert.Empty(t, buf.String())

	logger.SetLevel(xlog.LevelDebug)
	assert.Equal(t, xlog.LevelDebug, logger.GetLevel())
	logger.Debug(context.Background(), "visible")
	assert.Contains(t, buf.String(), "visible")
}

func TestBuilder_FirstErrorWins(t *testing.T) {
	_, _, err := xlog.New().SetFormat("xml").SetLevelString("debug").Build()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown format")

	_, _, err = xlog.New().SetLevelString("verbose").Build()
	require.Error(t, err)

	_, _, err = xlog.New().SetRotation("  ").Build()
	assert.ErrorIs(t, err, xlog.ErrEmptyFilename)
}

func TestBuilder_Rotation(t *testing.T) {
	file := filepath.Join(t.TempDir(), "registry.log")
	logger, cleanup, err := xlog.New().
		SetRotation(file, xlog.WithMaxSize(1), xlog.WithMaxBackups(2), xlog.WithMaxAge(1), xlog.WithCompress(false)).
		Build()
	require.NoError(t, err)

	logger.Info(context.Background(), "rotated")
	require.NoError(t, cleanup())
	require.NoError(t, cleanup())
}

func TestLogger_WithAndAttrs(t *testing.T) {
	var buf bytes.Buffer
	logger, _, err := xlog.New().
		SetOutput(&buf).
		SetAttrs(slog.String("service", "xreg")).
		Build()
	require.NoError(t, err)

	child := logger.With(xlog.Component("router"))
	child.Info(context.Background(), "dispatch",
		xlog.Path("/services/a"),
		xlog.Session("s-1"),
		xlog.State(stateName("CONNECTED")),
		xlog.Revision(42),
		xlog.Duration(1500*time.Millisecond),
		xlog.Operation("notify"),
		xlog.Err(errors.New("boom")),
		xlog.Err(nil),
	)

	out := buf.String()
	for _, want := range []string{
		"service=xreg", "component=router", "path=/services/a", "session=s-1",
		"state=CONNECTED", "revision=42", "duration=1.5s", "operation=notify", "error=boom",
	} {
		assert.Contains(t, out, want)
	}
	assert.Equal(t, 1, strings.Count(out, "error="))
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want xlog.Level
		err  bool
	}{
		{"debug", xlog.LevelDebug, false},
		{" INFO ", xlog.LevelInfo, false},
		{"", xlog.LevelInfo, false},
		{"warning", xlog.LevelWarn, false},
		{"error", xlog.LevelError, false},
		{"trace", xlog.LevelInfo, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := xlog.ParseLevel(tt.in)
			if tt.err {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	var lvl xlog.Level
	require.NoError(t, lvl.UnmarshalText([]byte("warn")))
	assert.Equal(t, "WARN", lvl.String())
}

func TestDiscardAndDefault(t *testing.T) {
	d := xlog.Discard()
	d.Error(context.Background(), "dropped")
	assert.NotNil(t, d.With(xlog.Component("x")))

	assert.NotNil(t, xlog.Default())
	var buf bytes.Buffer
	custom, _, err := xlog.New().SetOutput(&buf).Build()
	require.NoError(t, err)
	xlog.SetDefault(custom)
	xlog.SetDefault(nil)
	xlog.Default().Info(context.Background(), "global")
	assert.Contains(t, buf.String(), "global")
}
