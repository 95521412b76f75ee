package main

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/AgentOS/scriptd/internal/engine"
	"github.com/GriffinCanCode/AgentOS/scriptd/internal/sandbox"
	"github.com/GriffinCanCode/AgentOS/scriptd/internal/shared/errs"
)

func TestParseInput(t *testing.T) {
	v, err := parseInput(`{"n": 2, "tags": ["a"]}`, false)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"n": float64(2), "tags": []any{"a"}}, v)

	v, err = parseInput("raw", true)
	require.NoError(t, err)
	assert.Equal(t, []byte("raw"), v)

	v, err = parseInput("", false)
	require.NoError(t, err)
	assert.Nil(t, v)

	_, err = parseInput("{", false)
	assert.Error(t, err)
}

func TestRender(t *testing.T) {
	out := render(&engine.Result{
		ExecutionID: "exe_1",
		Error:       errs.ExecutionTimeout(time.Second),
		State:       engine.StateTimedOut,
		Console:     []sandbox.LogEntry{{Level: "log", Message: "hi"}},
		Duration:    1500 * time.Microsecond,
	})

	assert.Equal(t, "exe_1", out.ExecutionID)
	assert.False(t, out.Success)
	assert.Equal(t, "timed_out", out.State)
	assert.Equal(t, 1.5, out.DurationMS)
	require.NotNil(t, out.Error)
	assert.Equal(t, "execution_timeout", out.Error.Kind)
	assert.Equal(t, []consoleEntry{{Level: "log", Message: "hi"}}, out.Console)

	out = render(&engine.Result{Success: true, Value: int64(3), Error: nil})
	assert.Nil(t, out.Error)
	assert.Equal(t, int64(3), out.Value)

	out = render(&engine.Result{Error: errors.New("plain")})
	assert.Equal(t, "", out.Error.Kind)
}
