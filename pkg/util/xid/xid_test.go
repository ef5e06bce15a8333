package xid

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/sony/sonyflake/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedMachine() (uint16, error) { return 7, nil }

func TestGenerator_Monotonic(t *testing.T) {
	g, err := NewGenerator(WithMachineID(fixedMachine))
	require.NoError(t, err)

	ctx := context.Background()
	names := make([]string, 0, 100)
	var prev int64
	for range 100 {
		id, err := g.Next(ctx)
		require.NoError(t, err)
		assert.Greater(t, id, prev)
		prev = id
		names = append(names, FormatSortable(id))
	}
	assert.True(t, sort.StringsAreSorted(names))

	back, err := ParseSortable(names[0])
	require.NoError(t, err)
	assert.Equal(t, names[0], FormatSortable(back))
}

func TestGenerator_ClockBackward(t *testing.T) {
	calls := 0
	g := &Generator{
		generateID: func() (int64, error) {
			calls++
			if calls < 3 {
				return 0, errors.New("clock moved backwards")
			}
			return 42, nil
		},
		maxWaitDuration: time.Second,
		retryInterval:   time.Millisecond,
	}
	id, err := g.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)

	g.generateID = func() (int64, error) { return 0, errors.New("clock moved backwards") }
	g.maxWaitDuration = 5 * time.Millisecond
	_, err = g.Next(context.Background())
	assert.ErrorIs(t, err, ErrClockBackwardTimeout)

	g.generateID = func() (int64, error) { return 0, sonyflake.ErrOverTimeLimit }
	_, err = g.Next(context.Background())
	assert.ErrorIs(t, err, ErrOverTimeLimit)
}

func TestGenerator_Errors(t *testing.T) {
	var g *Generator
	_, err := g.Next(context.Background())
	assert.ErrorIs(t, err, ErrNilGenerator)

	_, err = NewGenerator(WithMaxWaitDuration(-time.Second))
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewGenerator(WithMachineID(func() (uint16, error) { return 0, errors.New("no id") }))
	assert.ErrorIs(t, err, ErrInvalidConfig)

	ok, err := NewGenerator(WithMachineID(fixedMachine), WithRetryInterval(time.Millisecond))
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = ok.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestParseSortable_Invalid(t *testing.T) {
	for _, s := range []string{"", "12", "-000000000000000001", "00000000000000000x1"} {
		_, err := ParseSortable(s)
		assert.Error(t, err, s)
	}
}

func TestDefaultMachineID(t *testing.T) {
	t.Setenv(EnvMachineID, "513")
	id, err := DefaultMachineID()
	require.NoError(t, err)
	assert.Equal(t, uint16(513), id)

	t.Setenv(EnvMachineID, "not-a-number")
	_, err = DefaultMachineID()
	assert.Error(t, err)

	t.Setenv(EnvMachineID, "")
	t.Setenv(EnvPodName, "registry-0")
	id, err = DefaultMachineID()
	require.NoError(t, err)
	assert.Equal(t, hashToMachineID("registry-0"), id)

	t.Setenv(EnvPodName, "")
	t.Setenv(EnvHostname, "")
	orig := osHostname
	t.Cleanup(func() { osHostname = orig })
	osHostname = func() (string, error) { return "", nil }
	_, err = DefaultMachineID()
	assert.Error(t, err)
	osHostname = func() (string, error) { return "node-a", nil }
	id, err = DefaultMachineID()
	require.NoError(t, err)
	assert.Equal(t, hashToMachineID("node-a"), id)
}
