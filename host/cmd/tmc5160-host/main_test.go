package main

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tmcgo/core"
	"tmcgo/host/config"
)

func simConfig(t *testing.T) *config.Config {
	t.Helper()
	axes, err := config.ParseAxes("x=10,y=9")
	require.NoError(t, err)
	return &config.Config{
		Transport:       config.TransportSim,
		SPI:             core.DefaultSPIConfig,
		SimStepsPerPoll: 25600,
		Axes:            axes,
		Profile: core.Profile{
			Speed:       102400,
			AccelTime:   250 * time.Millisecond,
			RunCurrent:  250,
			HoldCurrent: 125,
		},
		PollInterval: time.Millisecond,
	}
}

func setupRig(t *testing.T, cfg *config.Config) *rig {
	t.Helper()
	log, _ := test.NewNullLogger()
	r, err := openRig(cfg, log)
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	for _, a := range r.axes {
		require.NoError(t, a.Setup(cfg.Profile))
	}
	return r
}

func TestDemo(t *testing.T) {
	for _, parallel := range []bool{false, true} {
		cfg := simConfig(t)
		r := setupRig(t, cfg)
		log, hook := test.NewNullLogger()

		require.NoError(t, runDemo(context.Background(), r, cfg, log, parallel))
		require.Len(t, hook.AllEntries(), 4)
		for _, a := range r.axes {
			pos, err := a.Position()
			require.NoError(t, err)
			assert.Equal(t, int32(-51200), pos, "parallel=%v", parallel)
		}
	}
}

func TestShell(t *testing.T) {
	cfg := simConfig(t)
	r := setupRig(t, cfg)
	var out strings.Builder
	sh := &shell{rig: r, cfg: cfg, out: &out}

	input := strings.Join([]string{
		"move x 1000",
		"pos x",
		"move y -2000 nowait",
		"wait",
		"pos y",
		"setenc x 12.5",
		"enc x",
		"write x 0x2D 7",
		"read x 0x2D",
		"zero x",
		"pos x",
		"move z 1",
		"bogus x",
		"quit",
		"pos x",
	}, "\n")
	require.NoError(t, sh.run(context.Background(), strings.NewReader(input)))

	got := out.String()
	assert.Contains(t, got, "reached after")
	assert.Contains(t, got, "> 1000\n")
	assert.Contains(t, got, "y: reached after")
	assert.Contains(t, got, "> -2000\n")
	assert.Contains(t, got, "> 13\n")
	assert.Contains(t, got, "> 7 (0x00000007)")
	assert.Contains(t, got, "> 0\n")
	assert.Contains(t, got, `Error: no axis "z"`)
	assert.Contains(t, got, "Error: unknown command: bogus")
}

func TestShellDictNeedsMCU(t *testing.T) {
	cfg := simConfig(t)
	r := setupRig(t, cfg)
	var out strings.Builder
	sh := &shell{rig: r, cfg: cfg, out: &out}

	assert.Error(t, sh.exec(context.Background(), "dict", nil))
}
