package main

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseWatchSpec(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		want    WatchSpec
		wantErr bool
	}{
		{"current value", []string{"a/b/state"}, WatchSpec{Topic: "a/b/state"}, false},
		{"window", []string{"a/b/state", "-w", "5m"}, WatchSpec{Topic: "a/b/state", Window: 5 * time.Minute}, false},
		{"window in seconds", []string{"a/b/state", "-w", "60s"}, WatchSpec{Topic: "a/b/state", Window: time.Minute}, false},
		{"unconfigured window", []string{"a/b/state", "-w", "15m"}, WatchSpec{}, true},
		{"missing window", []string{"a/b/state", "-w"}, WatchSpec{}, true},
		{"unknown flag", []string{"a/b/state", "-p", "50"}, WatchSpec{}, true},
		{"no args", nil, WatchSpec{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec, err := parseWatchSpec(tt.args, testWindows)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, *spec)
		})
	}
}

func TestWatchSpec_Names(t *testing.T) {
	current := WatchSpec{Topic: "homeassistant/sensor/solar_1_power/state"}
	windowed := WatchSpec{Topic: "homeassistant/sensor/solar_1_power/state", Window: 5 * time.Minute}

	assert.Equal(t, "homeassistant/sensor/solar_1_power/state", current.String())
	assert.Equal(t, "homeassistant/sensor/solar_1_power/state -w 5m", windowed.String())
	assert.Equal(t, "solar_1_power", current.ShortName())
	assert.Equal(t, "solar_1_power mode 5m", windowed.ShortName())
}

func TestWatchSpec_GetValue(t *testing.T) {
	data := modeData(250, "Bulk", false)
	power := "homeassistant/sensor/solar_1_power/state"
	charge := "homeassistant/sensor/solar_3_charge_state/state"

	assert.Equal(t, "250", WatchSpec{Topic: power}.GetValue(data))
	assert.Equal(t, "100", WatchSpec{Topic: power, Window: 5 * time.Minute}.GetValue(data))
	assert.Equal(t, "Bulk", WatchSpec{Topic: charge}.GetValue(data))
	assert.Equal(t, "-", WatchSpec{Topic: charge, Window: time.Minute}.GetValue(data))
	assert.Equal(t, "-", WatchSpec{Topic: "missing"}.GetValue(data))
}

func TestDebugState_AddRemove(t *testing.T) {
	state := NewDebugState(testWindows)

	assert.True(t, state.AddWatch(WatchSpec{Topic: "a/z/state"}))
	assert.True(t, state.AddWatch(WatchSpec{Topic: "a/b/state", Window: time.Minute}))
	assert.False(t, state.AddWatch(WatchSpec{Topic: "a/z/state"}))
	require.Len(t, state.watches, 2)
	assert.Equal(t, "a/b/state", state.watches[0].Topic) // sorted by short name

	// Single windowed watch is removed by fuzzy topic match
	assert.True(t, state.RemoveWatchFuzzy("a/b/state"))
	assert.False(t, state.RemoveWatchFuzzy("a/b/state"))

	state.AddWatch(WatchSpec{Topic: "a/z/state", Window: time.Minute})
	assert.True(t, state.RemoveWatchFuzzy("a/z/state")) // exact current-value watch first
	state.AddWatch(WatchSpec{Topic: "a/z/state", Window: 5 * time.Minute})
	assert.False(t, state.RemoveWatchFuzzy("a/z/state")) // ambiguous

	state.RemoveAll()
	assert.Empty(t, state.watches)
}

func TestDebugState_FormatRowHighlightsChanges(t *testing.T) {
	state := NewDebugState(testWindows)
	state.AddWatch(WatchSpec{Topic: "homeassistant/sensor/solar_1_power/state", Window: time.Minute})

	row, changed := state.FormatRow(modeData(100, "Bulk", true))
	assert.True(t, changed)
	assert.Contains(t, row, ansiYellow)
	assert.Contains(t, row, "100")

	_, changed = state.FormatRow(modeData(100, "Bulk", true))
	assert.False(t, changed)

	row, changed = state.FormatRow(modeData(250, "Bulk", true))
	assert.True(t, changed)
	assert.True(t, strings.Contains(row, "250"))
}

func TestHandleDebugCommand(t *testing.T) {
	state := NewDebugState(testWindows)

	handleDebugCommand("watch a/b/state -w 5m", state)
	handleDebugCommand("watch a/c/state", state)
	require.Len(t, state.watches, 2)

	handleDebugCommand("unwatch a/b/state -w 5m", state)
	require.Len(t, state.watches, 1)

	handleDebugCommand("watch a/b/state -w 99m", state) // rejected
	require.Len(t, state.watches, 1)

	handleDebugCommand("unwatch --all", state)
	assert.Empty(t, state.watches)

	handleDebugCommand("   ", state)
	handleDebugCommand("bogus", state)
	assert.Empty(t, state.watches)
}

func TestFormatValue(t *testing.T) {
	assert.Equal(t, "100", formatValue(100))
	assert.Equal(t, "-250", formatValue(-250))
	assert.Equal(t, "3.50", formatValue(3.5))
	assert.Equal(t, "0.00", formatValue(0))
}
