package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStatusLabel(t *testing.T) {
	cases := map[Status]string{
		StatusWorking:  "Working",
		StatusPaused:   "Paused",
		StatusFinished: "Finished",
		"":             "Ready to start",
	}
	for status, want := range cases {
		require.Equal(t, want, status.Label(), "status %q", status)
	}
	require.False(t, Status("bogus").Valid())
	require.True(t, StatusPaused.Active())
	require.False(t, StatusFinished.Active())
}

func TestElapsed(t *testing.T) {
	start := time.Date(2025, 6, 2, 8, 0, 0, 0, time.UTC)
	session := WorkSession{StartTime: start, Status: StatusWorking}
	require.Equal(t, 90*time.Minute, session.Elapsed(start.Add(90*time.Minute)))
	require.Zero(t, session.Elapsed(start.Add(-time.Minute)))

	end := start.Add(4 * time.Hour)
	session.EndTime = &end
	session.Status = StatusFinished
	require.Equal(t, 4*time.Hour, session.Elapsed(start.Add(10*time.Hour)))
}

func TestAllowedActions(t *testing.T) {
	require.Equal(t, []Action{ActionStart}, AllowedActions(nil))
	require.Equal(t, []Action{ActionPause, ActionEnd}, AllowedActions(&WorkSession{Status: StatusWorking}))
	require.Equal(t, []Action{ActionResume, ActionEnd}, AllowedActions(&WorkSession{Status: StatusPaused}))
	require.Equal(t, []Action{ActionStart}, AllowedActions(&WorkSession{Status: StatusFinished}))
}

func TestPatchApplyDoesNotAlias(t *testing.T) {
	pauseAt := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)
	paused := StatusPaused
	patch := Patch{From: []Status{StatusWorking}, Status: &paused, PauseTime: &pauseAt}

	require.True(t, patch.Allows(StatusWorking))
	require.False(t, patch.Allows(StatusPaused))
	require.True(t, Patch{}.Allows(StatusFinished))

	out := patch.Apply(WorkSession{Status: StatusWorking})
	require.Equal(t, StatusPaused, out.Status)
	pauseAt = pauseAt.Add(time.Hour)
	require.Equal(t, 10, out.PauseTime.Hour())

	cleared := Patch{ClearPauseTime: true}.Apply(out)
	require.Nil(t, cleared.PauseTime)
}
