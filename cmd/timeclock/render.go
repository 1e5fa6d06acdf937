package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"example.com/timeclock/internal/clock"
	"example.com/timeclock/internal/domain"
)

var (
	green  = lipgloss.Color("#a6e3a1")
	peach  = lipgloss.Color("#fab387")
	red    = lipgloss.Color("#f38ba8")
	subtle = lipgloss.Color("#a6adc8")
	base   = lipgloss.Color("#1e1e2e")

	badge = lipgloss.NewStyle().Bold(true).Padding(0, 1).Foreground(base)
	muted = lipgloss.NewStyle().Foreground(subtle)
	alert = lipgloss.NewStyle().Foreground(red)
)

func badgeColor(current clock.CurrentState) lipgloss.Color {
	switch current.Kind {
	case clock.CurrentFetchFailed:
		return red
	case clock.CurrentActive:
		if current.Session.Status == domain.StatusPaused {
			return peach
		}
		return green
	}
	return subtle
}

func renderBadge(current clock.CurrentState) string {
	return badge.Background(badgeColor(current)).Render(current.Label())
}

func renderStatus(snap clock.Snapshot) string {
	var b strings.Builder
	b.WriteString(renderBadge(snap.Current))

	if s := snap.Current.Session; s != nil {
		fmt.Fprintf(&b, " started %s", clock.FormatClock(s.StartTime.Local()))
		if s.PauseTime != nil {
			fmt.Fprintf(&b, ", paused %s", clock.FormatClock(s.PauseTime.Local()))
		}
		fmt.Fprintf(&b, ", elapsed %s", clock.FormatDuration(s.Elapsed(snap.Now)))
	}
	if len(snap.Actions) > 0 {
		b.WriteString("\n")
		b.WriteString(muted.Render("next: " + joinActions(snap.Actions)))
	}
	if snap.Message != "" {
		b.WriteString("\n")
		b.WriteString(alert.Render(snap.Message))
	}
	return b.String()
}

func renderWatchLine(snap clock.Snapshot) string {
	line := clock.FormatClock(snap.Now.Local()) + " " + renderBadge(snap.Current)
	if s := snap.Current.Session; s != nil {
		line += " " + clock.FormatDuration(s.Elapsed(snap.Now))
	}
	if snap.Busy {
		line += muted.Render(" ...")
	}
	if snap.Message != "" {
		line += " " + alert.Render(snap.Message)
	}
	return line
}

func renderHistory(snap clock.Snapshot) string {
	if len(snap.History.Sessions) == 0 {
		return muted.Render("no sessions yet") + "\n"
	}
	var b strings.Builder
	for _, s := range snap.History.Sessions {
		end := "--:--:--"
		if s.EndTime != nil {
			end = clock.FormatClock(s.EndTime.Local())
		}
		fmt.Fprintf(&b, "%s  %s  %s-%s  %-14s %s\n",
			s.StartTime.Local().Format("2006-01-02"),
			s.ID,
			clock.FormatClock(s.StartTime.Local()),
			end,
			s.Status.Label(),
			clock.FormatDuration(s.Elapsed(snap.Now)),
		)
	}
	return b.String()
}

func joinActions(actions []domain.Action) string {
	names := make([]string, len(actions))
	for i, a := range actions {
		names[i] = string(a)
	}
	return strings.Join(names, ", ")
}
