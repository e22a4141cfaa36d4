// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Thermoquad/moldstat/pkg/alert"
	"github.com/Thermoquad/moldstat/pkg/arburg"
	"github.com/Thermoquad/moldstat/pkg/config"
)

// Event log entry
type eventLogEntry struct {
	timestamp time.Time
	message   string
	isError   bool // true for raised alerts, false for cleared ones
}

// Latest value of one variable
type valueEntry struct {
	value   any
	updated time.Time
}

// TUI model
type monitorModel struct {
	machine     string
	connection  string
	interval    time.Duration
	variables   []string
	values      map[string]valueEntry
	table       table.Model
	stats       arburg.StatisticsSnapshot
	statsSource func() arburg.StatisticsSnapshot
	alerts      []alert.Alert
	eventLog    []eventLogEntry
	maxLogEntry int
	width       int
	height      int
	quitting    bool
}

// Messages
type monitorTickMsg time.Time
type valueMsg struct {
	name  string
	value any
	at    time.Time
}
type alertMsg struct {
	alert  alert.Alert
	active bool
}

func initialMonitorModel(machine config.Machine, connection string, statsSource func() arburg.StatisticsSnapshot) monitorModel {
	var names []string
	for _, v := range machine.Variables {
		if v.Readable() || v.MachineConnected {
			names = append(names, v.Name)
		}
	}

	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "Variable", Width: 28},
			{Title: "Value", Width: 30},
			{Title: "Updated", Width: 14},
		}),
		table.WithHeight(len(names)+1),
	)
	styles := table.DefaultStyles()
	styles.Header = styles.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(true)
	styles.Selected = styles.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57")).
		Bold(false)
	t.SetStyles(styles)

	m := monitorModel{
		machine:     machine.Info.Name,
		connection:  connection,
		interval:    machine.Settings.RequestInterval(),
		variables:   names,
		values:      make(map[string]valueEntry),
		table:       t,
		statsSource: statsSource,
		eventLog:    make([]eventLogEntry, 0),
		maxLogEntry: 100,
		width:       80,
		height:      24,
	}
	m.refreshRows()
	return m
}

func (m monitorModel) Init() tea.Cmd {
	return tea.Batch(
		monitorTickCmd(),
		tea.EnterAltScreen,
	)
}

func monitorTickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return monitorTickMsg(t)
	})
}

func (m monitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case monitorTickMsg:
		if m.statsSource != nil {
			m.stats = m.statsSource()
		}
		return m, monitorTickCmd()

	case valueMsg:
		m.values[msg.name] = valueEntry{value: msg.value, updated: msg.at}
		m.refreshRows()
		return m, nil

	case alertMsg:
		m.applyAlert(msg.alert, msg.active)
		return m, nil
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func (m *monitorModel) refreshRows() {
	rows := make([]table.Row, 0, len(m.variables))
	for _, name := range m.variables {
		entry, ok := m.values[name]
		if !ok {
			rows = append(rows, table.Row{name, "-", ""})
			continue
		}
		rows = append(rows, table.Row{name, arburg.FormatValue(entry.value), entry.updated.Format("15:04:05")})
	}
	m.table.SetRows(rows)
}

func (m *monitorModel) applyAlert(a alert.Alert, active bool) {
	kept := m.alerts[:0]
	for _, cur := range m.alerts {
		if cur.Key != a.Key {
			kept = append(kept, cur)
		}
	}
	m.alerts = kept
	if active {
		m.alerts = append(m.alerts, a)
		m.addLogEntry(fmt.Sprintf("%s: %s", a.Message, a.Description), true)
	} else {
		m.addLogEntry("Cleared: "+a.Message, false)
	}
}

func (m *monitorModel) addLogEntry(message string, isError bool) {
	m.eventLog = append(m.eventLog, eventLogEntry{
		timestamp: time.Now(),
		message:   message,
		isError:   isError,
	})

	// Keep only last N entries
	if len(m.eventLog) > m.maxLogEntry {
		m.eventLog = m.eventLog[len(m.eventLog)-m.maxLogEntry:]
	}
}

func (m monitorModel) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	// Styles
	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("12")).
		Background(lipgloss.Color("235")).
		Padding(0, 1)

	headerStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241"))

	statsLabelStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("12")).
		Bold(true)

	statsValueStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("10"))

	errorStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("9")).
		Bold(true)

	warningStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("11"))

	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1)

	// Header
	var s strings.Builder
	s.WriteString(titleStyle.Render("MOLDSTAT - " + strings.ToUpper(m.machine)))
	s.WriteString("\n")
	s.WriteString(headerStyle.Render(fmt.Sprintf("%s | Interval: %v | Press 'q' to quit", m.connection, m.interval)))
	s.WriteString("\n\n")

	// Statistics
	st := m.stats
	errCount := st.Timeouts + st.ChecksumErrors + st.FramingErrors + st.TransportErrors + st.ValidationErrors
	var validPercent float64
	if st.TotalExchanges > 0 {
		validPercent = float64(st.ValidExchanges) * 100.0 / float64(st.TotalExchanges)
	}

	statsContent := strings.Builder{}
	statsContent.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s\n",
		statsLabelStyle.Render("Exchanges:"), statsValueStyle.Render(fmt.Sprintf("%d", st.TotalExchanges)),
		statsLabelStyle.Render("Valid:"), statsValueStyle.Render(fmt.Sprintf("%d (%.1f%%)", st.ValidExchanges, validPercent)),
		statsLabelStyle.Render("Errors:"), errorStyle.Render(fmt.Sprintf("%d", errCount)),
	))
	if errCount > 0 {
		statsContent.WriteString(fmt.Sprintf(" (%s: %d, %s: %d, %s: %d, %s: %d)\n",
			headerStyle.Render("timeouts"), st.Timeouts,
			headerStyle.Render("BCC"), st.ChecksumErrors,
			headerStyle.Render("framing"), st.FramingErrors,
			headerStyle.Render("invalid status"), st.ValidationErrors,
		))
	}
	statsContent.WriteString(fmt.Sprintf("%s %s   %s %s",
		statsLabelStyle.Render("Exchange Rate:"), statsValueStyle.Render(fmt.Sprintf("%.2f exch/s", st.ExchangeRate)),
		statsLabelStyle.Render("Error Rate:"), func() string {
			if st.ErrorRate > 0 {
				return errorStyle.Render(fmt.Sprintf("%.2f err/s", st.ErrorRate))
			}
			return statsValueStyle.Render(fmt.Sprintf("%.2f err/s", st.ErrorRate))
		}(),
	))

	s.WriteString(boxStyle.Render(statsContent.String()))
	s.WriteString("\n\n")

	// Variables
	s.WriteString(statsLabelStyle.Render("Variables:"))
	s.WriteString("\n")
	s.WriteString(boxStyle.Render(m.table.View()))
	s.WriteString("\n\n")

	// Active alerts
	if len(m.alerts) > 0 {
		s.WriteString(statsLabelStyle.Render("Active Alerts:"))
		s.WriteString("\n")
		alertContent := strings.Builder{}
		for _, a := range m.alerts {
			alertContent.WriteString(errorStyle.Render("✗ " + a.Message))
			alertContent.WriteString("\n")
			alertContent.WriteString(headerStyle.Render("  " + a.Description))
			alertContent.WriteString("\n")
		}
		s.WriteString(boxStyle.Render(strings.TrimSuffix(alertContent.String(), "\n")))
		s.WriteString("\n\n")
	}

	// Event log
	s.WriteString(statsLabelStyle.Render("Recent Events:"))
	s.WriteString("\n")

	logHeight := m.height - len(m.variables) - 16
	if logHeight < 5 {
		logHeight = 5
	}

	logContent := strings.Builder{}
	startIdx := len(m.eventLog) - logHeight
	if startIdx < 0 {
		startIdx = 0
	}

	if len(m.eventLog) == 0 {
		logContent.WriteString(headerStyle.Render("  (no events yet)"))
	} else {
		for i := startIdx; i < len(m.eventLog); i++ {
			entry := m.eventLog[i]
			timestamp := entry.timestamp.Format("01/02/06 15:04:05.000")
			if entry.isError {
				logContent.WriteString(fmt.Sprintf("%s %s\n",
					headerStyle.Render(timestamp),
					errorStyle.Render("✗ "+entry.message),
				))
			} else {
				logContent.WriteString(fmt.Sprintf("%s %s\n",
					headerStyle.Render(timestamp),
					warningStyle.Render("ℹ "+entry.message),
				))
			}
		}
	}

	s.WriteString(boxStyle.Width(m.width - 4).Render(logContent.String()))

	return s.String()
}
