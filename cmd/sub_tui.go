// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Thermoquad/mqttsn-tools/pkg/client"
	"github.com/Thermoquad/mqttsn-tools/pkg/payload"
)

// Per-topic counters
type topicRow struct {
	topic    string
	qos      int
	count    int
	last     string
	lastSeen time.Time
}

// TUI model
type subModel struct {
	stats    func() client.Statistics
	format   payload.Format
	topics   map[string]*topicRow
	table    table.Model
	snapshot client.Statistics
	width    int
	height   int
	quitting bool
}

// Messages
type subTickMsg time.Time
type publishMsg received

func newSubModel(stats func() client.Statistics, format payload.Format, names []string, ids []uint) subModel {
	t := table.New(
		table.WithColumns(subColumns(80)),
		table.WithFocused(true),
		table.WithHeight(10),
	)

	style := table.DefaultStyles()
	style.Header = style.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(true)
	style.Selected = style.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57"))
	t.SetStyles(style)

	m := subModel{
		stats:  stats,
		format: format,
		topics: make(map[string]*topicRow),
		table:  t,
		width:  80,
		height: 24,
	}

	// Subscribed topics show up before their first message
	for _, name := range names {
		m.topics[name] = &topicRow{topic: name}
	}
	for _, id := range ids {
		name := strconv.FormatUint(uint64(id), 10)
		m.topics[name] = &topicRow{topic: name}
	}
	m.table.SetRows(m.rows())
	return m
}

// subColumns sizes the table columns for a terminal width
func subColumns(width int) []table.Column {
	last := width - 20 - 5 - 8 - 10 - 12
	if last < 10 {
		last = 10
	}
	return []table.Column{
		{Title: "Topic", Width: 20},
		{Title: "QoS", Width: 5},
		{Title: "Count", Width: 8},
		{Title: "Last Seen", Width: 10},
		{Title: "Last Message", Width: last},
	}
}

func (m subModel) Init() tea.Cmd {
	return subTickCmd()
}

func subTickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return subTickMsg(t)
	})
}

func (m subModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
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
		m.table.SetColumns(subColumns(msg.Width - 4))
		if h := msg.Height - 14; h > 3 {
			m.table.SetHeight(h)
		}

	case subTickMsg:
		m.snapshot = m.stats()
		m.snapshot.CalculateRates(time.Time(msg))
		return m, subTickCmd()

	case publishMsg:
		row, ok := m.topics[msg.topic]
		if !ok {
			row = &topicRow{topic: msg.topic}
			m.topics[msg.topic] = row
		}
		row.qos = int(msg.qos)
		row.count++
		row.last = payload.Render(m.format, msg.data)
		row.lastSeen = msg.time
		m.table.SetRows(m.rows())
		return m, nil
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

// rows returns the table rows sorted by topic
func (m subModel) rows() []table.Row {
	names := make([]string, 0, len(m.topics))
	for name := range m.topics {
		names = append(names, name)
	}
	sort.Strings(names)

	rows := make([]table.Row, 0, len(names))
	for _, name := range names {
		r := m.topics[name]
		qos, seen := "-", "-"
		if r.count > 0 {
			qos = strconv.Itoa(r.qos)
			seen = r.lastSeen.Format("15:04:05")
		}
		rows = append(rows, table.Row{
			r.topic,
			qos,
			strconv.Itoa(r.count),
			seen,
			strings.ReplaceAll(r.last, "\n", " "),
		})
	}
	return rows
}

func (m subModel) View() string {
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

	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1)

	// Header
	var s strings.Builder
	s.WriteString(titleStyle.Render("MQTT-SN - SUBSCRIPTIONS"))
	s.WriteString("\n")
	s.WriteString(headerStyle.Render(fmt.Sprintf("Format: %s | Press 'q' to quit", m.format)))
	s.WriteString("\n\n")

	// Statistics
	st := m.snapshot
	statsContent := strings.Builder{}
	statsContent.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s\n",
		statsLabelStyle.Render("Sent:"), statsValueStyle.Render(strconv.FormatUint(st.PacketsSent, 10)),
		statsLabelStyle.Render("Received:"), statsValueStyle.Render(strconv.FormatUint(st.PacketsReceived, 10)),
		statsLabelStyle.Render("Pings:"), statsValueStyle.Render(strconv.FormatUint(st.PingsSent, 10)),
	))

	errs := st.Errors()
	errText := statsValueStyle.Render(strconv.FormatUint(errs, 10))
	if errs > 0 {
		errText = errorStyle.Render(fmt.Sprintf("%d (malformed %d, violations %d, no reply %d)",
			errs, st.Malformed, st.Violations, st.NoReplies))
	}
	statsContent.WriteString(fmt.Sprintf("%s %s\n", statsLabelStyle.Render("Errors:"), errText))

	statsContent.WriteString(fmt.Sprintf("%s %s   %s %s",
		statsLabelStyle.Render("Packet Rate:"), statsValueStyle.Render(fmt.Sprintf("%.1f pkts/s", st.PacketRate)),
		statsLabelStyle.Render("Error Rate:"), statsValueStyle.Render(fmt.Sprintf("%.1f err/s", st.ErrorRate)),
	))

	s.WriteString(boxStyle.Render(statsContent.String()))
	s.WriteString("\n\n")

	// Topics
	s.WriteString(statsLabelStyle.Render("Topics:"))
	s.WriteString("\n")
	s.WriteString(boxStyle.Render(m.table.View()))

	return s.String()
}
