package cmd

import (
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"brld/internal/config"
	"brld/internal/history"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Read-only dashboard of recent activity transitions",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMonitor()
	},
}

var monitorHeaderStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("99"))

type monitorModel struct {
	store *history.Store
	table table.Model
	err   error
}

type tickMsg time.Time

func tickEvery(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m monitorModel) Init() tea.Cmd {
	return tickEvery(time.Second)
}

func (m monitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}
	case tickMsg:
		rows, err := m.store.Recent(30)
		if err != nil {
			m.err = err
			return m, tickEvery(time.Second)
		}
		m.err = nil
		out := make([]table.Row, 0, len(rows))
		for _, r := range rows {
			out = append(out, table.Row{
				r.ActivityName,
				r.FromState + " -> " + r.ToState,
				r.Event,
				humanize.Time(r.At),
			})
		}
		m.table.SetRows(out)
		return m, tickEvery(time.Second)
	}
	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func (m monitorModel) View() string {
	header := monitorHeaderStyle.Render("brld monitor — activity transitions (q to quit)")
	if m.err != nil {
		return header + "\n\n" + fmt.Sprintf("error reading history: %v\n", m.err)
	}
	return header + "\n\n" + m.table.View() + "\n"
}

func runMonitor() error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	store, err := history.Open(cfg.History.Path)
	if err != nil {
		return err
	}
	defer store.Close()

	columns := []table.Column{
		{Title: "Activity", Width: 16},
		{Title: "Transition", Width: 28},
		{Title: "Event", Width: 14},
		{Title: "When", Width: 14},
	}
	tbl := table.New(table.WithColumns(columns), table.WithFocused(false), table.WithHeight(15))

	model := monitorModel{store: store, table: tbl}
	_, err = tea.NewProgram(model).Run()
	return err
}
