package main

import (
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/machina/internal/autonomic"
	"github.com/nextlevelbuilder/machina/internal/config"
)

var (
	statusLabelStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	statusOkStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	statusWarnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	statusBoxStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(1, 2)
)

// statusPollInterval controls how often the TUI re-fetches the engine's
// status from the running serve instance.
const statusPollInterval = 2 * time.Second

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Watch a running machina serve instance's autonomic engine status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return err
			}
			client := newOperatorClient(cfg)
			p := tea.NewProgram(newStatusModel(client))
			_, err = p.Run()
			return err
		},
	}
}

type statusTickMsg struct {
	status autonomic.Status
	err    error
}

type statusModel struct {
	client  *operatorClient
	status  autonomic.Status
	err     error
	loading bool
}

func newStatusModel(client *operatorClient) statusModel {
	return statusModel{client: client, loading: true}
}

func (m statusModel) Init() tea.Cmd {
	return m.poll()
}

func (m statusModel) poll() tea.Cmd {
	return func() tea.Msg {
		var st autonomic.Status
		err := m.client.do("GET", "/v1/status", nil, &st)
		return statusTickMsg{status: st, err: err}
	}
}

// pollAfterDelay sleeps statusPollInterval before polling again, so the
// TUI refreshes on a steady cadence instead of hammering the status
// endpoint.
func (m statusModel) pollAfterDelay() tea.Cmd {
	return tea.Tick(statusPollInterval, func(time.Time) tea.Msg {
		var st autonomic.Status
		err := m.client.do("GET", "/v1/status", nil, &st)
		return statusTickMsg{status: st, err: err}
	})
}

func (m statusModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}
	case statusTickMsg:
		m.loading = false
		m.status = msg.status
		m.err = msg.err
		return m, m.pollAfterDelay()
	}
	return m, nil
}

func (m statusModel) View() string {
	if m.loading {
		return statusBoxStyle.Render("connecting to machina serve...")
	}
	if m.err != nil {
		return statusBoxStyle.Render(statusWarnStyle.Render(fmt.Sprintf("error: %v", m.err)))
	}

	st := m.status
	burst := statusOkStyle.Render("no")
	if st.BurstActive {
		burst = statusWarnStyle.Render("yes")
	}
	paused := statusOkStyle.Render("no")
	if st.Paused {
		paused = statusWarnStyle.Render("yes")
	}

	body := fmt.Sprintf(
		"%s %.0fs\n%s %v\n%s %s\n%s %s\n%s %v\n%s %d\n\n%s",
		statusLabelStyle.Render("idle:"), st.IdleSeconds,
		statusLabelStyle.Render("stasis:"), st.Stasis,
		statusLabelStyle.Render("burst:"), burst,
		statusLabelStyle.Render("paused:"), paused,
		statusLabelStyle.Render("dev mode:"), st.DevMode,
		statusLabelStyle.Render("alerts queued:"), st.AlertsQueued,
		lipgloss.NewStyle().Faint(true).Render("q to quit"),
	)
	return statusBoxStyle.Render(body)
}
