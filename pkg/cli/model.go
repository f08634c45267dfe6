/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package cli is the terminal watcher for the rclink agent. It shows the
// connection status, the attached devices and, with the prompt policy,
// asks the operator to allow access to a recognized controller.
package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/carverauto/rclink/pkg/agent"
	"github.com/carverauto/rclink/pkg/models"
)

const (
	refreshInterval = time.Second
	checkTimeout    = 10 * time.Second
	historySize     = 5
)

var (
	errNoSession   = errors.New("no active session")
	errNoDenied    = errors.New("no denied or failed device to retry")
	errNoClipboard = errors.New("clipboard unavailable")
)

//nolint:gochecknoglobals // replaced in tests
var copyToClipboard = clipboard.WriteAll

// Controller is the part of the agent the watcher drives.
type Controller interface {
	State() models.SessionState
	CurrentSession() (models.Session, bool)
	AvailableDevices() []agent.DeviceInfo
	ForceCheck(ctx context.Context) error
	AnswerPermission(id models.Identity, granted bool) error
	RetryPermission(id models.Identity) error
}

// StatusMsg carries a connection status into the program.
type StatusMsg models.ConnectionStatus

// PromptMsg asks the operator to decide on a permission request.
type PromptMsg struct {
	Identity models.Identity
}

type refreshMsg time.Time

type checkDoneMsg struct {
	err error
}

// Model is the bubbletea model of the watcher.
type Model struct {
	controller Controller
	styles     styles
	keys       keyMap
	help       help.Model
	spinner    spinner.Model

	state    models.SessionState
	session  *models.Session
	devices  []agent.DeviceInfo
	history  []models.ConnectionStatus
	prompts  []models.Identity
	denied   models.Identity
	checking bool
	message  string
	err      error
}

// NewModel returns a watcher for controller.
func NewModel(controller Controller) *Model {
	sp := spinner.New(
		spinner.WithSpinner(spinner.Dot),
		spinner.WithStyle(lipgloss.NewStyle().Foreground(lipgloss.Color(draculaPurple))),
	)

	return &Model{
		controller: controller,
		styles:     newStyles(),
		keys:       newKeyMap(),
		help:       help.New(),
		spinner:    sp,
	}
}

func (m *Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, refreshNow)
}

func refreshNow() tea.Msg {
	return refreshMsg(time.Now())
}

func scheduleRefresh() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return refreshMsg(t)
	})
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)
	case StatusMsg:
		m.handleStatus(models.ConnectionStatus(msg))
		return m, nil
	case PromptMsg:
		m.enqueuePrompt(msg.Identity)
		return m, nil
	case refreshMsg:
		m.refresh()
		return m, scheduleRefresh()
	case checkDoneMsg:
		m.checking = false
		m.setResult("Device check complete", msg.err)
		m.refresh()

		return m, nil
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)

		return m, cmd
	}

	return m, nil
}

func (m *Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.Allow) && len(m.prompts) > 0:
		m.answer(true)
	case key.Matches(msg, m.keys.Deny) && len(m.prompts) > 0:
		m.answer(false)
	case key.Matches(msg, m.keys.Copy):
		m.copyIdentity()
	case key.Matches(msg, m.keys.Check) && !m.checking:
		m.checking = true
		m.message = ""

		return m, m.forceCheck()
	case key.Matches(msg, m.keys.Retry):
		m.retry()
	}

	return m, nil
}

func (m *Model) handleStatus(status models.ConnectionStatus) {
	m.history = append(m.history, status)
	if len(m.history) > historySize {
		m.history = m.history[len(m.history)-historySize:]
	}

	switch status.Reason {
	case models.ReasonDenied, models.ReasonRequestFailed:
		m.denied = status.Identity
	case models.ReasonConnected:
		if status.Identity == m.denied {
			m.denied = ""
		}
	}

	if !status.Connected {
		m.dropPrompt(status.Identity)
	}

	m.refresh()
}

func (m *Model) enqueuePrompt(id models.Identity) {
	for _, p := range m.prompts {
		if p == id {
			return
		}
	}

	m.prompts = append(m.prompts, id)
}

func (m *Model) dropPrompt(id models.Identity) {
	kept := m.prompts[:0]

	for _, p := range m.prompts {
		if p != id {
			kept = append(kept, p)
		}
	}

	m.prompts = kept
}

func (m *Model) answer(granted bool) {
	id := m.prompts[0]
	m.prompts = m.prompts[1:]

	verb := "Denied"
	if granted {
		verb = "Allowed"
	}

	m.setResult(fmt.Sprintf("%s access to %s", verb, id), m.controller.AnswerPermission(id, granted))
}

func (m *Model) copyIdentity() {
	if m.session == nil {
		m.setResult("", errNoSession)
		return
	}

	if clipboard.Unsupported {
		m.setResult("", errNoClipboard)
		return
	}

	if err := copyToClipboard(string(m.session.Identity)); err != nil {
		m.setResult("", fmt.Errorf("failed to copy to clipboard: %w", err))
		return
	}

	m.setResult("Identity copied to clipboard!", nil)
}

func (m *Model) forceCheck() tea.Cmd {
	controller := m.controller

	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), checkTimeout)
		defer cancel()

		return checkDoneMsg{err: controller.ForceCheck(ctx)}
	}
}

func (m *Model) retry() {
	if m.denied == "" {
		m.setResult("", errNoDenied)
		return
	}

	id := m.denied
	m.denied = ""

	m.setResult(fmt.Sprintf("Retrying permission for %s", id), m.controller.RetryPermission(id))
}

func (m *Model) setResult(message string, err error) {
	m.err = err

	if err != nil {
		m.message = ""
		return
	}

	m.message = message
}

func (m *Model) refresh() {
	m.state = m.controller.State()
	m.devices = m.controller.AvailableDevices()
	m.session = nil

	if sess, ok := m.controller.CurrentSession(); ok {
		m.session = &sess
	}
}

func (m *Model) View() string {
	var content strings.Builder

	s := m.styles

	content.WriteString(s.title.Render("rclink: Remote Controller Link") + "\n\n")
	content.WriteString(s.label.Render("State: ") + m.renderState() + "\n\n")

	if m.session != nil {
		content.WriteString(s.session.Render(fmt.Sprintf("%s\nidentity: %s\nsession:  %s\nsince:    %s",
			m.session.Label,
			m.session.Identity,
			m.session.ID,
			m.session.EstablishedAt.Format(time.RFC3339))) + "\n\n")
	}

	content.WriteString(m.renderDevices())

	if len(m.prompts) > 0 {
		content.WriteString("\n" + s.hint.Render(fmt.Sprintf("Allow access to %s? [y/n]", m.prompts[0])) + "\n")
	}

	if len(m.history) > 0 {
		content.WriteString("\n" + s.label.Render("Recent:") + "\n")

		for i := len(m.history) - 1; i >= 0; i-- {
			st := m.history[i]
			line := fmt.Sprintf("  %s  %s", st.Timestamp.Format(time.TimeOnly), st.Label)

			if st.Connected {
				content.WriteString(s.success.Render(line) + "\n")
			} else {
				content.WriteString(s.device.Render(line) + "\n")
			}
		}
	}

	if m.message != "" {
		content.WriteString("\n" + s.success.Render(m.message) + "\n")
	}

	if m.err != nil {
		content.WriteString("\n" + s.error.Render(fmt.Sprintf("Error: %v", m.err)) + "\n")
	}

	content.WriteString("\n" + m.help.View(m.keys))

	return s.app.Align(lipgloss.Left).Render(content.String())
}

func (m *Model) renderState() string {
	switch m.state {
	case models.SessionActive:
		return m.styles.success.Render("connected")
	case models.SessionPending:
		return m.spinner.View() + m.styles.hint.Render(" waiting for permission")
	case models.SessionIdle:
		if m.checking {
			return m.spinner.View() + m.styles.help.Render(" checking")
		}

		return m.styles.help.Render("no controller")
	default:
		return m.state.String()
	}
}

func (m *Model) renderDevices() string {
	var content strings.Builder

	content.WriteString(m.styles.label.Render(fmt.Sprintf("Devices (%d):", len(m.devices))) + "\n")

	if len(m.devices) == 0 {
		content.WriteString(m.styles.help.Render("  none") + "\n")
	}

	for _, d := range m.devices {
		line := "  " + d.Description
		if d.Classification.Recognized {
			line += " " + d.Classification.String()
		}

		if d.Active {
			content.WriteString(m.styles.active.Render(line+" *") + "\n")
		} else {
			content.WriteString(m.styles.device.Render(line) + "\n")
		}
	}

	return content.String()
}
