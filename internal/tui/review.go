// Package tui provides the interactive prompt shown when a run suspends
// for human review. Scripted callers bypass it with the --answer flag.
package tui

import (
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textarea"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// ErrCancelled is returned when the reviewer quits without answering.
var ErrCancelled = errors.New("review cancelled")

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	questionStyle = lipgloss.NewStyle().PaddingLeft(2).Foreground(lipgloss.Color("252"))
	helpStyle     = lipgloss.NewStyle().Faint(true)
)

type reviewModel struct {
	question string
	input    textarea.Model
	answer   string
	done     bool
	quit     bool
}

func newReviewModel(question string) reviewModel {
	ta := textarea.New()
	ta.Placeholder = `Type "approve" to accept, or describe what to change...`
	ta.SetHeight(4)
	ta.Focus()
	return reviewModel{question: question, input: ta}
}

func (m reviewModel) Init() tea.Cmd {
	return textarea.Blink
}

func (m reviewModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			m.quit = true
			return m, tea.Quit
		case tea.KeyCtrlD:
			m.answer = strings.TrimSpace(m.input.Value())
			if m.answer == "" {
				return m, nil
			}
			m.done = true
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.input.SetWidth(msg.Width - 4)
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m reviewModel) View() string {
	if m.done || m.quit {
		return ""
	}
	var b strings.Builder
	b.WriteString(titleStyle.Render("Review required"))
	b.WriteString("\n\n")
	b.WriteString(questionStyle.Render(m.question))
	b.WriteString("\n\n")
	b.WriteString(m.input.View())
	b.WriteString("\n")
	b.WriteString(helpStyle.Render("ctrl+d to submit, esc to cancel"))
	b.WriteString("\n")
	return b.String()
}

// AskReview displays the pending question and collects the reviewer's
// answer from the terminal.
func AskReview(question string) (string, error) {
	p := tea.NewProgram(newReviewModel(question))
	final, err := p.Run()
	if err != nil {
		return "", fmt.Errorf("running review prompt: %w", err)
	}
	m := final.(reviewModel)
	if !m.done {
		return "", ErrCancelled
	}
	return m.answer, nil
}
