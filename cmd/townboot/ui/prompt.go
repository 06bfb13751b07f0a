package ui

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// Confirm asks a yes/no question on stderr. bypassHint describes how
// to skip the prompt non-interactively (e.g. "use --yes").
// Non-interactive terminals return *ErrNoInteraction.
func Confirm(ctx context.Context, question, bypassHint string) (bool, error) {
	if err := RequireInteraction(bypassHint); err != nil {
		return false, fmt.Errorf("confirmation required: %w", err)
	}

	m := &confirmModel{question: question}
	p := tea.NewProgram(m,
		tea.WithOutput(os.Stderr),
		tea.WithContext(ctx),
	)

	if _, err := p.Run(); err != nil {
		return false, promptRunError(ctx, err)
	}
	if m.cancelled {
		return false, ErrCancelled
	}
	return m.confirmed, nil
}

// Prompt asks for a line of text on stderr. The caller bounds ctx:
// inputs normally come from config or environment, so a prompt left
// unanswered past the deadline fails instead of hanging the bootstrap.
func Prompt(ctx context.Context, label, placeholder, bypassHint string) (string, error) {
	if err := RequireInteraction(bypassHint); err != nil {
		return "", fmt.Errorf("input required: %w", err)
	}

	ti := textinput.New()
	ti.Placeholder = placeholder
	ti.Focus()
	ti.PromptStyle = AccentStyle
	ti.TextStyle = lipgloss.NewStyle()

	m := &promptModel{label: label, textInput: ti}
	p := tea.NewProgram(m,
		tea.WithOutput(os.Stderr),
		tea.WithContext(ctx),
	)

	if _, err := p.Run(); err != nil {
		return "", promptRunError(ctx, err)
	}
	if m.cancelled {
		return "", ErrCancelled
	}
	return strings.TrimSpace(m.textInput.Value()), nil
}

// PromptRequired re-prompts while the answer is empty. The ctx deadline
// still bounds the whole exchange.
func PromptRequired(ctx context.Context, label, placeholder, bypassHint string) (string, error) {
	for {
		v, err := Prompt(ctx, label, placeholder, bypassHint)
		if err != nil {
			return "", err
		}
		if v != "" {
			return v, nil
		}
		fmt.Fprintln(os.Stderr, WarnMsg("%s must not be empty", label))
	}
}

// Secret reads a value from the terminal without echo. The caller
// bounds ctx like any other prompt; the value is not trimmed.
func Secret(ctx context.Context, label, bypassHint string) (string, error) {
	if err := RequireInteraction(bypassHint); err != nil {
		return "", fmt.Errorf("input required: %w", err)
	}

	ti := textinput.New()
	ti.EchoMode = textinput.EchoPassword
	ti.EchoCharacter = '•'
	ti.Focus()
	ti.PromptStyle = AccentStyle

	m := &promptModel{label: label, textInput: ti}
	p := tea.NewProgram(m,
		tea.WithOutput(os.Stderr),
		tea.WithContext(ctx),
	)

	if _, err := p.Run(); err != nil {
		return "", promptRunError(ctx, err)
	}
	if m.cancelled {
		return "", ErrCancelled
	}
	return m.textInput.Value(), nil
}

func promptRunError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); errors.Is(ctxErr, context.DeadlineExceeded) {
		return fmt.Errorf("prompt timed out: %w", ctxErr)
	}
	return fmt.Errorf("prompt: %w", err)
}

type confirmModel struct {
	question  string
	confirmed bool
	cancelled bool
	answered  bool
}

func (m *confirmModel) Init() tea.Cmd { return nil }

func (m *confirmModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "y", "Y":
			m.confirmed = true
			m.answered = true
			return m, tea.Quit
		case "n", "N", "enter":
			m.confirmed = false
			m.answered = true
			return m, tea.Quit
		case "ctrl+c", "esc":
			m.cancelled = true
			return m, tea.Quit
		}
	}
	return m, nil
}

func (m *confirmModel) View() string {
	if m.answered || m.cancelled {
		return ""
	}
	return AccentStyle.Render("?") + " " + m.question + " " + MutedStyle.Render("[y/N]") + " "
}

type promptModel struct {
	label     string
	textInput textinput.Model
	cancelled bool
	submitted bool
}

func (m *promptModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m *promptModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "enter":
			m.submitted = true
			return m, tea.Quit
		case "ctrl+c", "esc":
			m.cancelled = true
			return m, tea.Quit
		}
	}

	var cmd tea.Cmd
	m.textInput, cmd = m.textInput.Update(msg)
	return m, cmd
}

func (m *promptModel) View() string {
	if m.submitted || m.cancelled {
		return ""
	}

	var sb strings.Builder
	sb.WriteString(AccentStyle.Render("?") + " " + m.label + "\n")
	sb.WriteString(m.textInput.View() + "\n")
	return sb.String()
}
