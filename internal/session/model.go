package session

import (
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"

	"github.com/Lele-bigLe/interactive-feedback-mcp/internal/feedback"
	"github.com/Lele-bigLe/interactive-feedback-mcp/internal/session/theme"
	"github.com/Lele-bigLe/interactive-feedback-mcp/internal/timeout"
)

const defaultViewWidth = 80

// tickMsg advances the countdown once per second.
type tickMsg time.Time

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// model drives one feedback round: a countdown header, the rendered
// prompt, and the huh form. Global keys are intercepted before the form
// so they work from any field.
type model struct {
	cfg        Config
	controller *timeout.Controller
	form       *huh.Form
	values     *formValues
	width      int
	done       bool
	result     feedback.Result
}

func newModel(cfg Config) model {
	values := &formValues{}
	return model{
		cfg:        cfg,
		controller: timeout.New(cfg.Timeout),
		form:       buildFeedbackForm(cfg.Options, values, defaultFormWidth),
		values:     values,
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(m.form.Init(), tickCmd())
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if m.done {
		return m, nil
	}

	switch typed := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = typed.Width
		m.form = m.form.WithWidth(formWidth(typed.Width))
		return m, nil
	case tickMsg:
		if m.controller.Tick() == timeout.StateExpired {
			return m.resolve(feedback.KeepAlive())
		}
		return m, tickCmd()
	case tea.KeyMsg:
		switch typed.String() {
		case "esc", "ctrl+c":
			return m.resolve(feedback.Result{})
		case "ctrl+e":
			return m.resolve(m.compose(feedback.EndFeedbackText))
		case "ctrl+p":
			if m.controller.State() == timeout.StatePaused {
				_ = m.controller.Resume()
			} else {
				_ = m.controller.Pause()
			}
			return m, nil
		case "ctrl+r":
			_ = m.controller.Reset()
			return m, nil
		}
	}

	return m.updateForm(msg)
}

func (m model) updateForm(msg tea.Msg) (tea.Model, tea.Cmd) {
	form, cmd := m.form.Update(msg)
	if next, ok := form.(*huh.Form); ok {
		m.form = next
	}

	switch m.form.State {
	case huh.StateCompleted:
		return m.resolve(m.compose(strings.TrimSpace(m.values.text)))
	case huh.StateAborted:
		return m.resolve(feedback.Result{})
	}
	return m, cmd
}

// resolve records the session outcome and quits. The result is read back
// by Run from the final model.
func (m model) resolve(result feedback.Result) (tea.Model, tea.Cmd) {
	m.result = result
	m.done = true
	return m, tea.Quit
}

// compose assembles the full result from the form's current values. The
// keep-alive expiry path never goes through here.
func (m model) compose(text string) feedback.Result {
	selected := append([]string(nil), m.values.selected...)
	images := parsePathList(m.values.imagesRaw)
	contexts := parsePathList(m.values.contextsRaw)
	return feedback.Result{
		InteractiveFeedback: feedback.ComposeFeedback(text, selected, images, contexts),
		ImagePaths:          images,
		SelectedOptions:     selected,
		ContextFiles:        contexts,
	}
}

func (m model) View() string {
	if m.done {
		return ""
	}

	width := m.width
	if width <= 0 {
		width = defaultViewWidth
	}

	countdown := renderCountdown(countdownConfig{
		Remaining: m.controller.Remaining(),
		Total:     m.controller.Duration(),
		Paused:    m.controller.State() == timeout.StatePaused,
		Width:     countdownBarWidth,
	})
	header := theme.TitleStyle.Render("交互式反馈") + "  " + countdown

	location := m.cfg.ProjectDirectory
	if m.cfg.CurrentFile != "" {
		location += " · " + m.cfg.CurrentFile
	}

	sections := []string{
		header,
		theme.SubtitleStyle.Render(location),
		renderMarkdown(m.cfg.Prompt, width-4),
		m.form.View(),
		theme.HintStyle.Render("enter 提交 · ctrl+e 结束 · ctrl+p 暂停/恢复 · ctrl+r 重新计时 · esc 取消"),
	}
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func formWidth(width int) int {
	if width <= 0 {
		return defaultFormWidth
	}
	return max(40, min(96, width-4))
}

func renderMarkdown(markdown string, width int) string {
	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(max(40, width)),
	)
	if err != nil {
		return markdown
	}
	rendered, err := renderer.Render(markdown)
	if err != nil {
		return markdown
	}
	return rendered
}
