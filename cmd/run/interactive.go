package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/hostbridge/engine"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	funcStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	typeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4"))

	resultStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))

	statsStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#7D56F4")).
			Padding(0, 1)
)

type interactiveModel struct {
	err      error
	opts     options
	session  *session
	instance *engine.Instance
	result   string
	stats    string
	funcs    []engine.Export
	input    textinput.Model
	selected int
	state    modelState
}

type modelState int

const (
	stateSelectFunc modelState = iota
	stateInputArgs
	stateShowResult
)

func newInteractiveModel(opts options) *interactiveModel {
	return &interactiveModel{
		opts:  opts,
		state: stateSelectFunc,
	}
}

// Stats are snapshotted on the goroutine that calls into the instance and
// carried to View in the messages below.
type loadedMsg struct {
	err     error
	session *session
	inst    *engine.Instance
	stats   string
}

type callResultMsg struct {
	err    error
	result string
	stats  string
}

func (m *interactiveModel) Init() tea.Cmd {
	return m.load
}

func (m *interactiveModel) load() tea.Msg {
	ctx := context.Background()
	s, err := open(ctx, m.opts)
	if err != nil {
		return loadedMsg{err: err}
	}
	inst, err := s.mod.Instantiate(ctx)
	if err != nil {
		s.Close(ctx)
		return loadedMsg{err: err}
	}
	return loadedMsg{session: s, inst: inst, stats: statsLine(inst.Context().Stats())}
}

func (m *interactiveModel) close() {
	ctx := context.Background()
	if m.instance != nil {
		m.instance.Close(ctx)
	}
	if m.session != nil {
		m.session.Close(ctx)
	}
}

func (m *interactiveModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			m.close()
			return m, tea.Quit

		case "q":
			if m.state != stateInputArgs {
				m.close()
				return m, tea.Quit
			}

		case "up", "k":
			if m.state == stateSelectFunc && m.selected > 0 {
				m.selected--
			}

		case "down", "j":
			if m.state == stateSelectFunc && m.selected < len(m.funcs)-1 {
				m.selected++
			}

		case "enter":
			switch m.state {
			case stateSelectFunc:
				if len(m.funcs) == 0 {
					return m, nil
				}
				if len(m.funcs[m.selected].Params) == 0 {
					return m, m.callFunction
				}
				m.prepareInput()
				m.state = stateInputArgs
				return m, textinput.Blink

			case stateInputArgs:
				return m, m.callFunction

			case stateShowResult:
				m.state = stateSelectFunc
				m.result = ""
				m.err = nil
			}

		case "esc":
			switch m.state {
			case stateInputArgs:
				m.state = stateSelectFunc
			case stateShowResult:
				m.state = stateSelectFunc
				m.result = ""
				m.err = nil
			}
		}

	case loadedMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.session = msg.session
		m.instance = msg.inst
		m.funcs = msg.session.mod.Exports()
		m.stats = msg.stats

	case callResultMsg:
		m.result = msg.result
		m.err = msg.err
		if msg.stats != "" {
			m.stats = msg.stats
		}
		m.state = stateShowResult
	}

	if m.state == stateInputArgs {
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m *interactiveModel) prepareInput() {
	f := m.funcs[m.selected]
	ti := textinput.New()
	ti.Prompt = "args: "
	ti.Placeholder = placeholder(f.Params)
	ti.Width = 50
	ti.Focus()
	m.input = ti
}

func placeholder(params []api.ValueType) string {
	if len(params) == 2 && params[0] == api.ValueTypeI32 && params[1] == api.ValueTypeI32 {
		return `"text" or ptr, len`
	}
	names := make([]string, len(params))
	for i, p := range params {
		names[i] = api.ValueTypeName(p)
	}
	return strings.Join(names, ", ")
}

func (m *interactiveModel) callFunction() tea.Msg {
	ctx := context.Background()
	if m.instance == nil {
		return callResultMsg{err: fmt.Errorf("module not loaded")}
	}

	f := m.funcs[m.selected]
	var input string
	if m.state == stateInputArgs {
		input = m.input.Value()
	}
	args, err := parseArgs(ctx, m.instance, f.Params, input)
	if err != nil {
		return callResultMsg{err: err}
	}

	res, err := m.instance.Call(ctx, f.Name, args...)
	if err != nil {
		return callResultMsg{err: err, stats: statsLine(m.instance.Context().Stats())}
	}
	m.instance.RunPending()
	result := formatResults(ctx, m.instance, f.Results, res)
	return callResultMsg{result: result, stats: statsLine(m.instance.Context().Stats())}
}

func (m *interactiveModel) View() string {
	if m.err != nil && m.state != stateShowResult {
		return errorStyle.Render(fmt.Sprintf("Error: %v\n\nPress q to quit.", m.err))
	}

	if m.instance == nil {
		return "Loading module..."
	}

	var b strings.Builder

	b.WriteString(titleStyle.Render("Bridge Runner"))
	b.WriteString(" ")
	b.WriteString(m.opts.wasmFile)
	b.WriteString("\n\n")

	switch m.state {
	case stateSelectFunc:
		b.WriteString("Select a function to call:\n\n")
		for i, f := range m.funcs {
			if i == m.selected {
				b.WriteString(selectedStyle.Render("> " + signature(f)))
			} else {
				b.WriteString("  " + m.formatFunc(f))
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("↑/↓ select • enter call • q quit"))

	case stateInputArgs:
		f := m.funcs[m.selected]
		b.WriteString(fmt.Sprintf("Calling %s\n\n", m.formatFunc(f)))
		b.WriteString(m.input.View())
		b.WriteString("\n\n")
		b.WriteString(helpStyle.Render(`enter call • esc back • quote a string: "hello"`))

	case stateShowResult:
		f := m.funcs[m.selected]
		b.WriteString(fmt.Sprintf("Result of %s:\n\n", funcStyle.Render(f.Name)))
		if m.err != nil {
			b.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", m.err)))
		} else {
			b.WriteString(resultStyle.Render(m.result))
		}
		b.WriteString("\n\n")
		b.WriteString(helpStyle.Render("enter continue • q quit"))
	}

	b.WriteString("\n\n")
	b.WriteString(statsStyle.Render(m.statsView()))
	return b.String()
}

func (m *interactiveModel) statsView() string {
	lines := []string{m.stats}
	for i, p := range m.instance.Pools() {
		lines = append(lines, fmt.Sprintf("pool %d: %s • %d/%d ready • %d running",
			i, p.State(), p.Ready(), p.Descriptor().Threads, p.Workers()))
	}
	return strings.Join(lines, "\n")
}

func (m *interactiveModel) formatFunc(f engine.Export) string {
	params := make([]string, len(f.Params))
	for i, p := range f.Params {
		params[i] = typeStyle.Render(api.ValueTypeName(p))
	}
	result := ""
	if len(f.Results) > 0 {
		results := make([]string, len(f.Results))
		for i, r := range f.Results {
			results[i] = typeStyle.Render(api.ValueTypeName(r))
		}
		result = " -> " + strings.Join(results, ", ")
	}
	return funcStyle.Render(f.Name) + "(" + strings.Join(params, ", ") + ")" + result
}

func runInteractive(opts options) error {
	p := tea.NewProgram(newInteractiveModel(opts), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
