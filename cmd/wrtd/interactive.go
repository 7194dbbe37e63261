package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/wippyai/wrt/budget"
	"github.com/wippyai/wrt/engine"
	"github.com/wippyai/wrt/runtime"
	"github.com/wippyai/wrt/safemem"
	"github.com/wippyai/wrt/wasm"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#5F5FD7")).
			Padding(0, 1)

	funcStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#5F5FD7"))

	resultStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

type modelState int

const (
	stateSelectFunc modelState = iota
	stateInputArgs
	stateShowResult
)

type funcInfo struct {
	name string
	sig  wasm.FuncType
}

type inspectorModel struct {
	img      *wasm.Image
	store    *runtime.Store
	reg      *budget.Registry
	inst     *runtime.Instance
	eng      *engine.Engine
	err      error
	filename string
	result   string
	funcs    []funcInfo
	inputs   []textinput.Model
	fuel     uint64
	verify   safemem.Level
	selected int
	focusIdx int
	state    modelState
}

func newInspector(filename string, img *wasm.Image, store *runtime.Store, reg *budget.Registry, fuel uint64, verify safemem.Level) *inspectorModel {
	var funcs []funcInfo
	for _, exp := range img.Exports {
		if exp.Kind != wasm.KindFunc {
			continue
		}
		sig, _ := img.FuncSignature(exp.Idx)
		funcs = append(funcs, funcInfo{name: exp.Name, sig: sig})
	}
	sort.Slice(funcs, func(i, j int) bool { return funcs[i].name < funcs[j].name })

	return &inspectorModel{
		img:      img,
		store:    store,
		reg:      reg,
		filename: filename,
		funcs:    funcs,
		fuel:     fuel,
		verify:   verify,
		state:    stateSelectFunc,
	}
}

type loadedMsg struct {
	err  error
	inst *runtime.Instance
	eng  *engine.Engine
}

type callResultMsg struct {
	err    error
	result string
}

func (m *inspectorModel) Init() tea.Cmd {
	return m.load
}

func (m *inspectorModel) load() tea.Msg {
	inst, err := m.store.Instantiate(m.img)
	if err != nil {
		return loadedMsg{err: err}
	}
	eng, err := engine.New(inst, engine.Config{
		Registry: m.reg,
		Fuel:     m.fuel,
		Verify:   m.verify,
	})
	if err != nil {
		inst.Close()
		return loadedMsg{err: err}
	}
	if err := eng.RunStart(context.Background()); err != nil {
		eng.Close()
		inst.Close()
		return loadedMsg{err: err}
	}
	return loadedMsg{inst: inst, eng: eng}
}

func (m *inspectorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case loadedMsg:
		m.err = msg.err
		m.inst = msg.inst
		m.eng = msg.eng
		return m, nil

	case callResultMsg:
		m.err = msg.err
		m.result = msg.result
		m.state = stateShowResult
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			if m.state == stateInputArgs && msg.String() == "q" {
				break // allow typing q into an argument
			}
			m.close()
			return m, tea.Quit

		case "up", "k":
			if m.state == stateSelectFunc && m.selected > 0 {
				m.selected--
			}

		case "down", "j":
			if m.state == stateSelectFunc && m.selected < len(m.funcs)-1 {
				m.selected++
			}

		case "tab":
			if m.state == stateInputArgs && len(m.inputs) > 0 {
				m.inputs[m.focusIdx].Blur()
				m.focusIdx = (m.focusIdx + 1) % len(m.inputs)
				m.inputs[m.focusIdx].Focus()
			}

		case "esc":
			if m.state != stateSelectFunc {
				m.state = stateSelectFunc
				m.result = ""
				m.err = nil
			}

		case "enter":
			switch m.state {
			case stateSelectFunc:
				if len(m.funcs) == 0 || m.eng == nil {
					break
				}
				fn := m.funcs[m.selected]
				if len(fn.sig.Params) == 0 {
					return m, m.invoke(fn, nil)
				}
				m.inputs = make([]textinput.Model, len(fn.sig.Params))
				for i, p := range fn.sig.Params {
					ti := textinput.New()
					ti.Placeholder = p.String()
					ti.CharLimit = 32
					ti.Width = 20
					m.inputs[i] = ti
				}
				m.focusIdx = 0
				m.inputs[0].Focus()
				m.state = stateInputArgs

			case stateInputArgs:
				fn := m.funcs[m.selected]
				raw := make([]string, len(m.inputs))
				for i := range m.inputs {
					raw[i] = m.inputs[i].Value()
				}
				return m, m.invoke(fn, raw)

			case stateShowResult:
				m.state = stateSelectFunc
				m.result = ""
				m.err = nil
			}
		}
	}

	if m.state == stateInputArgs && len(m.inputs) > 0 {
		var cmd tea.Cmd
		m.inputs[m.focusIdx], cmd = m.inputs[m.focusIdx].Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *inspectorModel) invoke(fn funcInfo, raw []string) tea.Cmd {
	return func() tea.Msg {
		args, err := parseArgs(m.img, fn.name, strings.Join(raw, ","))
		if err != nil {
			return callResultMsg{err: err}
		}
		results, err := m.eng.Invoke(context.Background(), fn.name, args)
		if err != nil {
			if trap := m.eng.Trap(); trap != nil {
				return callResultMsg{err: fmt.Errorf("%w\n%s", err, m.eng.StackTrace())}
			}
			return callResultMsg{err: err}
		}

		var parts []string
		for _, v := range results {
			parts = append(parts, v.String())
		}
		s := m.eng.Governor().Stats()
		return callResultMsg{result: fmt.Sprintf("%s\nfuel used: %d  instructions: %d",
			strings.Join(parts, ", "), s.FuelConsumed, s.InstructionsExecuted)}
	}
}

func (m *inspectorModel) close() {
	if m.eng != nil {
		m.eng.Close()
	}
	if m.inst != nil {
		m.inst.Close()
	}
}

func (m *inspectorModel) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("wrtd inspector — " + m.filename))
	b.WriteString("\n\n")

	if m.err != nil && m.state != stateShowResult {
		b.WriteString(errorStyle.Render(m.err.Error()))
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("q: quit"))
		return b.String()
	}

	switch m.state {
	case stateSelectFunc:
		if len(m.funcs) == 0 {
			b.WriteString("module exports no functions\n")
		}
		for i, fn := range m.funcs {
			line := fmt.Sprintf("%s %s", fn.name, signatureString(fn.sig))
			if i == m.selected {
				b.WriteString(selectedStyle.Render("> " + line))
			} else {
				b.WriteString(funcStyle.Render("  " + line))
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("↑/↓: select  enter: invoke  q: quit"))

	case stateInputArgs:
		fn := m.funcs[m.selected]
		b.WriteString(funcStyle.Render(fn.name))
		b.WriteString("\n\n")
		for i := range m.inputs {
			b.WriteString(fmt.Sprintf("  arg%d (%s): %s\n", i, fn.sig.Params[i], m.inputs[i].View()))
		}
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("tab: next field  enter: invoke  esc: back"))

	case stateShowResult:
		if m.err != nil {
			b.WriteString(errorStyle.Render(m.err.Error()))
		} else {
			b.WriteString(resultStyle.Render(m.result))
		}
		b.WriteString("\n\n")
		b.WriteString(helpStyle.Render("enter/esc: back  q: quit"))
	}
	return b.String()
}

func signatureString(sig wasm.FuncType) string {
	var params, results []string
	for _, p := range sig.Params {
		params = append(params, p.String())
	}
	for _, r := range sig.Results {
		results = append(results, r.String())
	}
	return fmt.Sprintf("(%s) -> (%s)", strings.Join(params, ", "), strings.Join(results, ", "))
}

func runInteractive(filename string, img *wasm.Image, store *runtime.Store, reg *budget.Registry, fuel uint64, verify safemem.Level) int {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		fmt.Fprintln(os.Stderr, "wrtd: interactive mode needs a terminal")
		return exitUsage
	}
	model := newInspector(filename, img, store, reg, fuel, verify)
	p := tea.NewProgram(model, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "wrtd: %v\n", err)
		return exitTrap
	}
	model.close()
	return exitOK
}
