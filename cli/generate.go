package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/list"
	"github.com/devrenanferrari/genesis/core"
	"github.com/devrenanferrari/genesis/logger"
	"github.com/devrenanferrari/genesis/server"
)

type state int

const (
	Input state = iota
	Processing
	Finished
)

type genFlags struct {
	server  string
	token   string
	userID  string
	project string
	model   string
}

// streamEndMsg is sent once the server closed the project stream.
type streamEndMsg struct{}

var (
	checkStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	crossStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	thoughtStyle = lipgloss.NewStyle().Faint(true).Italic(true)
	nameStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("212"))
)

type generateCmdModel struct {
	textInput   textinput.Model
	spinner     spinner.Model
	state       state
	request     *core.Request
	client      *Client
	publisher   *FramePublisher
	ctx         context.Context
	cancel      context.CancelFunc
	lastThought string
	files       map[string]bool
	commits     []core.CommitResult
	errors      []string
	summary     *core.Summary
	logger      logger.Logger
}

func newGenerateModel(f genFlags, l logger.Logger) generateCmdModel {
	ti := textinput.New()
	ti.Placeholder = "Describe your project..."
	ti.Focus()
	ti.CharLimit = 2000
	ti.Width = 80

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("202"))

	req := core.NewRequest(f.userID, f.project, "")
	req.Model = f.model

	ctx, cancel := context.WithCancel(context.Background())
	return generateCmdModel{
		textInput: ti,
		spinner:   s,
		state:     Input,
		request:   req,
		client:    NewClient(f.server, f.token),
		publisher: NewFramePublisher(l),
		ctx:       ctx,
		cancel:    cancel,
		files:     map[string]bool{},
		logger:    l,
	}
}

func (m generateCmdModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m generateCmdModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	if m.state == Finished {
		return m, tea.Quit
	}

	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyPress(msg)
	case server.Frame:
		return m.handleFrame(msg)
	case streamEndMsg:
		return m.handleProjectFinalization()
	case error:
		m.logger.Error(fmt.Sprintf("Project generation failed: %v", msg))
		return m, tea.Sequence(tea.Printf("Error: %s", msg), tea.Quit)
	default:
		if m.state == Processing {
			m.spinner, cmd = m.spinner.Update(msg)
			return m, cmd
		}
	}

	m.textInput, cmd = m.textInput.Update(msg)
	return m, cmd
}

func (m generateCmdModel) View() string {
	switch m.state {
	case Input:
		return fmt.Sprintf("%s\n%s", m.textInput.View(), helpStyle("(press enter to generate project or esc to quit)"))
	case Processing:
		var b strings.Builder
		if m.lastThought != "" {
			b.WriteString(thoughtStyle.Render(m.lastThought) + "\n")
		}
		enumerator := func(_ list.Items, i int) string {
			if i < len(m.commits) {
				if len(m.commits[i].Failed()) > 0 {
					return crossStyle.Render("✗")
				}
				return checkStyle.Render("✓")
			}
			return m.spinner.View()
		}
		l := list.New().Enumerator(enumerator)
		for _, c := range m.commits {
			l.Item(describeCommit(c))
		}
		l.Item(fmt.Sprintf("Writing files (%d so far)", len(m.files)))
		b.WriteString(fmt.Sprint(l))
		return b.String()
	case Finished:
		return ""
	default:
		return "An error occurred."
	}
}

func describeCommit(c core.CommitResult) string {
	msg := c.Message
	if msg == "" {
		msg = fmt.Sprintf("commit %d", c.Sequence)
	}
	if c.Empty {
		return fmt.Sprintf("%s (no changes)", msg)
	}
	s := fmt.Sprintf("%s (%d files)", msg, c.Files)
	if failed := c.Failed(); len(failed) > 0 {
		s += ", failed: " + strings.Join(failed, ", ")
	}
	return s
}

func (m *generateCmdModel) Shutdown() {
	m.cancel()
}

func (m generateCmdModel) handleKeyPress(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyCtrlC, tea.KeyEsc:
		m.cancel()
		if m.state == Processing {
			m.logger.Debug("User interrupted project generation")
			message := lipgloss.NewStyle().Faint(true).Render("Interrupted. Exiting application...")
			return m, tea.Sequence(tea.Printf("%s", message), tea.Quit)
		}
		return m, tea.Quit
	case tea.KeyEnter:
		if m.state == Input {
			return m.handleKeyEnter()
		}
		return m, nil
	}
	if m.state != Input {
		return m, nil
	}
	var cmd tea.Cmd
	m.textInput, cmd = m.textInput.Update(msg)
	return m, cmd
}

func (m generateCmdModel) handleKeyEnter() (tea.Model, tea.Cmd) {
	v := strings.TrimSpace(m.textInput.Value())
	if v == "" {
		message := lipgloss.NewStyle().Faint(true).Render("No project description entered. Exiting...")
		return m, tea.Sequence(tea.Printf("%s", message), tea.Quit)
	}
	m.textInput.SetValue("")
	m.request.Prompt = v
	m.state = Processing

	message := lipgloss.NewStyle().Faint(true).Width(80).Render(fmt.Sprintf("> %s", v))
	return m, tea.Batch(tea.Printf("%s", message), m.spinner.Tick, m.startGeneration(), m.listenForNextFrame)
}

func (m generateCmdModel) startGeneration() tea.Cmd {
	ctx, client, req, pub := m.ctx, m.client, m.request, m.publisher
	return func() tea.Msg {
		if err := client.GenerateProject(ctx, req, pub.Publish); err != nil {
			pub.Error(err)
		}
		pub.Close()
		return nil
	}
}

func (m generateCmdModel) listenForNextFrame() tea.Msg {
	f, ok := <-m.publisher.frameChan
	if ok {
		return f
	}
	select {
	case err := <-m.publisher.errorChan:
		return err
	default:
		return streamEndMsg{}
	}
}

func (m generateCmdModel) handleFrame(f server.Frame) (tea.Model, tea.Cmd) {
	switch f.Type {
	case string(core.EventThought):
		m.lastThought = f.Content
	case string(core.EventPatch):
		if f.Delete {
			delete(m.files, f.Path)
		} else {
			m.files[f.Path] = true
		}
	case string(core.EventCommit):
		if f.Commit != nil {
			m.commits = append(m.commits, *f.Commit)
		}
	case server.FrameError:
		m.errors = append(m.errors, f.Detail)
	case server.FrameDone:
		m.summary = f.Summary
	}
	return m, tea.Batch(m.spinner.Tick, m.listenForNextFrame)
}

func (m generateCmdModel) handleProjectFinalization() (tea.Model, tea.Cmd) {
	m.logger.Info("Project stream finished")
	m.state = Finished

	var lines []string
	for _, e := range m.errors {
		lines = append(lines, crossStyle.Render("Error: "+e))
	}
	if m.summary == nil {
		lines = append(lines, "Project generation did not complete.")
		return m, tea.Sequence(tea.Printf("%s", strings.Join(lines, "\n")), tea.Quit)
	}

	lines = append(lines, fmt.Sprintf("%s Project %s generated: %d files in %d commits",
		checkStyle.Render("✓"), nameStyle.Render(m.request.Project), m.summary.Files, m.summary.Commits))
	if n := len(m.commits); n > 0 {
		for _, r := range m.commits[n-1].Results {
			if r.OK && r.Detail != "" {
				lines = append(lines, fmt.Sprintf("  %s: %s", r.Sink, r.Detail))
			}
		}
	}
	return m, tea.Sequence(tea.Printf("%s", strings.Join(lines, "\n")), tea.Quit)
}
