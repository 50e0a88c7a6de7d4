package cli

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/devrenanferrari/genesis/fs"
)

type progressMsg float64

type progressErrMsg struct{ err error }

type downloadCompleteMsg struct{}

type getFlags struct {
	server  string
	token   string
	userID  string
	project string
}

const (
	downloading = iota
	prompting
)

type getCmdModel struct {
	pw        *progressWriter
	progress  progress.Model
	path      string
	name      string
	textinput textinput.Model
	state     int
	err       error
}

func newGetCmdModel(pw *progressWriter, path, defaultName string) getCmdModel {
	textinput := textinput.New()
	textinput.Placeholder = defaultName
	textinput.Focus()
	textinput.CharLimit = 156
	textinput.Width = 20

	return getCmdModel{
		pw:        pw,
		progress:  progress.New(progress.WithGradient("#FFBA08", "#F48C06")),
		textinput: textinput,
		path:      path,
		name:      defaultName,
		state:     downloading,
	}
}

func (m getCmdModel) Init() tea.Cmd {
	return nil
}

func (m getCmdModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.Type == tea.KeyEnter && m.state == prompting {
			name := strings.TrimSpace(m.textinput.Value())
			if name == "" {
				return m.handleSaveProject(m.name)
			}
			return m.handleSaveProject(name)
		} else if msg.Type == tea.KeyEscape || msg.Type == tea.KeyCtrlC {
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.progress.Width = msg.Width - padding*2 - 4
		if m.progress.Width > maxWidth {
			m.progress.Width = maxWidth
		}
		return m, nil

	case progressErrMsg:
		m.err = msg.err
		return m, tea.Quit

	case progressMsg:
		var cmds []tea.Cmd

		if msg >= 1.0 {
			cmds = append(cmds, tea.Sequence(finalPause(), func() tea.Msg {
				return downloadCompleteMsg{}
			}))
		}

		cmds = append(cmds, m.progress.SetPercent(float64(msg)))
		return m, tea.Batch(cmds...)

	case progress.FrameMsg:
		progressModel, cmd := m.progress.Update(msg)
		m.progress = progressModel.(progress.Model)
		return m, cmd
	case downloadCompleteMsg:
		m.state = prompting
		return m, textinput.Blink
	}
	var cmd tea.Cmd
	m.textinput, cmd = m.textinput.Update(msg)
	return m, cmd
}

func (m getCmdModel) View() string {
	if m.err != nil {
		return fmt.Sprintf("Error: %v", m.err)
	}
	if m.state == prompting {
		return fmt.Sprintf("\nEnter project name: %s", m.textinput.View())
	}
	pad := strings.Repeat(" ", padding)
	return "\n" +
		pad + m.progress.View() + "\n\n" +
		pad + helpStyle("Press esc to quit")
}

// runGet downloads the project archive into a temp file and lets the user
// unpack it into the working directory.
func runGet(ctx context.Context, flags getFlags) error {
	errorStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("#FFBA08"))
	client := NewClient(flags.server, flags.token)
	resp, err := client.Download(ctx, flags.userID, flags.project)
	if err != nil {
		return errors.New(errorStyle.Render(fmt.Sprintf("error downloading project: %v", err)))
	}
	defer resp.Body.Close()

	file, err := os.CreateTemp("", flags.project+"-*.zip")
	if err != nil {
		return errors.New(errorStyle.Render(fmt.Sprintf("could not create file: %v", err)))
	}
	defer os.Remove(file.Name())
	defer file.Close() // nolint:errcheck

	var p *tea.Program
	pw := &progressWriter{
		total:  int(resp.ContentLength),
		file:   file,
		reader: resp.Body,
		onProgress: func(ratio float64) {
			p.Send(progressMsg(ratio))
		},
	}

	p = tea.NewProgram(newGetCmdModel(pw, file.Name(), flags.project))
	go pw.Start(p)

	final, err := p.Run()
	if err != nil {
		return fmt.Errorf("error running program: %w", err)
	}
	if m, ok := final.(getCmdModel); ok && m.err != nil {
		return m.err
	}
	return nil
}

func finalPause() tea.Cmd {
	return tea.Tick(time.Millisecond*750, func(_ time.Time) tea.Msg {
		return nil
	})
}

func (m getCmdModel) handleSaveProject(name string) (tea.Model, tea.Cmd) {
	errorStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("#FFBA08"))
	cwd, err := os.Getwd()
	if err != nil {
		fmt.Println(errorStyle.Render(fmt.Sprintf("Error getting current working directory: %v", err)))
		m.err = err
		return m, tea.Quit
	}
	destDir := filepath.Join(cwd, name)
	if _, err := extractArchive(fs.NewOsFileSystem(""), m.path, destDir); err != nil {
		fmt.Println(errorStyle.Render(fmt.Sprintf("Error unzipping file: %v", err)))
		m.err = err
		return m, tea.Quit
	}
	successStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("212"))
	successProject := successStyle.Render(name)
	check := lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Render("✓")
	fmt.Printf("%s Project saved to directory %s\n", check, successProject)
	return m, tea.Quit
}

var helpStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#626262")).Render

const (
	padding  = 2
	maxWidth = 80
)

type progressWriter struct {
	total      int
	downloaded int
	file       *os.File
	reader     io.Reader
	onProgress func(float64)
}

func (pw *progressWriter) Start(p *tea.Program) {
	// TeeReader calls pw.Write() each time a new response is received
	_, err := io.Copy(pw.file, io.TeeReader(pw.reader, pw))
	if err != nil {
		p.Send(progressErrMsg{err})
		return
	}
	if pw.total <= 0 {
		p.Send(progressMsg(1))
	}
}

func (pw *progressWriter) Write(p []byte) (int, error) {
	pw.downloaded += len(p)
	if pw.total > 0 && pw.onProgress != nil {
		pw.onProgress(float64(pw.downloaded) / float64(pw.total))
	}
	return len(p), nil
}

// extractArchive writes every file of the zip at src below dest on fsys and
// returns the number of files written. Entry names go through
// fs.NormalizePath, so an archive cannot write outside dest.
func extractArchive(fsys *fs.FileSystem, src, dest string) (int, error) {
	r, err := zip.OpenReader(src)
	if err != nil {
		return 0, fmt.Errorf("error opening archive: %w", err)
	}
	defer r.Close()

	files := make(map[string]string, len(r.File))
	for _, f := range r.File {
		if f.FileInfo().IsDir() {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return 0, fmt.Errorf("error opening %s: %w", f.Name, err)
		}
		content, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return 0, fmt.Errorf("error reading %s: %w", f.Name, err)
		}
		files[f.Name] = string(content)
	}
	return fsys.WriteFiles(dest, files)
}
