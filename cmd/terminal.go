// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/sextant/pkg/analysis"
	"github.com/Thermoquad/sextant/pkg/session"
	"github.com/Thermoquad/sextant/pkg/transcript"
)

//////////////////////////////////////////////////////////////
// Command
//////////////////////////////////////////////////////////////

var (
	termRepeatMS   int
	termExportPath string
)

var terminalCmd = &cobra.Command{
	Use:   "terminal",
	Short: "Interactive serial terminal",
	Long: `Open an interactive terminal session on the configured connection.

All traffic is captured in the session transcript. The payload line sends
text by default; toggle hex mode to type space-separated hex bytes
instead. The transcript can be summarized by an AI text-generation
service (requires SEXTANT_API_KEY).

Key bindings:
  enter    send the payload line
  tab      toggle hex mode (input and display)
  ctrl+e   toggle CRLF append on text sends
  ctrl+r   arm/disarm auto-repeat of the payload line
  ctrl+d   toggle DTR        ctrl+t   toggle RTS
  ctrl+b   send a line break
  ctrl+g   analyze the transcript
  ctrl+o   export the transcript to a file
  ctrl+k   clear the transcript
  esc      dismiss the analysis report
  ctrl+c   quit`,
	RunE: runTerminal,
}

func init() {
	terminalCmd.Flags().IntVar(&termRepeatMS, "repeat-ms", 1000, "Auto-repeat interval in milliseconds")
	terminalCmd.Flags().StringVar(&termExportPath, "export", "", "Transcript export path (.cbor for binary; default sextant-<time>.log)")
	rootCmd.AddCommand(terminalCmd)
}

//////////////////////////////////////////////////////////////
// Types
//////////////////////////////////////////////////////////////

// termModel is the Bubble Tea model for the terminal TUI
type termModel struct {
	sess     *session.Session
	connInfo string

	input   textinput.Model
	hexMode bool

	// Control line mirror, refreshed on every successful set and tick
	signals    session.Signals
	hasSignals bool
	dtr        bool
	rts        bool

	report    string
	analyzing bool

	status string

	width    int
	height   int
	quitting bool
	closed   bool
}

//////////////////////////////////////////////////////////////
// Messages
//////////////////////////////////////////////////////////////

type termTickMsg time.Time

type termClosedMsg struct{}

type termAnalysisMsg struct {
	report string
}

//////////////////////////////////////////////////////////////
// Model Initialization
//////////////////////////////////////////////////////////////

func initialTermModel(sess *session.Session, connInfo string) termModel {
	ti := textinput.New()
	ti.Placeholder = "AT"
	ti.Prompt = "> "
	ti.CharLimit = 512
	ti.Focus()

	return termModel{
		sess:     sess,
		connInfo: connInfo,
		input:    ti,
		width:    80,
		height:   24,
	}
}

//////////////////////////////////////////////////////////////
// Bubble Tea Interface
//////////////////////////////////////////////////////////////

func (m termModel) Init() tea.Cmd {
	return tea.Batch(
		termTickCmd(),
		waitForClose(m.sess),
		tea.EnterAltScreen,
	)
}

func termTickCmd() tea.Cmd {
	return tea.Tick(250*time.Millisecond, func(t time.Time) tea.Msg {
		return termTickMsg(t)
	})
}

// waitForClose delivers a message when the session reaches Closed,
// whatever the cause (explicit disconnect, unplug, read failure).
func waitForClose(sess *session.Session) tea.Cmd {
	done := sess.Done()
	return func() tea.Msg {
		<-done
		return termClosedMsg{}
	}
}

func analyzeCmd(sess *session.Session, hexMode bool) tea.Cmd {
	entries := sess.Log().Snapshot()
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()
		cfg := analysis.Config{
			Model:   aiModel,
			APIKey:  GetAPIKey(),
			BaseURL: aiURL,
		}
		return termAnalysisMsg{
			report: analysis.Summarize(ctx, http.DefaultClient, cfg, entries, hexMode),
		}
	}
}

func (m termModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyMsg(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case termTickMsg:
		if sig, err := m.sess.Signals(); err == nil {
			m.signals = sig
			m.hasSignals = true
		} else {
			m.hasSignals = false
		}
		return m, termTickCmd()

	case termClosedMsg:
		m.closed = true
		m.status = "Connection closed"

	case termAnalysisMsg:
		m.analyzing = false
		m.report = msg.report
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m termModel) handleKeyMsg(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		m.quitting = true
		m.sess.Disconnect()
		return m, tea.Quit

	case "esc":
		m.report = ""
		return m, nil

	case "enter":
		payload := m.input.Value()
		if strings.TrimSpace(payload) == "" {
			return m, nil
		}
		if err := m.sess.Send(payload, m.hexMode); err == nil {
			m.input.Reset()
			m.status = ""
		} else {
			m.status = err.Error()
		}
		return m, nil

	case "tab":
		m.hexMode = !m.hexMode
		return m, nil

	case "ctrl+e":
		m.sess.SetAppendCRLF(!m.sess.AppendCRLF())
		return m, nil

	case "ctrl+r":
		if m.sess.RepeatArmed() {
			m.sess.StopRepeat()
			return m, nil
		}
		payload := m.input.Value()
		interval := time.Duration(termRepeatMS) * time.Millisecond
		if err := m.sess.StartRepeat(payload, m.hexMode, interval); err != nil {
			m.status = err.Error()
		}
		return m, nil

	case "ctrl+d":
		m.dtr = !m.dtr
		if err := m.sess.SetDTR(m.dtr); err != nil {
			m.dtr = !m.dtr
			m.status = err.Error()
		}
		return m, nil

	case "ctrl+t":
		m.rts = !m.rts
		if err := m.sess.SetRTS(m.rts); err != nil {
			m.rts = !m.rts
			m.status = err.Error()
		}
		return m, nil

	case "ctrl+b":
		if err := m.sess.SendBreak(0); err != nil {
			m.status = err.Error()
		}
		return m, nil

	case "ctrl+g":
		if m.analyzing {
			return m, nil
		}
		m.analyzing = true
		m.report = ""
		return m, analyzeCmd(m.sess, m.hexMode)

	case "ctrl+o":
		if err := exportTranscript(m.sess.Log(), termExportPath, m.hexMode); err != nil {
			m.status = err.Error()
		} else {
			m.status = "Transcript exported"
		}
		return m, nil

	case "ctrl+k":
		m.sess.Log().Reset()
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// exportTranscript writes the transcript to path. A .cbor extension
// selects the binary dump; anything else gets the rendered text log.
func exportTranscript(log *transcript.Log, path string, hexMode bool) error {
	if path == "" {
		path = "sextant-" + time.Now().Format("20060102-150405") + ".log"
	}

	var data []byte
	if strings.HasSuffix(path, ".cbor") {
		var err error
		data, err = transcript.ExportCBOR(log.Snapshot())
		if err != nil {
			return err
		}
	} else {
		data = []byte(transcript.Render(log.Snapshot(), hexMode))
	}
	return os.WriteFile(path, data, 0o644)
}

//////////////////////////////////////////////////////////////
// View
//////////////////////////////////////////////////////////////

func (m termModel) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	// Styles
	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("12")).
		Background(lipgloss.Color("235")).
		Padding(0, 1)

	headerStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241"))

	rxStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("10"))

	txStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("14"))

	errorStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("9")).
		Bold(true)

	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1)

	var s strings.Builder
	s.WriteString(titleStyle.Render("SEXTANT - SERIAL TERMINAL"))
	s.WriteString("\n")

	// Status line
	counters := m.sess.Log().Counters()
	state := m.sess.State().String()
	if m.closed {
		state = "closed"
	}
	status := fmt.Sprintf("%s | %s | %s | rx %d B tx %d B",
		m.connInfo, m.sess.Config(), state, counters.RxBytes, counters.TxBytes)
	s.WriteString(headerStyle.Render(status))
	s.WriteString("\n")

	// Mode indicators and control lines
	indicators := []string{}
	if m.hexMode {
		indicators = append(indicators, "HEX")
	} else {
		indicators = append(indicators, "TEXT")
	}
	if m.sess.AppendCRLF() {
		indicators = append(indicators, "+CRLF")
	}
	if m.sess.RepeatArmed() {
		indicators = append(indicators, fmt.Sprintf("REPEAT %dms", termRepeatMS))
	}
	if m.hasSignals {
		indicators = append(indicators, fmt.Sprintf("DTR=%s RTS=%s CTS=%s DSR=%s",
			onOff(m.signals.DTR), onOff(m.signals.RTS),
			onOff(m.signals.CTS), onOff(m.signals.DSR)))
	}
	if m.analyzing {
		indicators = append(indicators, "ANALYZING...")
	}
	s.WriteString(headerStyle.Render(strings.Join(indicators, "  ")))
	s.WriteString("\n")

	// Transcript pane
	logHeight := m.height - 10
	if m.report != "" {
		logHeight -= strings.Count(m.report, "\n") + 3
	}
	if logHeight < 5 {
		logHeight = 5
	}

	entries := m.sess.Log().Tail(logHeight)
	logContent := strings.Builder{}
	if len(entries) == 0 {
		logContent.WriteString(headerStyle.Render("  (no traffic yet)"))
	} else {
		for i, e := range entries {
			if i > 0 {
				logContent.WriteByte('\n')
			}
			line := transcript.RenderLine(e, m.hexMode)
			switch e.Kind {
			case transcript.KindReceived:
				logContent.WriteString(rxStyle.Render(line))
			case transcript.KindTransmitted:
				logContent.WriteString(txStyle.Render(line))
			case transcript.KindError:
				logContent.WriteString(errorStyle.Render(line))
			default:
				logContent.WriteString(headerStyle.Render(line))
			}
		}
	}
	s.WriteString(boxStyle.Width(m.width - 4).Render(logContent.String()))
	s.WriteString("\n")

	// Analysis report pane
	if m.report != "" {
		s.WriteString(boxStyle.Width(m.width - 4).Render(m.report))
		s.WriteString("\n")
	}

	// Input line and transient status
	s.WriteString(m.input.View())
	s.WriteString("\n")
	if m.status != "" {
		s.WriteString(errorStyle.Render(m.status))
		s.WriteString("\n")
	}
	s.WriteString(headerStyle.Render("enter send | tab hex | ctrl+e crlf | ctrl+r repeat | ctrl+d dtr | ctrl+t rts | ctrl+b break | ctrl+g analyze | ctrl+o export | ctrl+k clear | ctrl+c quit"))

	return s.String()
}

func onOff(v bool) string {
	if v {
		return "on"
	}
	return "off"
}

//////////////////////////////////////////////////////////////
// Command Entry
//////////////////////////////////////////////////////////////

func runTerminal(cmd *cobra.Command, args []string) error {
	cfg, err := lineConfigFromFlags()
	if err != nil {
		return err
	}

	t, err := OpenTransport()
	if err != nil {
		return err
	}

	sess := session.New()
	if err := sess.Connect(t, cfg); err != nil {
		return err
	}

	p := tea.NewProgram(initialTermModel(sess, t.Description()))
	if _, err := p.Run(); err != nil {
		sess.Disconnect()
		return fmt.Errorf("TUI error: %w", err)
	}

	sess.Disconnect()
	return nil
}
