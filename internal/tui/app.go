// Package tui is the terminal front end of the guessing side. The bubbletea
// program is the render worker: queued tasks run inside Update, and a frame
// is drawn by View between a render-now task and the tasks after it.
package tui

import (
	"fmt"
	"log"
	"runtime/debug"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"

	"github.com/jask/shellgame/internal/game"
	"github.com/jask/shellgame/internal/rtq"
)

type (
	wakeMsg       struct{}
	renderDoneMsg struct{}
	errMsg        struct{ err error }
	pickedMsg     int
)

type keyMap struct {
	Pick key.Binding
	Quit key.Binding
}

func newKeyMap() keyMap {
	return keyMap{
		Pick: key.NewBinding(key.WithKeys("1", "2", "3", "4", "5", "6", "7", "8", "9"), key.WithHelp("1-9", "pick cap")),
		Quit: key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
	}
}

// App is the bubbletea model. It implements rtq.Backend for its own queue,
// game.Display for the round tasks and rtq.Submitter for producers.
type App struct {
	// Logger receives task panics. Nil means log.Default().
	Logger *log.Logger
	// OnPick is called off the UI goroutine with the zero-based cap index.
	OnPick func(idx int) error
	// OnQuit, when set, replaces quitting the program on the quit key. The
	// owner is expected to wind the game down and then quit the program.
	OnQuit func()

	queue   *rtq.Queue
	wake    chan struct{}
	renders int
	keys    keyMap

	opponent string
	width    int
	frame    rtq.FrameID

	caps   int
	count  string
	scale  float64
	ticks  int
	reveal *game.Result
	picked int
	score  game.Score
	ping   time.Duration
	status string
	isErr  bool
}

// New returns an app playing against opponent.
func New(opponent string) *App {
	a := &App{
		opponent: opponent,
		wake:     make(chan struct{}, 1),
		keys:     newKeyMap(),
		picked:   game.NoGuess,
		scale:    1,
		status:   "waiting for the first round",
	}
	a.queue = rtq.New(a)
	return a
}

// Submit implements rtq.Submitter. A panicking task is logged and treated as
// not asking for a render.
func (a *App) Submit(t rtq.Task) {
	if t == nil {
		return
	}
	a.queue.Submit(rtq.TaskFunc(func(frame rtq.FrameID) (renderNow bool) {
		defer func() {
			if r := recover(); r != nil {
				a.logger().Printf("tui: task panic: %v\n%s", r, debug.Stack())
				renderNow = false
			}
		}()
		return t.Run(frame)
	}))
}

// Status shows a line of text in the status bar. Safe from any goroutine.
func (a *App) Status(text string) {
	a.Submit(rtq.TaskFunc(func(rtq.FrameID) bool {
		a.status, a.isErr = text, false
		return false
	}))
}

// RequestWake implements rtq.Backend. It may be called from any goroutine,
// including Update itself, so it never blocks.
func (a *App) RequestWake() {
	select {
	case a.wake <- struct{}{}:
	default:
	}
}

// RequestRenderPass implements rtq.Backend. It is only reached from Drain,
// which runs inside Update.
func (a *App) RequestRenderPass() {
	a.renders++
}

func (a *App) Init() tea.Cmd {
	return a.waitForWake()
}

func (a *App) waitForWake() tea.Cmd {
	return func() tea.Msg {
		<-a.wake
		return wakeMsg{}
	}
}

func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch m := msg.(type) {
	case wakeMsg:
		a.frame = a.queue.Drain().Frame
		return a, tea.Batch(a.waitForWake(), a.renderPasses())
	case renderDoneMsg:
		a.frame = a.queue.ContinueDrain().Frame
		return a, a.renderPasses()
	case tea.WindowSizeMsg:
		a.width = m.Width
		return a, nil
	case errMsg:
		a.status, a.isErr = m.err.Error(), true
		return a, nil
	case pickedMsg:
		if a.reveal == nil {
			a.picked = int(m)
			a.status, a.isErr = fmt.Sprintf("picked cap %d", int(m)+1), false
		}
		return a, nil
	case tea.KeyMsg:
		switch {
		case key.Matches(m, a.keys.Quit):
			if a.OnQuit == nil {
				return a, tea.Quit
			}
			a.status, a.isErr = "leaving...", false
			quit := a.OnQuit
			return a, func() tea.Msg { quit(); return nil }
		case key.Matches(m, a.keys.Pick):
			return a, a.pick(int(m.String()[0] - '1'))
		}
	}
	return a, nil
}

// renderPasses answers every render pass the last drain asked for. The
// messages come back after View has drawn the state those tasks left.
func (a *App) renderPasses() tea.Cmd {
	if a.renders == 0 {
		return nil
	}
	cmds := make([]tea.Cmd, 0, a.renders)
	for ; a.renders > 0; a.renders-- {
		cmds = append(cmds, func() tea.Msg { return renderDoneMsg{} })
	}
	return tea.Batch(cmds...)
}

func (a *App) pick(idx int) tea.Cmd {
	if a.OnPick == nil || idx >= a.caps {
		return nil
	}
	pick := a.OnPick
	return func() tea.Msg {
		if err := pick(idx); err != nil {
			return errMsg{err}
		}
		return pickedMsg(idx)
	}
}

// SetCaps implements game.Display.
func (a *App) SetCaps(n int) {
	a.caps = n
	a.reveal = nil
	a.picked = game.NoGuess
	a.status, a.isErr = "find the ball", false
}

// SetStatus implements game.Display.
func (a *App) SetStatus(text string, scale float64) {
	a.count = text
	a.scale = scale
}

// Tick implements game.Display.
func (a *App) Tick(int) { a.ticks++ }

// Reveal implements game.Display.
func (a *App) Reveal(r game.Result) {
	a.reveal = &r
	a.picked = r.Cap
	a.count = ""
	switch {
	case r.Cap == game.NoGuess:
		a.status = fmt.Sprintf("too slow, the ball was under cap %d", r.Ball+1)
	case r.Win:
		a.status = "found it"
	default:
		a.status = fmt.Sprintf("missed, the ball was under cap %d", r.Ball+1)
	}
	a.isErr = false
}

// SetScore implements game.Display.
func (a *App) SetScore(s game.Score) { a.score = s }

// SetPing implements game.Display.
func (a *App) SetPing(rtt time.Duration) { a.ping = rtt }

func (a *App) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("shellgame"))
	b.WriteString(mutedStyle.Render(" vs " + a.opponent))
	b.WriteString("\n\n")

	if a.caps > 0 {
		b.WriteString(a.renderCaps())
		b.WriteString("\n")
	}
	b.WriteString(a.renderCount())
	b.WriteString("\n")

	info := fmt.Sprintf("score %s", a.score)
	if a.ping > 0 {
		info += fmt.Sprintf("  ping %s", a.ping.Round(time.Millisecond))
	}
	b.WriteString(mutedStyle.Render(info))
	b.WriteString("\n\n")

	b.WriteString(a.fit(a.statusLine()))
	b.WriteString("\n")
	b.WriteString(a.fit(a.helpLine()))
	return b.String()
}

func (a *App) renderCaps() string {
	boxes := make([]string, 0, a.caps)
	for i := 0; i < a.caps; i++ {
		label := fmt.Sprintf("%d", i+1)
		style := capStyle
		if a.reveal != nil {
			if i == a.reveal.Ball {
				label = ballStyle.Render("●")
			}
			if i == a.picked {
				style = capLostStyle
				if a.reveal.Win {
					style = capWonStyle
				}
			}
		} else if i == a.picked {
			style = capPickedStyle
		}
		boxes = append(boxes, style.Render(label))
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, boxes...)
}

func (a *App) renderCount() string {
	if a.reveal != nil {
		if a.reveal.Win {
			return winStyle.Render("win")
		}
		return lossStyle.Render("loss")
	}
	if a.count == "" {
		return ""
	}
	if a.scale > 1 {
		return countFadeStyle.Render(a.count)
	}
	return countStyle.Render(a.count)
}

func (a *App) statusLine() string {
	if a.isErr {
		return statusErrBarStyle.Render(" " + a.status + " ")
	}
	return statusBarStyle.Render(" " + a.status + " ")
}

func (a *App) helpLine() string {
	parts := make([]string, 0, 2)
	for _, k := range []key.Binding{a.keys.Pick, a.keys.Quit} {
		h := k.Help()
		parts = append(parts, keyStyle.Render(h.Key)+" "+helpDescStyle.Render(h.Desc))
	}
	return strings.Join(parts, "  ")
}

func (a *App) fit(line string) string {
	if a.width <= 0 {
		return line
	}
	return ansi.Truncate(line, a.width, "…")
}

func (a *App) logger() *log.Logger {
	if a.Logger != nil {
		return a.Logger
	}
	return log.Default()
}
