package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/sync/errgroup"

	"github.com/jask/shellgame/internal/config"
	"github.com/jask/shellgame/internal/database"
	"github.com/jask/shellgame/internal/database/repository"
	"github.com/jask/shellgame/internal/game"
	"github.com/jask/shellgame/internal/match"
	"github.com/jask/shellgame/internal/scheduler"
	"github.com/jask/shellgame/internal/session"
	"github.com/jask/shellgame/internal/tui"
)

// revealPause is how long a reveal stays up before the host hides again.
const revealPause = 2 * time.Second

const usage = `usage: shellgame <command>

  solo              play against a bot on this machine
  host              hide the ball for players who join over the network
  join <ws-url>     join a host, e.g. ws://10.0.0.2:7070/ws
  scores [name]     show scores, or the score against the closest name
  name <new-name>   set the name shown to opponents`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd, args := os.Args[1], os.Args[2:]
	switch {
	case cmd == "solo":
		err = runSolo(ctx, cfg)
	case cmd == "host":
		err = runHost(ctx, cfg)
	case cmd == "join" && len(args) == 1:
		err = runJoin(ctx, cfg, args[0])
	case cmd == "scores" && len(args) <= 1:
		err = runScores(ctx, cfg, args)
	case cmd == "name" && len(args) == 1:
		cfg.Player.Name = args[0]
		err = config.Save(cfg)
	default:
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		log.Fatalf("%s: %v", cmd, err)
	}
}

type storage struct {
	db     *sql.DB
	device string
	store  match.DBStore
	scores *repository.ScoreRepo
}

func openStorage(ctx context.Context, cfg config.Config) (*storage, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir db dir: %w", err)
	}
	if err := database.RunMigrations(cfg.Database.Path); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	db, err := database.Open(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	device, err := database.EnsureLocalDevice(ctx, db)
	if err != nil {
		db.Close()
		return nil, err
	}
	scores := repository.NewScoreRepo(db)
	return &storage{
		db:     db,
		device: device,
		store:  match.DBStore{Players: repository.NewPlayerRepo(db), Scores: scores},
		scores: scores,
	}, nil
}

func startScheduler() (*scheduler.Scheduler, error) {
	sched := scheduler.New(nil)
	if err := sched.Start(); err != nil {
		return nil, err
	}
	return sched, nil
}

// logToFile sends the standard logger to the configured file while the TUI
// owns the terminal.
func logToFile(cfg config.Config) (func(), error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Log.Path), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir log dir: %w", err)
	}
	f, err := tea.LogToFile(cfg.Log.Path, "shellgame")
	if err != nil {
		return nil, fmt.Errorf("log file: %w", err)
	}
	return func() { f.Close() }, nil
}

func runSolo(ctx context.Context, cfg config.Config) error {
	closeLog, err := logToFile(cfg)
	if err != nil {
		return err
	}
	defer closeLog()

	st, err := openStorage(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.db.Close()

	sched, err := startScheduler()
	if err != nil {
		return err
	}
	defer sched.Stop()

	host := &match.Host{
		Hider:         game.NewHider(cfg.Game.Caps, time.Now().UnixNano()),
		Store:         &match.MemStore{},
		Scheduler:     sched,
		Pause:         revealPause,
		CancelTimeout: cfg.Timers.CancelTimeout,
	}
	srv := &session.Server{
		Self:     session.Peer{Name: "bot", Device: "solo-" + st.device},
		Caps:     cfg.Game.Caps,
		GameTime: cfg.Game.GameTime,
		Serve:    host.Serve,
	}

	hostEnd, guestEnd := session.Pipe()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := srv.Handle(gctx, hostEnd)
		if errors.Is(err, session.ErrClosed) || errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	welcome, err := session.Join(gctx, guestEnd, session.Peer{Name: cfg.Player.Name, Device: st.device})
	if err != nil {
		guestEnd.Close()
		return errors.Join(err, g.Wait())
	}
	// The bot's record lives only as long as the process, ours against it
	// is kept like any other opponent's.
	err = runGuest(gctx, cfg, sched, st.store, guestEnd, welcome)
	return errors.Join(err, g.Wait())
}

func runJoin(ctx context.Context, cfg config.Config, url string) error {
	closeLog, err := logToFile(cfg)
	if err != nil {
		return err
	}
	defer closeLog()

	st, err := openStorage(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.db.Close()

	sched, err := startScheduler()
	if err != nil {
		return err
	}
	defer sched.Stop()

	dctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	conn, welcome, err := session.Dial(dctx, url, session.Peer{Name: cfg.Player.Name, Device: st.device})
	cancel()
	if err != nil {
		return err
	}
	log.Printf("joined %s (%s), %d caps, %s per round", welcome.Name, url, welcome.Caps, welcome.Duration())
	return runGuest(ctx, cfg, sched, st.store, conn, welcome)
}

// runGuest plays the guessing side in the terminal until the player quits,
// the session ends or ctx is cancelled. Timers are cancelled before the
// program stops drawing, and the caller stops the scheduler last.
func runGuest(ctx context.Context, cfg config.Config, sched *scheduler.Scheduler, store match.Store, conn session.Conn, welcome session.Message) error {
	app := tui.New(welcome.Name)
	round := &game.Round{
		Queue:     app,
		Scheduler: sched,
		Display:   app,
		GameTime:  welcome.Duration(),
	}
	guest := &match.Guest{
		Round:         round,
		Store:         store,
		Scheduler:     sched,
		PingInterval:  cfg.Ping.Interval,
		PingTimeout:   cfg.Ping.Timeout,
		CancelTimeout: cfg.Timers.CancelTimeout,
	}
	round.Outbox = guest

	s := session.New(conn, welcome.Peer(), nil)
	app.OnPick = func(idx int) error {
		pctx, cancel := context.WithTimeout(ctx, cfg.Timers.CancelTimeout)
		defer cancel()
		return round.Pick(pctx, idx)
	}
	app.OnQuit = func() {
		if err := s.Bye(); err != nil {
			log.Printf("bye: %v", err)
		}
	}

	p := tea.NewProgram(app, tea.WithAltScreen())
	played := make(chan error, 1)
	go func() {
		err := guest.Play(ctx, s)
		played <- err
		p.Quit()
	}()

	if _, err := p.Run(); err != nil {
		s.Close()
		<-played
		return fmt.Errorf("tui: %w", err)
	}
	// The program also ends on ctrl+c before the session does.
	s.Close()
	err := <-played

	switch {
	case err == nil, errors.Is(err, session.ErrClosed), errors.Is(err, context.Canceled):
		fmt.Printf("score against %s: %s\n", welcome.Name, round.Score())
		return nil
	default:
		return err
	}
}

func runHost(ctx context.Context, cfg config.Config) error {
	st, err := openStorage(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.db.Close()

	sched, err := startScheduler()
	if err != nil {
		return err
	}
	defer sched.Stop()

	host := &match.Host{
		Hider:         game.NewHider(cfg.Game.Caps, time.Now().UnixNano()),
		Store:         st.store,
		Scheduler:     sched,
		Pause:         revealPause,
		PingInterval:  cfg.Ping.Interval,
		PingTimeout:   cfg.Ping.Timeout,
		CancelTimeout: cfg.Timers.CancelTimeout,
	}
	srv := &session.Server{
		Self:             session.Peer{Name: cfg.Player.Name, Device: st.device},
		Caps:             cfg.Game.Caps,
		GameTime:         cfg.Game.GameTime,
		HandshakeTimeout: 10 * time.Second,
		Serve:            host.Serve,
	}

	mux := http.NewServeMux()
	mux.Handle(cfg.Network.Path, srv)
	httpSrv := &http.Server{
		Addr:              cfg.Network.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Printf("hosting on %s%s as %s", cfg.Network.Listen, cfg.Network.Path, cfg.Player.Name)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), cfg.Timers.CancelTimeout)
		defer cancel()
		return httpSrv.Shutdown(sctx)
	})
	if err := g.Wait(); err != nil {
		return err
	}
	log.Printf("host stopped, score %s", host.Hider.Score())
	return nil
}

func runScores(ctx context.Context, cfg config.Config, args []string) error {
	st, err := openStorage(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.db.Close()

	var standings []repository.Standing
	if len(args) == 1 {
		s, err := st.scores.Closest(ctx, args[0])
		if errors.Is(err, repository.ErrNotFound) {
			fmt.Printf("no opponent called anything like %q\n", args[0])
			return nil
		}
		if err != nil {
			return err
		}
		standings = append(standings, s)
	} else {
		standings, err = st.scores.Standings(ctx)
		if err != nil {
			return err
		}
	}
	if len(standings) == 0 {
		fmt.Println("no games played yet")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "OPPONENT\tSCORE\tLAST SEEN")
	for _, s := range standings {
		score := game.Score{Wins: s.Wins, Losses: s.Losses}
		fmt.Fprintf(w, "%s\t%s\t%s\n", s.Player.Name, score, s.Player.UpdatedAt.Local().Format("2006-01-02 15:04"))
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if len(args) == 1 {
		return printHistory(ctx, st.scores, standings[0].Player)
	}
	return nil
}

func printHistory(ctx context.Context, scores *repository.ScoreRepo, p repository.Player) error {
	history, err := scores.History(ctx, p.ID, 10)
	if err != nil || len(history) == 0 {
		return err
	}
	fmt.Printf("\nlast rounds against %s:\n", p.Name)
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PLAYED\tRESULT\tGUESS\tBALL")
	for _, m := range history {
		result, guess := "loss", "-"
		if m.Won {
			result = "win"
		}
		if m.Cap != game.NoGuess {
			guess = fmt.Sprint(m.Cap + 1)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\n", m.PlayedAt.Local().Format("2006-01-02 15:04:05"), result, guess, m.Ball+1)
	}
	return w.Flush()
}
