package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/querydeck/querydeck/internal/client"
	"github.com/querydeck/querydeck/internal/domain"
	"github.com/querydeck/querydeck/internal/session"
)

var (
	serverURL string
	token     string
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.WarnLevel)

	rootCmd := &cobra.Command{
		Use:   "qdtail",
		Short: "Follow QueryDeck sessions from the terminal",
	}

	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8080", "server base URL")
	rootCmd.PersistentFlags().StringVar(&token, "token", os.Getenv("QUERYDECK_TOKEN"), "bearer token (guest tokens work)")

	rootCmd.AddCommand(sessionsCmd(), askCmd(), tailCmd(), guestCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func guestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "guest",
		Short: "Obtain a guest token",
		RunE: func(cmd *cobra.Command, args []string) error {
			api := client.NewAPIClient(serverURL, "")
			guestToken, err := api.GuestToken(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Println(guestToken)
			return nil
		},
	}
}

func sessionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sessions",
		Short: "List your sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			api := client.NewAPIClient(serverURL, token)
			sessions, err := api.ListSessions(cmd.Context(), 50, 0)
			if err != nil {
				return err
			}
			for _, s := range sessions {
				fmt.Printf("%s  %s  %s\n", s.ID, s.UpdatedAt.Format("2006-01-02 15:04"), s.Name)
			}
			return nil
		},
	}
}

func askCmd() *cobra.Command {
	var sessionID string

	cmd := &cobra.Command{
		Use:   "ask [prompt]",
		Short: "Submit a prompt, creating a session if needed",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			api := client.NewAPIClient(serverURL, token)
			prompt := strings.Join(args, " ")

			var sid uuid.UUID
			if sessionID != "" {
				parsed, err := uuid.Parse(sessionID)
				if err != nil {
					return fmt.Errorf("invalid session id: %w", err)
				}
				sid = parsed
			} else {
				created, err := api.CreateSession(cmd.Context(), "")
				if err != nil {
					return err
				}
				sid = created.ID
				fmt.Printf("session: %s\n", sid)
			}

			req, err := api.SubmitRequest(cmd.Context(), sid, prompt)
			if err != nil {
				return err
			}
			fmt.Printf("request: %s\n", req.RequestID)

			return followSession(cmd.Context(), api, sid)
		},
	}

	cmd.Flags().StringVar(&sessionID, "session", "", "existing session id")
	return cmd
}

func tailCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tail [session-id]",
		Short: "Follow a session's live updates",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sid, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid session id: %w", err)
			}
			api := client.NewAPIClient(serverURL, token)
			return followSession(cmd.Context(), api, sid)
		},
	}
}

// memFragment satisfies the aggregator's fragment persistence; a
// terminal has no URL bar, so the value only lives for the process.
type memFragment struct{ value string }

func (f *memFragment) SetFragment(value string) { f.value = value }
func (f *memFragment) Fragment() string         { return f.value }

// maxTailRows bounds how many result rows the tailer pulls through the
// pager on its own; a terminal is not an endless scroll surface.
const maxTailRows = 200

// tailView ties the aggregator snapshot and the pager window together
// for one terminal screen. When the active section resolves to a new
// query the pager is repointed; the old window is dropped wholesale.
type tailView struct {
	pager       *session.Pager
	draw        func(session.Snapshot, *session.Pager)
	snap        session.Snapshot
	activeQuery uuid.UUID
}

func (v *tailView) observe(snap session.Snapshot) {
	v.snap = snap

	var qid uuid.UUID
	for i := range snap.Sections {
		sec := &snap.Sections[i]
		if sec.RequestID == snap.ActiveRequestID && sec.Query != nil {
			qid = sec.Query.QueryID
		}
	}
	if qid != v.activeQuery {
		v.activeQuery = qid
		v.pager.Reset(qid)
	}

	if v.draw != nil {
		v.draw(v.snap, v.pager)
	}
}

func (v *tailView) rowsChanged() {
	// Keep pulling until the result set ends or the screen budget is
	// spent; the pager itself guarantees one fetch at a time.
	if !v.pager.Exhausted() && len(v.pager.Rows()) < maxTailRows {
		v.pager.ThresholdCrossed()
	}
	if v.draw != nil {
		v.draw(v.snap, v.pager)
	}
}

// followSession bootstraps the aggregator from persisted requests, then
// feeds it live events until interrupted. The aggregator and pager
// require a single-goroutine owner, so everything funnels through one
// loop here.
func followSession(ctx context.Context, api *client.APIClient, sid uuid.UUID) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loop := make(chan func(), 256)
	enqueue := func(fn func()) {
		select {
		case loop <- fn:
		case <-ctx.Done():
		}
	}
	dispatch := func(fn func()) { go fn() }

	agg := session.NewAggregator(sid, api, &memFragment{}, dispatch, enqueue)
	pager := session.NewPager(api, dispatch, enqueue, 0)

	view := &tailView{pager: pager, draw: render}
	pager.OnUpdate(view.rowsChanged)
	agg.Subscribe(view.observe)

	requests, err := api.ListRequests(ctx, sid)
	if err != nil {
		return err
	}
	agg.Bootstrap(requests)

	stream := client.NewStreamClient(serverURL, token)
	go func() {
		_ = stream.Run(ctx, sid, func(ev domain.StageEvent) {
			enqueue(func() { agg.AppendOrUpdate(ev) })
		})
	}()

	watchdog := time.NewTicker(30 * time.Second)
	defer watchdog.Stop()

	for {
		select {
		case fn := <-loop:
			fn()
		case now := <-watchdog.C:
			agg.CheckWatchdog(now)
		case <-ctx.Done():
			return nil
		}
	}
}

func render(snap session.Snapshot, pager *session.Pager) {
	fmt.Print("\033[2J\033[H") // clear screen
	fmt.Printf("session %s\n\n", snap.SessionID)

	for _, sec := range snap.Sections {
		marker := " "
		if sec.RequestID == snap.ActiveRequestID {
			marker = ">"
		}
		fmt.Printf("%s [%s] %s\n", marker, sec.Status, truncate(sec.Prompt(), 60))
		for _, msg := range sec.Messages {
			if msg.Role == domain.RoleAssistant && msg.Text != "" {
				fmt.Printf("    %s\n", truncate(msg.Text, 200))
			}
		}
	}

	if snap.MergedSQL != "" {
		fmt.Printf("\n-- active query --\n%s\n", snap.MergedSQL)
	}

	if rows := pager.Rows(); len(rows) > 0 {
		cols := pager.Columns()
		fmt.Printf("\n%s\n", strings.Join(cols, " | "))
		for _, row := range rows {
			cells := make([]string, len(cols))
			for i, col := range cols {
				cells[i] = truncate(fmt.Sprint(row[col]), 24)
			}
			fmt.Println(strings.Join(cells, " | "))
		}
		if !pager.Exhausted() {
			fmt.Println("...")
		}
	}
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) > n {
		return s[:n-3] + "..."
	}
	return s
}
