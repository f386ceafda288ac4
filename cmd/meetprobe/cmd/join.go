package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/loksaikotini/EduCast/internal/peer"
	"github.com/spf13/cobra"
)

var (
	joinFor   time.Duration
	joinChat  string
	joinHand  bool
	joinICE   []string
	dialLimit = 10 * time.Second
)

var joinCmd = &cobra.Command{
	Use:   "join CODE",
	Short: "Join a meeting as a WebRTC peer and log what happens",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		code := strings.ToUpper(strings.TrimSpace(args[0]))
		log := newLogger()

		token, err := bearer()
		if err != nil {
			return err
		}
		wsURL, err := socketURL()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		if joinFor > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, joinFor)
			defer cancel()
		}

		dialCtx, cancelDial := context.WithTimeout(ctx, dialLimit)
		m, err := peer.Dial(dialCtx, wsURL, token, peer.NewPionFactory(joinICE, nil), log)
		cancelDial()
		if err != nil {
			return err
		}
		defer m.Close()
		log.Info("connected", "id", m.ID())

		runErr := make(chan error, 1)
		go func() { runErr <- m.Run(ctx) }()

		if err := m.Join(code); err != nil {
			return err
		}
		if joinHand {
			if err := m.RaiseHand(true); err != nil {
				return err
			}
		}
		if joinChat != "" {
			if err := m.SendChat(joinChat); err != nil {
				return err
			}
		}

		for ev := range m.Events() {
			logEvent(log, ev)
		}
		printRoster(cmd.OutOrStdout(), code, m.Roster())

		err = <-runErr
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil
		}
		return err
	},
}

func init() {
	f := joinCmd.Flags()
	f.DurationVar(&joinFor, "for", 0, "leave after this long (0 waits for Ctrl-C)")
	f.StringVar(&joinChat, "chat", "", "send this chat message after joining")
	f.BoolVar(&joinHand, "raise-hand", false, "raise the hand after joining")
	f.StringSliceVar(&joinICE, "ice", []string{"stun:stun.l.google.com:19302"}, "ICE server URLs")
}

type eventLogger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

func logEvent(log eventLogger, ev peer.Event) {
	switch ev.Kind {
	case peer.EventRoster:
		log.Info("joined", "members", len(ev.Roster))
	case peer.EventChat:
		log.Info("chat", "from", ev.Name, "text", ev.Text)
	case peer.EventHandRaised:
		log.Info("hand", "peer", ev.PeerID, "name", ev.Name, "raised", ev.Raised)
	case peer.EventError:
		log.Warn("error", "err", ev.Err)
	default:
		log.Info(string(ev.Kind), "peer", ev.PeerID, "name", ev.Name)
	}
}

func printRoster(w io.Writer, code string, members []peer.Member) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle(fmt.Sprintf("Last roster of %s", code))
	t.AppendHeader(table.Row{"#", "Name", "Connection", "Hand"})
	for i, mem := range members {
		t.AppendRow(table.Row{i + 1, mem.Name, mem.ID, hand(mem.HandRaised)})
	}
	t.SetStyle(table.StyleLight)
	t.Render()
}
