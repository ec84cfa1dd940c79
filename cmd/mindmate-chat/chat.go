package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vovakirdan/mindmate-chat/internal/core"
	"github.com/vovakirdan/mindmate-chat/internal/engine"
)

func newChatCmd(opts *rootOptions) *cobra.Command {
	var room string
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Join a room interactively",
		Long: "Join a room and send every typed line.\n" +
			"Commands: /report <nickname>, /retry, /quit.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, logger, application, err := opts.load()
			if err != nil {
				return err
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			done := make(chan error, 1)
			go func() { done <- application.Run(ctx) }()
			defer func() {
				cancel()
				<-done
			}()

			r := core.NewRoom(room)
			nick, err := application.Nickname(ctx)
			if err != nil {
				return err
			}
			logger.Debug().Str("room", r.ID).Str("nickname", nick).Msg("joining room")

			s := &chatSession{
				engine: application.Engine(),
				room:   r,
				out:    cmd.OutOrStdout(),
				seen:   make(map[string]bool),
			}
			return s.run(ctx, os.Stdin)
		},
	}
	cmd.Flags().StringVar(&room, "room", "", "room slug or topic name")
	_ = cmd.MarkFlagRequired("room")
	return cmd
}

type chatSession struct {
	engine *engine.Engine
	room   core.Room
	out    io.Writer
	// seen holds the server ids already printed.
	seen map[string]bool
}

func (s *chatSession) run(ctx context.Context, in io.Reader) error {
	events := s.engine.Events()
	defer s.engine.Unsubscribe(events)

	if err := s.engine.EnterRoom(ctx, s.room.ID); err != nil {
		return err
	}
	defer func() {
		leaveCtx, cancel := withTimeout(context.Background())
		defer cancel()
		_ = s.engine.LeaveRoom(leaveCtx, s.room.ID)
	}()

	fmt.Fprintf(s.out, "Joined %s. Type messages and press Enter to send, /quit to leave.\n", s.room.DisplayName)

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case v, ok := <-events:
			if !ok {
				return nil
			}
			if evt, ok := v.(core.Event); ok {
				s.render(evt)
			}
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			quit, err := s.handleLine(ctx, strings.TrimSpace(line))
			if err != nil {
				fmt.Fprintln(s.out, "!", err)
			}
			if quit {
				return nil
			}
		}
	}
}

func (s *chatSession) handleLine(ctx context.Context, line string) (bool, error) {
	switch {
	case line == "":
		return false, nil
	case line == "/quit":
		return true, nil
	case line == "/retry":
		return false, s.retryFailed(ctx)
	case strings.HasPrefix(line, "/report"):
		target := strings.TrimSpace(strings.TrimPrefix(line, "/report"))
		if target == "" {
			return false, errors.New("usage: /report <nickname>")
		}
		res, err := s.engine.Report(ctx, target, s.room.ID)
		if err != nil {
			if errors.Is(err, core.ErrSelfReport) {
				return false, errors.New("you cannot report yourself")
			}
			return false, err
		}
		fmt.Fprintf(s.out, "* %s %s\n", target, res)
		return false, nil
	default:
		_, err := s.engine.Send(ctx, s.room.ID, line)
		return false, err
	}
}

func (s *chatSession) retryFailed(ctx context.Context) error {
	entries, err := s.engine.Pending(ctx, s.room.ID)
	if err != nil {
		return err
	}
	retried := 0
	for _, e := range entries {
		if e.Message.State != core.DeliveryFailed {
			continue
		}
		if _, err := s.engine.Retry(ctx, e.Message.CorrelationID); err != nil {
			return err
		}
		retried++
	}
	fmt.Fprintf(s.out, "* retried %d message(s)\n", retried)
	return nil
}

func (s *chatSession) render(evt core.Event) {
	switch evt.Kind {
	case core.EventRoomUpdated:
		if evt.Room != s.room.ID {
			return
		}
		for _, m := range s.engine.Messages(s.room.ID) {
			if !m.Confirmed() || s.seen[m.ID] {
				continue
			}
			s.seen[m.ID] = true
			printMessage(s.out, m)
		}
	case core.EventConnectionState:
		fmt.Fprintf(s.out, "* %s\n", evt.State)
	case core.EventMessageFailed:
		if evt.Message != nil {
			printMessage(s.out, *evt.Message)
		}
	case core.EventAuthError:
		fmt.Fprintln(s.out, "* session expired, log in again:", evt.Err)
	case core.EventConnectionFailed:
		fmt.Fprintln(s.out, "* could not reach the chat server:", evt.Err)
	case core.EventHistoryFailed:
		fmt.Fprintln(s.out, "* could not load earlier messages:", evt.Err)
	}
}
