package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/vovakirdan/mindmate-chat/internal/core"
)

func newTopicsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "topics",
		Short: "List the chat topics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			printTopics(cmd.OutOrStdout())
			return nil
		},
	}
}

func printTopics(out io.Writer) {
	for _, room := range core.DefaultTopics() {
		fmt.Fprintf(out, "%-18s %s\n", room.ID, room.DisplayName)
	}
}

func newHistoryCmd(opts *rootOptions) *cobra.Command {
	var room string
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print the persisted messages of a room",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, _, application, err := opts.load()
			if err != nil {
				return err
			}
			defer application.Close()

			msgs, err := application.History().Fetch(cmd.Context(), core.Slug(room))
			if err != nil {
				return err
			}
			for _, m := range msgs {
				printMessage(cmd.OutOrStdout(), m)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&room, "room", "", "room slug or topic name")
	_ = cmd.MarkFlagRequired("room")
	return cmd
}

func newReportCmd(opts *rootOptions) *cobra.Command {
	var room, user string
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Report a participant of a room",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, _, application, err := opts.load()
			if err != nil {
				return err
			}
			defer application.Close()

			res, err := application.Engine().Report(cmd.Context(), user, core.Slug(room))
			if err != nil {
				if errors.Is(err, core.ErrSelfReport) {
					return errors.New("you cannot report yourself")
				}
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", user, res)
			return nil
		},
	}
	cmd.Flags().StringVar(&room, "room", "", "room slug or topic name")
	cmd.Flags().StringVar(&user, "user", "", "nickname to report")
	_ = cmd.MarkFlagRequired("room")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func printMessage(out io.Writer, m core.Message) {
	marker := ""
	switch m.State {
	case core.DeliveryPending:
		marker = " (sending)"
	case core.DeliverySent:
		marker = " (sent)"
	case core.DeliveryFailed:
		marker = " (failed, type /retry)"
	}
	fmt.Fprintf(out, "[%s] %s: %s%s\n", m.Timestamp.Local().Format(time.Kitchen), m.SenderNickname, m.Content, marker)
}

func withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, 10*time.Second)
}
