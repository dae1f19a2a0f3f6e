package main

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nhle/acmail/internal/inbound"
	"github.com/nhle/acmail/internal/logging"
	"github.com/nhle/acmail/internal/sync"
)

var receiveShowText bool

var receiveCmd = &cobra.Command{
	Use:   "receive [file...]",
	Short: "Process received messages and update peer state",
	Long:  "Reads RFC 5322 messages from files, or stdin when none are given.",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEnv()
		if err != nil {
			return err
		}
		defer e.Close()

		r := e.receiver()
		if len(args) == 0 {
			args = []string{"-"}
		}
		for _, path := range args {
			data, err := readInput(path, cmd.InOrStdin())
			if err != nil {
				return fmt.Errorf("reading %s: %w", path, err)
			}
			res, err := r.Process(cmd.Context(), bytes.NewReader(data))
			if err != nil {
				return fmt.Errorf("processing %s: %w", path, err)
			}
			printResult(cmd.OutOrStdout(), path, res)
		}
		return nil
	},
}

var (
	fetchMailbox  string
	fetchSinceUID uint32
	fetchLimit    int
	fetchMarkSeen bool
	fetchWatch    bool
	fetchInterval time.Duration
)

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Fetch messages over IMAP and process them",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEnv()
		if err != nil {
			return err
		}
		defer e.Close()

		client, err := e.imap()
		if err != nil {
			return err
		}
		mailbox := fetchMailbox
		if mailbox == "" {
			mailbox = cfg.IMAP.Mailbox
		}

		poller := sync.New(client, e.receiver(), sync.Config{
			Mailbox:   mailbox,
			Interval:  fetchInterval,
			SinceUID:  fetchSinceUID,
			BatchSize: fetchLimit,
			MarkSeen:  fetchMarkSeen,
		}, logging.Component(logger, "poller"))

		out := cmd.OutOrStdout()
		if !fetchWatch {
			b := poller.Poll(cmd.Context())
			printBatch(out, b)
			return b.Err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		for b := range poller.Start(ctx) {
			printBatch(out, b)
			if b.AuthFailed {
				poller.Stop()
				return b.Err
			}
		}
		poller.Stop()
		fmt.Fprintf(out, "stopped at uid %d\n", poller.Status().LastUID)
		return nil
	},
}

func printBatch(w io.Writer, b sync.Batch) {
	for _, m := range b.Messages {
		source := fmt.Sprintf("uid %d", m.UID)
		if m.Err != nil {
			fmt.Fprintf(w, "%s: not processed: %v\n", source, m.Err)
			continue
		}
		printResult(w, source, m.Result)
	}
}

func printResult(w io.Writer, source string, res *inbound.Result) {
	fmt.Fprintf(w, "%s: from %s: %s", source, res.From, res.Sender.Transition)
	if res.HeaderError != nil {
		fmt.Fprintf(w, " (%v)", res.HeaderError)
	}
	fmt.Fprintln(w)
	if res.Encrypted {
		switch {
		case res.Decrypted:
			fmt.Fprintln(w, "  decrypted")
		case res.DecryptError != nil:
			fmt.Fprintf(w, "  not decrypted: %v\n", res.DecryptError)
		default:
			fmt.Fprintln(w, "  encrypted")
		}
	}
	for _, g := range res.Gossip {
		fmt.Fprintf(w, "  gossip %s: %s\n", g.Addr, g.Transition)
	}
	if receiveShowText && res.Text != "" {
		fmt.Fprintf(w, "\n%s\n", res.Text)
	}
}

func init() {
	receiveCmd.Flags().BoolVar(&receiveShowText, "text", false, "print the decrypted text")

	fetchCmd.Flags().StringVarP(&fetchMailbox, "mailbox", "m", "", "mailbox to read (default from config)")
	fetchCmd.Flags().Uint32Var(&fetchSinceUID, "since-uid", 0, "only fetch messages with a greater UID")
	fetchCmd.Flags().IntVarP(&fetchLimit, "limit", "n", 50, "maximum messages per poll")
	fetchCmd.Flags().BoolVar(&fetchMarkSeen, "mark-seen", false, "flag processed messages as seen")
	fetchCmd.Flags().BoolVarP(&fetchWatch, "watch", "w", false, "keep polling until interrupted")
	fetchCmd.Flags().DurationVar(&fetchInterval, "interval", 2*time.Minute, "poll interval with --watch")

	rootCmd.AddCommand(receiveCmd, fetchCmd)
}

