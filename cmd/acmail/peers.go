package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/nhle/acmail/internal/model"
	"github.com/nhle/acmail/internal/peerstate"
	"github.com/nhle/acmail/internal/store"
)

var peersCmd = &cobra.Command{
	Use:   "peers [addr]",
	Short: "Show what is known about peers",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEnv()
		if err != nil {
			return err
		}
		defer e.Close()

		var peers []model.Peer
		if len(args) == 1 {
			p, err := e.store.GetPeerByAddr(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			peers = []model.Peer{*p}
		} else if peers, err = e.store.GetPeers(cmd.Context()); err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ADDRESS\tKEY\tPREFER-ENCRYPT\tPREFERENCE\tLAST-SEEN\tGOSSIP")
		for _, p := range peers {
			fmt.Fprintf(w, "%s\t%t\t%s\t%s\t%s\t%s\n",
				p.Addr, p.HasKey(), p.PreferEncrypt, peerstate.Preference(&p),
				formatTime(p.LastSeen), formatGossip(p))
		}
		return w.Flush()
	},
}

var emailsStatus string

var emailsCmd = &cobra.Command{
	Use:   "emails",
	Short: "List sent and pending messages",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEnv()
		if err != nil {
			return err
		}
		defer e.Close()

		filter := store.EmailFilter{Limit: 100}
		if emailsStatus != "" {
			filter.Status = &emailsStatus
		}
		emails, err := e.store.GetEmails(cmd.Context(), filter)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tDATE\tSTATUS\tFROM\tSUBJECT")
		for _, m := range emails {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				m.ID, formatTime(m.Date), m.Status, m.SenderAddr, m.Subject)
		}
		return w.Flush()
	},
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format(time.DateTime)
}

func formatGossip(p model.Peer) string {
	if p.GossipTimestamp == nil {
		return "-"
	}
	return formatTime(*p.GossipTimestamp)
}

func init() {
	emailsCmd.Flags().StringVar(&emailsStatus, "status", "", "only show pending, sent or failed")
	rootCmd.AddCommand(peersCmd, emailsCmd)
}
