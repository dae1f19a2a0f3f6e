package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/emersion/go-message/textproto"
	"github.com/spf13/cobra"

	"github.com/nhle/acmail/internal/model"
)

type messageFlags struct {
	from        string
	to          []string
	cc          []string
	replyTo     []string
	subject     string
	bodyFile    string
	headers     []string
	attachments []string
}

func (f *messageFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.from, "from", "f", "", "sender account address")
	cmd.Flags().StringSliceVarP(&f.to, "to", "t", nil, "recipient addresses")
	cmd.Flags().StringSliceVar(&f.cc, "cc", nil, "carbon copy addresses")
	cmd.Flags().StringSliceVar(&f.replyTo, "reply-to", nil, "reply-to addresses")
	cmd.Flags().StringVarP(&f.subject, "subject", "s", "", "message subject")
	cmd.Flags().StringVarP(&f.bodyFile, "body", "b", "-", "file with the message text, - for stdin")
	cmd.Flags().StringArrayVarP(&f.headers, "header", "H", nil, "extra header as 'Name: value'")
	cmd.Flags().StringSliceVar(&f.attachments, "attach", nil, "files to attach (not supported)")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")
}

func (f *messageFlags) message(stdin io.Reader) (model.OutgoingMessage, error) {
	body, err := readInput(f.bodyFile, stdin)
	if err != nil {
		return model.OutgoingMessage{}, fmt.Errorf("reading body: %w", err)
	}

	var extra textproto.Header
	for _, h := range f.headers {
		name, value, ok := strings.Cut(h, ":")
		if !ok || strings.TrimSpace(name) == "" {
			return model.OutgoingMessage{}, fmt.Errorf("invalid header %q", h)
		}
		extra.Add(strings.TrimSpace(name), strings.TrimSpace(value))
	}

	return model.OutgoingMessage{
		Subject:     f.subject,
		Body:        string(body),
		Sender:      f.from,
		Recipients:  f.to,
		Cc:          f.cc,
		ReplyTo:     f.replyTo,
		Headers:     extra,
		Attachments: f.attachments,
	}, nil
}

func readInput(path string, stdin io.Reader) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(stdin)
	}
	return os.ReadFile(path)
}

var sendFlags messageFlags

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Encrypt and send a message",
	RunE: func(cmd *cobra.Command, args []string) error {
		msg, err := sendFlags.message(cmd.InOrStdin())
		if err != nil {
			return err
		}

		e, err := openEnv()
		if err != nil {
			return err
		}
		defer e.Close()

		svc, err := e.mailer(true)
		if err != nil {
			return err
		}

		email, err := svc.Send(cmd.Context(), msg)
		if email != nil {
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", email.ID, email.Status, email.MessageID)
		}
		return err
	},
}

var encryptFlags messageFlags

var encryptCmd = &cobra.Command{
	Use:   "encrypt",
	Short: "Render an encrypted message to stdout without sending it",
	RunE: func(cmd *cobra.Command, args []string) error {
		msg, err := encryptFlags.message(cmd.InOrStdin())
		if err != nil {
			return err
		}

		e, err := openEnv()
		if err != nil {
			return err
		}
		defer e.Close()

		svc, err := e.mailer(false)
		if err != nil {
			return err
		}

		m, err := svc.Encrypt(cmd.Context(), msg)
		if err != nil {
			return err
		}
		_, err = m.WriteTo(cmd.OutOrStdout())
		return err
	},
}

var resendCmd = &cobra.Command{
	Use:   "resend <email-id>",
	Short: "Retry delivery of a stored message",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEnv()
		if err != nil {
			return err
		}
		defer e.Close()

		svc, err := e.mailer(true)
		if err != nil {
			return err
		}

		email, err := svc.Resend(cmd.Context(), args[0])
		if email != nil {
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", email.ID, email.Status)
		}
		return err
	},
}

func init() {
	sendFlags.register(sendCmd)
	encryptFlags.register(encryptCmd)
	rootCmd.AddCommand(sendCmd, encryptCmd, resendCmd)
}
