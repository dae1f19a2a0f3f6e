package main

import (
	"encoding/base64"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nhle/acmail/internal/autocrypt"
)

var headerCmd = &cobra.Command{
	Use:   "header",
	Short: "Encode and decode Autocrypt header values",
}

var (
	headerKeyFile string
	headerMutual  bool
	headerGossip  bool
)

var headerEncodeCmd = &cobra.Command{
	Use:   "encode <addr>",
	Short: "Print the header value for a binary public key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := readInput(headerKeyFile, cmd.InOrStdin())
		if err != nil {
			return fmt.Errorf("reading key: %w", err)
		}

		var value string
		if headerGossip {
			value, err = autocrypt.EncodeGossip(args[0], key)
		} else {
			pref := autocrypt.NoPreference
			if headerMutual {
				pref = autocrypt.Mutual
			}
			value, err = autocrypt.Encode(args[0], key, pref)
		}
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), value)
		return nil
	},
}

var headerDecodeCmd = &cobra.Command{
	Use:   "decode <value>",
	Short: "Parse a header value",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		decode := autocrypt.Decode
		if headerGossip {
			decode = autocrypt.DecodeGossip
		}
		h, err := decode(args[0])
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "type:           %s\n", h.Type)
		fmt.Fprintf(out, "addr:           %s\n", h.Addr)
		fmt.Fprintf(out, "prefer-encrypt: %s\n", h.PreferEncrypt)
		fmt.Fprintf(out, "keydata:        %d bytes\n", len(h.KeyData))
		for _, a := range h.Extra {
			fmt.Fprintf(out, "%s: %s\n", a.Key, a.Value)
		}
		fmt.Fprintln(out, base64.StdEncoding.EncodeToString(h.KeyData))
		return nil
	},
}

func init() {
	headerEncodeCmd.Flags().StringVarP(&headerKeyFile, "key", "k", "-", "binary public key file, - for stdin")
	headerEncodeCmd.Flags().BoolVar(&headerMutual, "mutual", false, "set prefer-encrypt=mutual")
	headerCmd.PersistentFlags().BoolVar(&headerGossip, "gossip", false, "use the Autocrypt-Gossip form")

	headerCmd.AddCommand(headerEncodeCmd, headerDecodeCmd)
	rootCmd.AddCommand(headerCmd)
}
