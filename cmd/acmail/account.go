package main

import (
	"bufio"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/go-kit/log/level"
	"github.com/spf13/cobra"

	"github.com/nhle/acmail/internal/autocrypt"
	"github.com/nhle/acmail/internal/crypto"
	"github.com/nhle/acmail/internal/model"
	"github.com/nhle/acmail/internal/store"
)

var accountCmd = &cobra.Command{
	Use:   "account",
	Short: "Manage local sending accounts",
}

var (
	accountKeyFile  string
	accountGenerate bool
	accountName     string
	accountMutual   bool
	accountDisabled bool
)

var accountAddCmd = &cobra.Command{
	Use:   "add <addr>",
	Short: "Add an account or replace its key",
	Long: `Stores the account's secret key in the keyring and its public key in the
database. The key is read from --key (armored, unprotected) or created
with --generate.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		addr := args[0]
		if err := autocrypt.ValidateAddr(addr); err != nil {
			return err
		}

		var secret []byte
		var err error
		switch {
		case accountGenerate && accountKeyFile != "":
			return errors.New("--key and --generate are mutually exclusive")
		case accountGenerate:
			secret, err = crypto.GenerateSecretKey(accountName, addr, nil)
		case accountKeyFile != "":
			secret, err = readInput(accountKeyFile, cmd.InOrStdin())
		default:
			return errors.New("one of --key or --generate is required")
		}
		if err != nil {
			return err
		}

		entity, err := crypto.ReadSecretKey(secret)
		if err != nil {
			return err
		}
		if !containsAddr(crypto.Identities(entity), addr) {
			level.Warn(logger).Log("msg", "key has no user ID for account", "addr", addr)
		}
		public, err := crypto.PublicKey(secret)
		if err != nil {
			return err
		}

		e, err := openEnv()
		if err != nil {
			return err
		}
		defer e.Close()

		if err := e.keys.SetSecretKey(addr, secret); err != nil {
			return err
		}
		pref := autocrypt.NoPreference
		if accountMutual {
			pref = autocrypt.Mutual
		}
		if err := e.store.UpsertAccount(cmd.Context(), model.Account{
			Addr:          addr,
			Enabled:       !accountDisabled,
			PreferEncrypt: pref,
			PublicKey:     public,
		}); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "account %s ready\n", addr)
		return nil
	},
}

var accountListCmd = &cobra.Command{
	Use:   "list",
	Short: "List accounts",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEnv()
		if err != nil {
			return err
		}
		defer e.Close()

		accounts, err := e.store.GetAccounts(cmd.Context())
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ADDRESS\tENABLED\tPREFER-ENCRYPT")
		for _, a := range accounts {
			fmt.Fprintf(w, "%s\t%t\t%s\n", a.Addr, a.Enabled, a.PreferEncrypt)
		}
		return w.Flush()
	},
}

var accountPasswordCmd = &cobra.Command{
	Use:       "password <smtp|imap>",
	Short:     "Store the server password for the configured username",
	Long:      "Reads one line from stdin and stores it in the keyring.",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"smtp", "imap"},
	RunE: func(cmd *cobra.Command, args []string) error {
		var username string
		switch args[0] {
		case "smtp":
			username = cfg.SMTP.Username
		case "imap":
			username = cfg.IMAP.Username
		default:
			return fmt.Errorf("unknown service %q", args[0])
		}
		if username == "" {
			return fmt.Errorf("%s.username is not configured", args[0])
		}

		line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		password := strings.TrimRight(line, "\r\n")
		if password == "" {
			if err != nil {
				return fmt.Errorf("reading password: %w", err)
			}
			return errors.New("empty password")
		}

		e, err := openEnv()
		if err != nil {
			return err
		}
		defer e.Close()
		return e.keys.SetPassword(args[0], username, password)
	},
}

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Group peers under an account",
}

var profileCreateCmd = &cobra.Command{
	Use:   "create <account> [name]",
	Short: "Create a profile",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		p := model.Profile{AccountAddr: args[0]}
		if len(args) == 2 {
			p.Name = args[1]
		}

		e, err := openEnv()
		if err != nil {
			return err
		}
		defer e.Close()

		created, err := e.store.CreateProfile(cmd.Context(), p)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", created.ID, created.Name)
		return nil
	},
}

var profileAddCmd = &cobra.Command{
	Use:   "add <profile-id> <peer>...",
	Short: "Add known peers to a profile",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEnv()
		if err != nil {
			return err
		}
		defer e.Close()

		for _, addr := range args[1:] {
			if err := e.store.AddPeerToProfile(cmd.Context(), args[0], addr); err != nil {
				return err
			}
		}
		return nil
	},
}

var profileListCmd = &cobra.Command{
	Use:   "list <account>",
	Short: "List an account's profiles and their peers",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEnv()
		if err != nil {
			return err
		}
		defer e.Close()

		profiles, err := e.store.GetProfiles(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		for _, p := range profiles {
			fmt.Fprintf(out, "%s\t%s\n", p.ID, p.Name)
			peers, err := e.store.GetProfilePeers(cmd.Context(), p.ID)
			if err != nil && !store.IsNotFound(err) {
				return err
			}
			for _, peer := range peers {
				fmt.Fprintf(out, "  %s\n", peer.Addr)
			}
		}
		return nil
	},
}

func containsAddr(addrs []string, addr string) bool {
	for _, a := range addrs {
		if autocrypt.SameAddr(a, addr) {
			return true
		}
	}
	return false
}

func init() {
	accountAddCmd.Flags().StringVarP(&accountKeyFile, "key", "k", "", "armored secret key file, - for stdin")
	accountAddCmd.Flags().BoolVar(&accountGenerate, "generate", false, "generate a new key pair")
	accountAddCmd.Flags().StringVar(&accountName, "name", "", "user ID name for a generated key")
	accountAddCmd.Flags().BoolVar(&accountMutual, "mutual", false, "announce prefer-encrypt=mutual")
	accountAddCmd.Flags().BoolVar(&accountDisabled, "disabled", false, "add the account disabled")

	accountCmd.AddCommand(accountAddCmd, accountListCmd, accountPasswordCmd)
	profileCmd.AddCommand(profileCreateCmd, profileAddCmd, profileListCmd)
	rootCmd.AddCommand(accountCmd, profileCmd)
}
