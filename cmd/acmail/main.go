package main

import (
	"fmt"
	"os"

	"github.com/go-kit/log"
	"github.com/spf13/cobra"

	"github.com/nhle/acmail/internal/logging"
	"github.com/nhle/acmail/internal/model"
)

var (
	configPath string
	cfg        *model.AppConfig
	logger     = log.NewNopLogger()
)

var rootCmd = &cobra.Command{
	Use:   "acmail",
	Short: "Autocrypt-enabled PGP/MIME mail",
	Long: `acmail sends OpenPGP-encrypted PGP/MIME mail that announces the sender's key
in an Autocrypt header, and learns peer keys from the Autocrypt headers of
received mail.`,
	Version:       "0.1.0",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := model.LoadConfig(configPath)
		if err != nil {
			return err
		}
		cfg = c
		logger = logging.New(os.Stderr, cfg.Log.Format, cfg.Log.Level)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", model.DefaultConfigPath(), "config file")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "acmail: %v\n", err)
		os.Exit(1)
	}
}
