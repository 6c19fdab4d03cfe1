// Package cli provides the command-line interface for pgpcodec.
package cli

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/kenneth/openpgp-codec/internal/config"
)

var (
	// Global flags
	cfgFile   string
	logLevel  string
	algorithm string
	keyFile   string
	noMDC     bool
	legacy    bool
	partial   bool

	// Loaded by PersistentPreRunE, shared by all subcommands.
	cfg    *config.Config
	logger *logrus.Logger
)

var (
	version = "dev"
	commit  = "unknown"
)

// NewRootCmd creates the root command.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "pgpcodec",
		Short: "OpenPGP symmetric encrypted data packet codec",
		Long: `pgpcodec encodes plaintext streams into OpenPGP symmetrically
encrypted data packets (RFC 4880 tags 9 and 18) and decodes them back.

Packets carry a CFB-encrypted body with a random prefix and, unless
disabled, a SHA-1 modification detection code trailer. Large or
unknown-length inputs are framed with partial body lengths.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.LoadConfig(cfgFile)
			if err != nil {
				return err
			}
			applyFlagOverrides(cmd)
			if err := cfg.Validate(); err != nil {
				return err
			}

			logger = logrus.New()
			if cfg.LogFormat == "text" {
				logger.SetFormatter(&logrus.TextFormatter{})
			} else {
				logger.SetFormatter(&logrus.JSONFormatter{})
			}
			level, err := logrus.ParseLevel(cfg.LogLevel)
			if err != nil {
				logger.WithError(err).Warn("Invalid log level, using info")
				level = logrus.InfoLevel
			}
			logger.SetLevel(level)
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "Configuration file path")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (overrides config)")
	rootCmd.PersistentFlags().StringVarP(&algorithm, "algorithm", "a", "", "Cipher algorithm (overrides config)")
	rootCmd.PersistentFlags().StringVarP(&keyFile, "key-file", "k", "", "Hex-encoded session key file (overrides config)")
	rootCmd.PersistentFlags().BoolVar(&noMDC, "no-mdc", false, "Omit the integrity trailer (64-bit block ciphers only)")
	rootCmd.PersistentFlags().BoolVar(&legacy, "legacy", false, "Use old-style packet framing where permitted")
	rootCmd.PersistentFlags().BoolVar(&partial, "partial", false, "Force partial body length framing")

	rootCmd.Version = version + " (" + commit + ")"

	rootCmd.AddCommand(newEncryptCmd())
	rootCmd.AddCommand(newDecryptCmd())
	rootCmd.AddCommand(newGenKeyCmd())
	rootCmd.AddCommand(newWatchCmd())

	return rootCmd
}

// applyFlagOverrides folds explicitly set flags into the loaded config.
func applyFlagOverrides(cmd *cobra.Command) {
	flags := cmd.Root().PersistentFlags()
	if flags.Changed("log-level") {
		cfg.LogLevel = logLevel
	}
	if flags.Changed("algorithm") {
		cfg.Codec.Algorithm = algorithm
	}
	if flags.Changed("key-file") {
		cfg.Codec.KeyFile = keyFile
	}
	if flags.Changed("no-mdc") {
		cfg.Codec.DisableMDC = noMDC
	}
	if flags.Changed("legacy") {
		cfg.Codec.Legacy = legacy
		// Old-style framing cannot carry partial lengths, so an explicit
		// --legacy turns chunking off unless --partial was also given.
		if legacy && !flags.Changed("partial") {
			cfg.Codec.Partial = false
		}
	}
	if flags.Changed("partial") {
		cfg.Codec.Partial = partial
	}
}

// Execute runs the CLI.
func Execute() error {
	return NewRootCmd().Execute()
}
