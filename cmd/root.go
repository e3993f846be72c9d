package cmd

import (
	"context"
	"os"

	"github.com/emrgen/newsimport/internal/config"
	"github.com/emrgen/newsimport/internal/server"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "newsimport [url]",
	Short: "news article importer",
	Long: `Consumes article updates from the item topic, merges them into the
article store and requests summaries, answers and deduplication
when the relevant fields change.

With a single url argument the article is reprocessed: every request
it qualifies for is sent again and the command exits.`,
	Example: `newsimport
newsimport https://www.example.com/nota/123
newsimport db migrate`,
	Args:         cobra.MaximumNArgs(1),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cnf := config.LoadConfig()
		setupLogging(cnf.Logging)

		s, err := server.NewServer(cnf)
		if err != nil {
			return err
		}
		defer s.Close()

		if len(args) == 1 {
			return s.Reprocess(context.Background(), args[0])
		}

		return s.Start()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		logrus.Error(err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(dbCmd)
	rootCmd.SetHelpCommand(&cobra.Command{Use: "no-help", Hidden: true})

	rootCmd.CompletionOptions.HiddenDefaultCmd = true
	cobra.EnableCommandSorting = false
}

func setupLogging(cnf config.LoggingConfig) {
	level, err := logrus.ParseLevel(cnf.Level)
	if err != nil {
		logrus.Warnf("unknown log level %q, using info", cnf.Level)
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)

	if cnf.Format == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
}
