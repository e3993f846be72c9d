package cmd

import (
	"context"

	"github.com/emrgen/newsimport/internal/config"
	"github.com/emrgen/newsimport/internal/store"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "db commands",
}

func init() {
	dbCmd.AddCommand(Migrate())
	dbCmd.AddCommand(Refreshed())
}

func Migrate() *cobra.Command {
	command := &cobra.Command{
		Use:   "migrate",
		Short: "Migrate the database",
		RunE: func(cmd *cobra.Command, args []string) error {
			cnf := config.LoadConfig()
			setupLogging(cnf.Logging)

			db, err := config.GetDb(cnf)
			if err != nil {
				return err
			}

			if err := store.NewGormStore(db).Migrate(); err != nil {
				return err
			}
			logrus.Infof("database migrated")
			return nil
		},
	}

	return command
}

// Refreshed prints when a homepage was last updated.
func Refreshed() *cobra.Command {
	command := &cobra.Command{
		Use:   "refreshed",
		Short: "Show the last homepage refresh time",
		RunE: func(cmd *cobra.Command, args []string) error {
			cnf := config.LoadConfig()
			setupLogging(cnf.Logging)

			db, err := config.GetDb(cnf)
			if err != nil {
				return err
			}

			at, err := store.NewGormStore(db).LastRefresh(context.Background())
			if err != nil {
				return err
			}
			if at.IsZero() {
				cmd.Println("never")
				return nil
			}
			cmd.Println(at.Format("2006-01-02T15:04:05Z07:00"))
			return nil
		},
	}

	return command
}
