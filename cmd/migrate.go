package cmd

import (
	"github.com/spf13/cobra"
	jww "github.com/spf13/jwalterweatherman"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations and exit",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := loadConfig()
		if err != nil {
			return err
		}
		db, err := openDatabase(cmd.Context(), c.Database)
		if err != nil {
			return err
		}
		jww.INFO.Printf("Migrations complete")
		return db.Close()
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
