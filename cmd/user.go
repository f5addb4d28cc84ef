package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/nexus-im/dm/internal/auth"
	"github.com/nexus-im/dm/store/user"
)

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage user accounts",
}

var userAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Create a user and print its profile",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		email, _ := cmd.Flags().GetString("email")
		password, _ := cmd.Flags().GetString("password")
		if name == "" || email == "" {
			return errors.New("--name and --email are required")
		}

		c, err := loadConfig()
		if err != nil {
			return err
		}
		db, err := openDatabase(cmd.Context(), c.Database)
		if err != nil {
			return err
		}
		defer db.Close()

		hash, err := user.HashPassword(password)
		if err != nil {
			return err
		}
		u := &user.User{Name: name, Email: email, PasswordHash: hash}
		if err := user.NewSQLStore(db).Create(cmd.Context(), u); err != nil {
			return err
		}
		return json.NewEncoder(cmd.OutOrStdout()).Encode(u.Profile())
	},
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a session token for an existing user",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		email, _ := cmd.Flags().GetString("email")
		if email == "" {
			return errors.New("--email is required")
		}

		c, err := loadConfig()
		if err != nil {
			return err
		}
		db, err := openDatabase(cmd.Context(), c.Database)
		if err != nil {
			return err
		}
		defer db.Close()

		u, err := user.NewSQLStore(db).GetByEmail(cmd.Context(), email)
		if err != nil {
			return err
		}
		token, err := auth.NewAuthenticator(c.Auth.Secret, c.Auth.Issuer, c.Auth.TokenTTL).
			GenerateToken(u.ID, u.Name, u.Email)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
		return err
	},
}

func init() {
	userAddCmd.Flags().String("name", "", "Display name")
	userAddCmd.Flags().String("email", "", "Email address (login)")
	userAddCmd.Flags().String("password", "", "Password")

	tokenCmd.Flags().String("email", "", "Email of the user to issue a token for")

	userCmd.AddCommand(userAddCmd)
	rootCmd.AddCommand(userCmd, tokenCmd)
}
