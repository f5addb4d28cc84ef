package cmd

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	jww "github.com/spf13/jwalterweatherman"

	"github.com/nexus-im/dm/internal/auth"
	"github.com/nexus-im/dm/internal/chat"
	"github.com/nexus-im/dm/internal/config"
	"github.com/nexus-im/dm/internal/directory"
	"github.com/nexus-im/dm/internal/httpapi"
	"github.com/nexus-im/dm/internal/identity"
	"github.com/nexus-im/dm/internal/ledger"
	"github.com/nexus-im/dm/store/conversation"
	"github.com/nexus-im/dm/store/message"
	"github.com/nexus-im/dm/store/sqldb"
	"github.com/nexus-im/dm/store/user"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	c, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := openDatabase(ctx, c.Database)
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(); err != nil {
			jww.ERROR.Printf("Error closing db: %v", err)
		}
	}()

	server := &http.Server{
		Addr:         c.Server.Addr,
		Handler:      newHandler(c, db),
		ReadTimeout:  c.Server.ReadTimeout,
		WriteTimeout: c.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		jww.INFO.Printf("Server starting on %s (policy=%s)", c.Server.Addr, c.Chat.Policy)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Wrap(err, "ListenAndServe")
	case <-ctx.Done():
	}

	jww.INFO.Printf("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// newHandler wires stores, chat components and the HTTP API from config.
func newHandler(c *config.Config, db *sql.DB) http.Handler {
	users := user.NewSQLStore(db)
	authenticator := auth.NewAuthenticator(c.Auth.Secret, c.Auth.Issuer, c.Auth.TokenTTL)

	dir := directory.New(
		conversation.NewSQLStore(db),
		users,
		directory.WithPolicy(c.Chat.Policy),
		directory.WithCounterpartCheck(c.Chat.VerifyCounterpart),
	)
	svc := chat.NewService(dir, ledger.New(message.NewSQLStore(db)))

	return httpapi.NewHandler(
		svc,
		identity.NewResolver(authenticator, users),
		httpapi.NewLoginHandler(users, authenticator),
	)
}

// openDatabase connects and brings the schema up to date.
func openDatabase(ctx context.Context, c config.Database) (*sql.DB, error) {
	db, err := sqldb.Open(ctx, c.Driver, c.URL)
	if err != nil {
		return nil, err
	}
	version, err := sqldb.Migrate(ctx, db, c.Driver)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	jww.INFO.Printf("Connected to %s database (schema version %d)", c.Driver, version)
	return db, nil
}
