package commands

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"tinysync-backend/lib/sqliteutil"
	keychaindb "tinysync-backend/services/keychain/db"
	pricesyncdb "tinysync-backend/services/pricesync/db"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var (
	keychainDBPath  string
	pricesyncDBPath string
)

var rootCmd = &cobra.Command{
	Use:   "tinysync-cli",
	Short: "tinysync-cli manages the credentials, stores and price references the sync server runs on.",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&keychainDBPath, "keychain-db", "keychain.db", "Path to the keychain sqlite database.")
	rootCmd.PersistentFlags().StringVar(&pricesyncDBPath, "pricesync-db", "pricesync.db", "Path to the pricesync sqlite database.")
}

func ExecuteContext(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func openKeychainDB() (*sql.DB, error) {
	return sqliteutil.OpenDB(keychaindb.Schema, keychainDBPath)
}

func openPricesyncDB() (*sql.DB, error) {
	return sqliteutil.OpenDB(pricesyncdb.Schema, pricesyncDBPath)
}

func newTable() table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.SetOutputMirror(os.Stdout)
	return t
}
