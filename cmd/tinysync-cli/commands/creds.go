package commands

import (
	"log"
	"strconv"
	"tinysync-backend/lib/scrapers/tiny/session"
	"tinysync-backend/services/keychain"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func init() {
	credsCmd.AddCommand(credsSetCmd)
	credsCmd.AddCommand(credsListCmd)
	credsCmd.AddCommand(credsDelCmd)
	rootCmd.AddCommand(credsCmd)
}

var credsCmd = &cobra.Command{
	Use:   "creds",
	Short: "Manages the ERP credentials stored per account.",
}

var credsSetCmd = &cobra.Command{
	Use:   "set <account-id> <login> <password>",
	Short: "Stores or replaces the ERP login for an account.",
	Args:  cobra.ExactArgs(3),
	Run: func(cmd *cobra.Command, args []string) {
		accountID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			log.Fatal(err)
		}
		database, err := openKeychainDB()
		if err != nil {
			log.Fatal(err)
		}
		defer database.Close()

		err = keychain.NewService(database).SetCredentials(
			cmd.Context(), accountID,
			session.Credentials{Login: args[1], Password: args[2]},
		)
		if err != nil {
			log.Fatal(err)
		}
	},
}

var credsListCmd = &cobra.Command{
	Use:   "list",
	Short: "Lists accounts with stored credentials.",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		database, err := openKeychainDB()
		if err != nil {
			log.Fatal(err)
		}
		defer database.Close()

		ids, err := keychain.NewService(database).ListAccounts(cmd.Context())
		if err != nil {
			log.Fatal(err)
		}

		t := newTable()
		t.AppendHeader(table.Row{"Account"})
		for _, id := range ids {
			t.AppendRow(table.Row{id})
		}
		t.Render()
	},
}

var credsDelCmd = &cobra.Command{
	Use:   "del <account-id>",
	Short: "Deletes an account's stored credentials.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		accountID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			log.Fatal(err)
		}
		database, err := openKeychainDB()
		if err != nil {
			log.Fatal(err)
		}
		defer database.Close()

		err = keychain.NewService(database).DeleteCredentials(cmd.Context(), accountID)
		if err != nil {
			log.Fatal(err)
		}
	},
}
