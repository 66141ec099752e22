package commands

import (
	"log"
	"strconv"
	"tinysync-backend/services/pricesync/db"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var (
	storeCrt    int64
	storeActive bool
)

func init() {
	storesSetCmd.Flags().Int64Var(&storeCrt, "crt", 1, "Tax regime code of the store (1 = Simples Nacional, 3 = Lucro Presumido/Real).")
	storesSetCmd.Flags().BoolVar(&storeActive, "active", false, "Whether the sync bot runs for this store.")
	storesCmd.AddCommand(storesSetCmd)
	storesCmd.AddCommand(storesListCmd)
	rootCmd.AddCommand(storesCmd)
}

var storesCmd = &cobra.Command{
	Use:   "stores",
	Short: "Manages the stores the webhook intake routes to.",
}

var storesSetCmd = &cobra.Command{
	Use:   "set <name> <account-id> <api-key>",
	Short: "Creates or updates a store.",
	Args:  cobra.ExactArgs(3),
	Run: func(cmd *cobra.Command, args []string) {
		accountID, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			log.Fatal(err)
		}
		database, err := openPricesyncDB()
		if err != nil {
			log.Fatal(err)
		}
		defer database.Close()

		err = db.New(database).UpsertStore(cmd.Context(), db.Store{
			Name:      args[0],
			AccountID: accountID,
			ApiKey:    args[2],
			Crt:       storeCrt,
			BotActive: storeActive,
		})
		if err != nil {
			log.Fatal(err)
		}
	},
}

var storesListCmd = &cobra.Command{
	Use:   "list",
	Short: "Lists configured stores.",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		database, err := openPricesyncDB()
		if err != nil {
			log.Fatal(err)
		}
		defer database.Close()

		stores, err := db.New(database).ListStores(cmd.Context())
		if err != nil {
			log.Fatal(err)
		}

		t := newTable()
		t.AppendHeader(table.Row{"Name", "Account", "CRT", "Active"})
		for _, s := range stores {
			t.AppendRow(table.Row{s.Name, s.AccountID, s.Crt, s.BotActive})
		}
		t.Render()
	},
}
