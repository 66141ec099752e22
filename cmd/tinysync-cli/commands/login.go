package commands

import (
	"fmt"
	"log"
	"strconv"
	"tinysync-backend/lib/scrapers/tiny/auth"
	"tinysync-backend/lib/scrapers/tiny/rpc"
	"tinysync-backend/lib/scrapers/tiny/session"
	"tinysync-backend/services/keychain"

	"github.com/spf13/cobra"
)

var loginBaseURL string

func init() {
	loginCmd.Flags().StringVar(&loginBaseURL, "base-url", "https://erp.tiny.com.br/", "ERP web application base url.")
	rootCmd.AddCommand(loginCmd)
}

var loginCmd = &cobra.Command{
	Use:   "login <account-id>",
	Short: "Runs the full login sequence for an account and prints the session cookie.",
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

		creds, err := keychain.NewService(database).GetCredentials(cmd.Context(), accountID)
		if err != nil {
			log.Fatal(err)
		}

		sessions := session.NewStore(session.Options{})
		rpcClient, err := rpc.NewClient(rpc.Options{
			BaseURL:  loginBaseURL,
			Sessions: sessions,
		})
		if err != nil {
			log.Fatal(err)
		}
		flow := auth.NewFlow(auth.Options{Rpc: rpcClient})
		sessions.BindLogin(flow.Login)

		cookie, err := sessions.Acquire(cmd.Context(), accountID, creds)
		if err != nil {
			log.Fatal(err)
		}
		fmt.Println(session.CookieName + "=" + cookie)
	},
}
