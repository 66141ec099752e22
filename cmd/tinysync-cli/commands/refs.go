package commands

import (
	"log"
	"strconv"
	"tinysync-backend/services/pricesync/db"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var refFlags db.PriceReference

func init() {
	refsSetCmd.Flags().BoolVar(&refFlags.Active, "active", true, "Whether this reference participates in syncs.")
	refsSetCmd.Flags().StringVar(&refFlags.MercadoPrice, "mercado", "", "Mercado Livre price (comma-decimal). Empty disables the marketplace.")
	refsSetCmd.Flags().StringVar(&refFlags.ShopeePrice, "shopee", "", "Shopee price.")
	refsSetCmd.Flags().StringVar(&refFlags.AliPrice, "aliexpress", "", "AliExpress price.")
	refsSetCmd.Flags().StringVar(&refFlags.SheinPrice, "shein", "", "Shein price.")
	refsSetCmd.Flags().StringVar(&refFlags.TiktokPrice, "tiktok", "", "TikTok Shop price.")
	refsCmd.AddCommand(refsSetCmd)
	refsCmd.AddCommand(refsListCmd)
	refsCmd.AddCommand(refsDelCmd)
	rootCmd.AddCommand(refsCmd)
}

var refsCmd = &cobra.Command{
	Use:   "refs",
	Short: "Manages per-SKU price references.",
}

var refsSetCmd = &cobra.Command{
	Use:   "set <account-id> <sku> <erp-price>",
	Short: "Creates or updates a price reference. A marketplace is active when its price flag is set.",
	Args:  cobra.ExactArgs(3),
	Run: func(cmd *cobra.Command, args []string) {
		accountID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			log.Fatal(err)
		}
		database, err := openPricesyncDB()
		if err != nil {
			log.Fatal(err)
		}
		defer database.Close()

		ref := refFlags
		ref.AccountID = accountID
		ref.Sku = args[1]
		ref.Price = args[2]
		ref.MercadoActive = ref.MercadoPrice != ""
		ref.ShopeeActive = ref.ShopeePrice != ""
		ref.AliActive = ref.AliPrice != ""
		ref.SheinActive = ref.SheinPrice != ""
		ref.TiktokActive = ref.TiktokPrice != ""

		err = db.New(database).UpsertPriceReference(cmd.Context(), ref)
		if err != nil {
			log.Fatal(err)
		}
	},
}

var refsListCmd = &cobra.Command{
	Use:   "list <account-id>",
	Short: "Lists the price references of an account.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		accountID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			log.Fatal(err)
		}
		database, err := openPricesyncDB()
		if err != nil {
			log.Fatal(err)
		}
		defer database.Close()

		refs, err := db.New(database).ListPriceReferences(cmd.Context(), accountID)
		if err != nil {
			log.Fatal(err)
		}

		t := newTable()
		t.AppendHeader(table.Row{"SKU", "Active", "ERP", "Mercado", "Shopee", "AliExpress", "Shein", "TikTok"})
		for _, r := range refs {
			t.AppendRow(table.Row{
				r.Sku, r.Active, r.Price,
				marketplaceCell(r.MercadoPrice, r.MercadoActive),
				marketplaceCell(r.ShopeePrice, r.ShopeeActive),
				marketplaceCell(r.AliPrice, r.AliActive),
				marketplaceCell(r.SheinPrice, r.SheinActive),
				marketplaceCell(r.TiktokPrice, r.TiktokActive),
			})
		}
		t.Render()
	},
}

func marketplaceCell(price string, active bool) string {
	if !active {
		return "-"
	}
	return price
}

var refsDelCmd = &cobra.Command{
	Use:   "del <account-id> <sku>",
	Short: "Deletes a price reference.",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		accountID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			log.Fatal(err)
		}
		database, err := openPricesyncDB()
		if err != nil {
			log.Fatal(err)
		}
		defer database.Close()

		err = db.New(database).DeletePriceReference(cmd.Context(), db.DeletePriceReferenceParams{
			AccountID: accountID,
			Sku:       args[1],
		})
		if err != nil {
			log.Fatal(err)
		}
	},
}
