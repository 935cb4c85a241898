package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"geo-drill/internal/geodata"
	"geo-drill/internal/migrate"
	"geo-drill/internal/store"
	"geo-drill/internal/utils"
)

var (
	importLevel  int
	importParent string
)

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Upsert a boundary file into the entity store",
	Long: `Import decodes a boundary file and upserts one entity per feature into
Postgres (PG_HOST, PG_PORT, PG_USER, PG_PASSWORD, PG_DB). Re-importing the
same file updates rows in place.

Examples:
  geoctl import world-110m.json --level 0
  geoctl import admin-by-country/united-states-of-america-admin.json --level 1 --parent US`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		if importLevel > 0 && importParent == "" {
			return fmt.Errorf("--parent is required for level %d", importLevel)
		}
		fc, err := readCollection(ctx, args[0])
		if err != nil {
			return err
		}
		es, err := geodata.CollectionToEntities(fc, importLevel, importParent)
		if err != nil {
			return err
		}
		db, err := utils.OpenPostgresFromEnv()
		if err != nil {
			return err
		}
		defer db.Close()
		if err := migrate.EnsureSchema(ctx, db); err != nil {
			return err
		}
		n, err := store.AttachDB(db).UpsertEntities(ctx, es)
		if err != nil {
			return err
		}
		log.Info("import_ok", "file", args[0], "level", importLevel, "parent", importParent, "rows", n)
		fmt.Fprintf(cmd.OutOrStdout(), "imported %d entities at level %d\n", n, importLevel)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(importCmd)
	importCmd.Flags().IntVar(&importLevel, "level", 0, "administrative level of the features")
	importCmd.Flags().StringVar(&importParent, "parent", "", "code or name of the parent entity")
}
