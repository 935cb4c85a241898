package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"geo-drill/internal/topology"
)

var (
	convertObject       string
	convertQuantization float64
)

var convertCmd = &cobra.Command{
	Use:   "convert <in> <out>",
	Short: "Convert a boundary file into a quantized topology document",
	Long: `Convert reads GeoJSON or topology input (optionally .gz or .zst) and
writes a quantized topology document. The output is compressed when its
name ends in .gz or .zst.

Examples:
  geoctl convert ne_110m_admin_0_countries.geojson world-110m.json
  geoctl convert states.geojson.gz states.json.gz --object states`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		fc, err := readCollection(ctx, args[0])
		if err != nil {
			return err
		}
		n, err := writeDocument(args[1], encode(fc, convertObject, convertQuantization))
		if err != nil {
			return err
		}
		log.Info("convert_ok", "in", args[0], "out", args[1], "features", len(fc.Features), "bytes", n)
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %d features, %d bytes\n", args[1], len(fc.Features), n)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(convertCmd)
	convertCmd.Flags().StringVar(&convertObject, "object", "countries", "name of the topology object")
	convertCmd.Flags().Float64Var(&convertQuantization, "quantization", topology.DefaultQuantization, "quantization grid size")
}
