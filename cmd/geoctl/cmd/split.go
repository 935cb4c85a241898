package cmd

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/paulmach/orb/geojson"
	"github.com/spf13/cobra"

	"geo-drill/internal/geodata"
	"geo-drill/internal/topology"
)

var (
	splitBy     string
	splitObject string
	splitExt    string
)

var splitCmd = &cobra.Command{
	Use:   "split <in> <outdir>",
	Short: "Split a collection into one file per parent entity",
	Long: `Split groups features by a property (the parent country for
first-level subdivisions) and writes <slug>-admin.json per group, the
layout geo-api serves under admin-by-country/.

Examples:
  geoctl split ne_10m_admin_1_states_provinces.geojson data/geo/admin-by-country
  geoctl split counties.geojson out --by state --object counties`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		fc, err := readCollection(ctx, args[0])
		if err != nil {
			return err
		}
		groups := groupFeatures(fc, splitBy)
		if len(groups) == 0 {
			return fmt.Errorf("no feature carries property %q", splitBy)
		}
		for _, name := range sortedKeys(groups) {
			out := filepath.Join(args[1], geodata.Slug(name)+".json"+splitExt)
			n, err := writeDocument(out, encode(groups[name], splitObject, topology.DefaultQuantization))
			if err != nil {
				return err
			}
			log.Debug("split_write", "group", name, "out", out, "features", len(groups[name].Features), "bytes", n)
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d\n", out, len(groups[name].Features))
		}
		log.Info("split_ok", "in", args[0], "groups", len(groups))
		return nil
	},
}

// groupFeatures partitions fc by the string value of prop. Features with
// no usable value are dropped.
func groupFeatures(fc *geojson.FeatureCollection, prop string) map[string]*geojson.FeatureCollection {
	out := map[string]*geojson.FeatureCollection{}
	for _, f := range fc.Features {
		if f == nil {
			continue
		}
		v, _ := f.Properties[prop].(string)
		v = topology.CleanName(v)
		if v == "" || v == "-99" {
			continue
		}
		g := out[v]
		if g == nil {
			g = geojson.NewFeatureCollection()
			out[v] = g
		}
		g.Append(f)
	}
	return out
}

func sortedKeys(m map[string]*geojson.FeatureCollection) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func init() {
	rootCmd.AddCommand(splitCmd)
	splitCmd.Flags().StringVar(&splitBy, "by", "admin", "property holding the parent entity name")
	splitCmd.Flags().StringVar(&splitObject, "object", "", "write topology with this object name instead of GeoJSON")
	splitCmd.Flags().StringVar(&splitExt, "compress", "", "append a compression suffix: .gz or .zst")
	splitCmd.PreRunE = func(cmd *cobra.Command, args []string) error {
		if splitExt != "" && !strings.HasPrefix(splitExt, ".") {
			splitExt = "." + splitExt
		}
		if splitExt != "" && splitExt != ".gz" && splitExt != ".zst" {
			return fmt.Errorf("unsupported compression %q", splitExt)
		}
		return nil
	}
}
