package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"geo-drill/internal/config"
	"geo-drill/internal/focus"
	"geo-drill/internal/geodata"
	"geo-drill/internal/logger"
	"geo-drill/internal/measure"
	"geo-drill/internal/render"
)

var (
	drillData   string
	drillURL    string
	drillAPI    string
	drillDirs   []string
	drillSettle time.Duration
)

var drillCmd = &cobra.Command{
	Use:   "drill [names...]",
	Short: "Drive the focus machine headless",
	Long: `Drill mounts the world map against a logging renderer and focuses each
name in turn, one level below the data on screen, printing the state after
every step. ".." goes back one level and "/" exits to the world view.

Examples:
  geoctl drill "United States of America" Texas
  geoctl drill --url https://cdn.example.com/geo France .. Germany
  geoctl drill --api http://localhost:8080/api Brazil`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		settle, api := drillSettings(cfg, drillSettle, cmd.Flags().Changed("settle"), drillAPI, cmd.Flags().Changed("api"))
		m, err := newDrillMachine(ctx, settle, api)
		if err != nil {
			return err
		}
		limit := settle + cfg.LoadTimeout
		out := cmd.OutOrStdout()
		fmt.Fprintln(out, formatState(m.State()))
		for _, arg := range args {
			switch arg {
			case "..":
				m.GoBack()
			case "/":
				m.ExitFocus()
			default:
				if err := m.Focus(ctx, arg); err != nil {
					return err
				}
			}
			waitSettled(m, limit)
			fmt.Fprintf(out, "%-24s %s\n", arg, formatState(m.State()))
		}
		return nil
	},
}

// drillSettings resolves the settle delay and API base: flags win when set,
// otherwise FOCUS_SETTLE_MS and GEO_API_URL apply.
func drillSettings(c config.Config, settle time.Duration, settleSet bool, api string, apiSet bool) (time.Duration, string) {
	if !settleSet {
		settle = c.SettleDelay
	}
	if !apiSet {
		api = c.APIURL
	}
	return settle, api
}

// waitSettled blocks until the transition lock is released or limit passes.
func waitSettled(m *focus.Machine, limit time.Duration) {
	idle := func(s focus.State) bool { return !s.Loading && !s.Transitioning }
	done := make(chan struct{}, 1)
	unsub := m.Subscribe(func(s focus.State) {
		if idle(s) {
			select {
			case done <- struct{}{}:
			default:
			}
		}
	})
	defer unsub()
	if idle(m.State()) {
		return
	}
	select {
	case <-done:
	case <-time.After(limit):
	}
}

func newDrillMachine(ctx context.Context, settle time.Duration, api string) (*focus.Machine, error) {
	if drillData == "" {
		drillData = cfg.DataDir
	}
	if len(drillDirs) == 0 {
		return nil, fmt.Errorf("at least one level directory is required")
	}
	var src geodata.Source = geodata.NewFileSource(drillData)
	if drillURL != "" {
		src = geodata.NewHTTPSource(drillURL)
	}
	cache := geodata.NewCache(src, geodata.WithFetchTimeout(cfg.FetchTimeout), geodata.WithLogger(logger.Component("geodata")))
	local := geodata.NewLoader(cache, cfg.WorldLowRes, cfg.WorldMediumRes)

	fc := focus.Config{
		World:          local.World,
		WorldSourceKey: cfg.WorldLowRes,
		MaxLevel:       cfg.MaxFocusLevel,
		Padding:        cfg.FitPadding,
		Window:         measure.Window{West: cfg.WindowWest, East: cfg.WindowEast},
		LoadTimeout:    cfg.LoadTimeout,
		SettleDelay:    settle,
	}
	var remote *geodata.Resilient
	if api != "" {
		remote = geodata.NewResilient(geodata.NewAPIClient(api), local, drillDirs[0], cfg.APIHealthInterval)
		fc.World = remote.World
	}
	for i, dir := range drillDirs {
		lc := focus.LevelConfig{SourceKey: dir, Variant: render.VariantRegion, Load: local.EntityLoader(dir)}
		if i == 0 {
			lc.Variant = render.VariantCountry
		}
		if remote != nil && i == 0 {
			lc.Load = remote.LevelLoader(i + 1)
		}
		fc.Levels = append(fc.Levels, lc)
	}

	m := focus.New(fc, render.NewLogRenderer(logger.Component("render")), focus.WithSettleDelay(settle))
	if err := m.Mount(ctx); err != nil {
		return nil, err
	}
	return m, nil
}

func formatState(s focus.State) string {
	names := make([]string, len(s.Stack))
	for i, e := range s.Stack {
		names[i] = e.Name
	}
	path := "world"
	if len(names) > 0 {
		path += " > " + strings.Join(names, " > ")
	}
	out := fmt.Sprintf("level=%d data=%d %s", s.Level, s.DataLevel, path)
	if s.Fallback {
		out += " (fallback)"
	}
	if s.Err != nil {
		out += " err=" + s.Err.Error()
	}
	return out
}

func init() {
	rootCmd.AddCommand(drillCmd)
	drillCmd.Flags().StringVar(&drillData, "data", "", "local boundary directory (default GEO_DATA_DIR)")
	drillCmd.Flags().StringVar(&drillURL, "url", "", "fetch boundary files from this base URL instead of --data")
	drillCmd.Flags().StringVar(&drillAPI, "api", "", "prefer the entity API at this base URL, falling back to files (default GEO_API_URL)")
	drillCmd.Flags().StringSliceVar(&drillDirs, "dirs", []string{"admin-by-country"}, "per-level directories below the world")
	drillCmd.Flags().DurationVar(&drillSettle, "settle", 0, "transition settle delay (default FOCUS_SETTLE_MS)")
}
