package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/pdcadash/pdca/internal/aggregate"
	"github.com/pdcadash/pdca/internal/auth"
	"github.com/pdcadash/pdca/internal/docstore"
	"github.com/pdcadash/pdca/internal/seed"
	"github.com/pdcadash/pdca/internal/ui"
	"github.com/pdcadash/pdca/internal/watch"
)

var rebuildCmd = &cobra.Command{
	Use:     "rebuild",
	GroupID: "maint",
	Short:   "Regenerate client aggregates",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := requireClient(); err != nil {
			return err
		}
		return rootCmd.PersistentPreRunE(cmd, args)
	},
}

var rebuildAggregateCmd = &cobra.Command{
	Use:   "aggregate",
	Short: "Rebuild all-tasks.json and all-cycles.json from the entity shards",
	Long: `Rebuild all-tasks.json and all-cycles.json from the entity shards.

Entities without a folder or with unreadable shards are skipped and reported;
the aggregates are written from the remaining entities.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		entities, err := rt.svc.Entities(rt.ctx, clientID)
		if err != nil {
			return err
		}

		var bar *progressbar.ProgressBar
		if ui.IsTerminal(os.Stderr) && !quiet {
			bar = progressbar.NewOptions(len(entities),
				progressbar.OptionSetDescription("Rebuilding"),
				progressbar.OptionSetWriter(os.Stderr),
				progressbar.OptionSetWidth(40),
				progressbar.OptionShowCount(),
				progressbar.OptionSetItsString("entities"),
				progressbar.OptionThrottle(100*time.Millisecond),
				progressbar.OptionClearOnFinish(),
			)
			rt.onEntity = func(string, error) { _ = bar.Add(1) }
		}

		start := time.Now()
		result, err := rt.svc.RebuildAggregate(rt.ctx, clientID)
		if bar != nil {
			_ = bar.Finish()
		}
		if err != nil {
			return err
		}
		printRebuild(result, time.Since(start))
		return nil
	},
}

func printRebuild(result aggregate.RebuildResult, elapsed time.Duration) {
	fmt.Printf("%s Rebuilt aggregates of %s in %v\n", ui.RenderPass("✓"), clientID, elapsed.Round(time.Millisecond))
	fmt.Printf("   Entities: %d\n", result.EntitiesProcessed)
	fmt.Printf("   Tasks: %s\n", humanize.Comma(int64(result.Tasks)))
	fmt.Printf("   Cycles: %s\n", humanize.Comma(int64(result.Cycles)))
	if result.EntitiesSkipped > 0 {
		fmt.Printf("%s Skipped %d entities\n", ui.RenderWarn("⚠"), result.EntitiesSkipped)
		for _, s := range result.Skipped {
			fmt.Printf("   %s: %s\n", s.EntityID, s.Reason)
		}
	}
}

var rebuildMasterDataCmd = &cobra.Command{
	Use:   "master-data",
	Short: "Rebuild master-data.json from pdca-issues.json and pdca-cycles.json",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		result, err := rt.svc.RebuildMasterData(rt.ctx, clientID)
		if err != nil {
			return err
		}
		fmt.Printf("%s Rebuilt master data of %s\n", ui.RenderPass("✓"), clientID)
		fmt.Printf("   Issues: %d (entity names: %d from tasks, %d from entities, %d unresolved)\n",
			result.Issues, result.FromTasks, result.FromEntities, result.Unresolved)
		fmt.Printf("   Cycles: %d\n", result.Cycles)
		fmt.Printf("   Updated: %s\n", result.UpdatedAt)
		return nil
	},
}

var ingestCmd = &cobra.Command{
	Use:     "ingest <file>",
	GroupID: "maint",
	Short:   "Convert a spreadsheet (.xlsx or .csv) into unified_data.json",
	Long: `Convert a spreadsheet into the client's unified_data.json.

Every sheet is scanned for its header rows; each data row becomes a record
carrying its sheet name and row number. Numeric cells stay numbers, dates
become YYYY-MM-DD and blank cells are dropped.`,
	Args: cobra.ExactArgs(1),
	PreRunE: func(cmd *cobra.Command, args []string) error {
		return requireClient()
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", args[0], err)
		}
		fmt.Printf("%s Converting %s (%s)...\n", ui.RenderAccent("→"), filepath.Base(args[0]), humanize.Bytes(uint64(len(data))))

		out, err := rt.svc.Ingest(rt.ctx, clientID, args[0], data)
		if err != nil {
			return err
		}
		fmt.Printf("%s Wrote unified_data.json for %s\n", ui.RenderPass("✓"), clientID)
		fmt.Printf("   Records: %s\n", humanize.Comma(int64(out.TotalRecords)))
		fmt.Printf("   Columns: %d\n", out.TotalColumns)
		return nil
	},
}

var showCmd = &cobra.Command{
	Use:     "show",
	GroupID: "maint",
	Short:   "Show client documents",
}

var showMasterDataCmd = &cobra.Command{
	Use:   "master-data",
	Short: "Show master-data.json, falling back to the cache and the demo data",
	Args:  cobra.NoArgs,
	PreRunE: func(cmd *cobra.Command, args []string) error {
		return requireClient()
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		md, source, err := rt.svc.MasterData(rt.ctx, clientID)
		if err != nil {
			return err
		}
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			data, err := docstore.Marshal(md)
			if err != nil {
				return err
			}
			_, err = os.Stdout.Write(append(data, '\n'))
			return err
		}

		fmt.Printf("\n%s Master data of %s\n\n", ui.RenderAccent("📊"), clientID)
		fmt.Printf("Source: %s\n", source)
		fmt.Printf("Version: %s\n", md.Version)
		if t, err := time.Parse(time.RFC3339Nano, md.UpdatedAt); err == nil {
			fmt.Printf("Updated: %s (%s)\n", md.UpdatedAt, humanize.Time(t))
		} else {
			fmt.Printf("Updated: %s\n", md.UpdatedAt)
		}
		fmt.Printf("Issues: %d\n", len(md.Issues))
		fmt.Printf("Cycles: %d\n\n", len(md.Cycles))

		rows := make([][]string, 0, len(md.Issues))
		for _, i := range md.Issues {
			rows = append(rows, []string{i.ID, i.EntityName, i.Title, string(i.Status), i.Date})
		}
		ui.Table(os.Stdout, []string{"ID", "ENTITY", "TITLE", "STATUS", "DATE"}, rows, ui.Width()/3)
		return nil
	},
}

var seedCmd = &cobra.Command{
	Use:     "seed <file>",
	GroupID: "maint",
	Short:   "Register a client and its stores from a YAML or TOML master file",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := seed.ReadFile(args[0])
		if err != nil {
			return err
		}
		result, err := rt.svc.Seed(rt.ctx, f)
		if err != nil {
			return err
		}
		fmt.Printf("%s Registered %s (%s) with %d stores\n",
			ui.RenderPass("✓"), result.Client.ID, result.Client.Name, len(result.Entities))
		for _, e := range result.Entities {
			fmt.Printf("   %s  %s\n", e.ID, e.Name)
		}
		return nil
	},
}

var watchCmd = &cobra.Command{
	Use:     "watch",
	GroupID: "maint",
	Short:   "Rebuild aggregates whenever shards change (fs backend)",
	Long: `Watch the data directory and rebuild a client's aggregates whenever one
of its tasks.json or cycles.json files changes.

All clients are rebuilt once on start. Changes are debounced per client
(watch.debounce, default 2s). Runs in the foreground until interrupted.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		paths, ok := rt.raw.(watch.Pather)
		if !ok {
			return fmt.Errorf("watch needs the fs backend (store.backend is %q)", rt.cfg.Store.Backend)
		}
		d, err := watch.NewWithConfig(paths, rt.svc.Resolver(), callerRebuilder{rt}, &watch.Config{
			DebounceInterval: rt.cfg.Watch.Debounce,
			Logger:           rt.out.Logger("watch"),
		})
		if err != nil {
			return err
		}
		fmt.Printf("%s Watching %s (Ctrl-C to stop)\n", ui.RenderAccent("👀"), rt.cfg.Store.FS.Path)
		return d.Start(rt.ctx)
	},
}

// callerRebuilder runs daemon rebuilds as the CLI's principal.
type callerRebuilder struct{ rt *runtime }

func (c callerRebuilder) RebuildAggregate(ctx context.Context, clientID string) (aggregate.RebuildResult, error) {
	if p, ok := auth.PrincipalFrom(c.rt.ctx); ok {
		ctx = auth.WithPrincipal(ctx, p)
	}
	return c.rt.svc.RebuildAggregate(ctx, clientID)
}

var demoCmd = &cobra.Command{
	Use:     "demo",
	GroupID: "maint",
	Short:   "Work with the built-in demo client",
}

var demoInstallCmd = &cobra.Command{
	Use:   "install",
	Short: "Write the demo client, its entities and shards into the store",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := rt.svc.InstallDemo(rt.ctx, rt.repo); err != nil {
			return err
		}
		c := rt.repo.Client()
		fmt.Printf("%s Installed demo client %s (%s)\n", ui.RenderPass("✓"), c.ID, c.Name)
		fmt.Printf("   Entities: %d\n", len(rt.repo.Entities()))
		fmt.Printf("   Tasks: %d\n", len(rt.repo.Tasks()))
		fmt.Printf("   Cycles: %d\n", len(rt.repo.Cycles()))
		fmt.Printf("   Run 'pdca rebuild aggregate -c %s' to build its aggregates\n", c.ID)
		return nil
	},
}

func init() {
	showMasterDataCmd.Flags().Bool("json", false, "print the document as JSON")

	rebuildCmd.AddCommand(rebuildAggregateCmd, rebuildMasterDataCmd)
	showCmd.AddCommand(showMasterDataCmd)
	demoCmd.AddCommand(demoInstallCmd)
	rootCmd.AddCommand(rebuildCmd, ingestCmd, showCmd, seedCmd, watchCmd, demoCmd)
}
