package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/pdcadash/pdca/internal/schema"
	"github.com/pdcadash/pdca/internal/ui"
)

var clientCmd = &cobra.Command{
	Use:     "client",
	GroupID: "data",
	Short:   "Manage registered clients",
}

var clientAddCmd = &cobra.Command{
	Use:   "add <id> <name>",
	Short: "Register a client and create its folder",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := rt.svc.AddClient(rt.ctx, schema.Client{ID: args[0], Name: args[1]})
		if err != nil {
			return err
		}
		fmt.Printf("%s Registered client %s (%s)\n", ui.RenderPass("✓"), c.ID, c.Name)
		fmt.Printf("   Folder: %s\n", c.FolderRef())
		return nil
	},
}

var clientListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered clients",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		clients, err := rt.svc.Clients(rt.ctx)
		if err != nil {
			return err
		}
		if len(clients) == 0 {
			fmt.Printf("%s No clients registered\n", ui.RenderWarn("⚠"))
			fmt.Printf("   Run 'pdca client add' or 'pdca seed' to register one\n")
			return nil
		}
		rows := make([][]string, 0, len(clients))
		for _, c := range clients {
			rows = append(rows, []string{c.ID, c.Name, c.FolderRef(), schema.DatePortion(c.CreatedAt)})
		}
		ui.Table(os.Stdout, []string{"ID", "NAME", "FOLDER", "CREATED"}, rows, ui.Width()/3)
		return nil
	},
}

var entityCmd = &cobra.Command{
	Use:     "entity",
	GroupID: "data",
	Short:   "Manage the entities (stores, departments) of a client",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := requireClient(); err != nil {
			return err
		}
		return rootCmd.PersistentPreRunE(cmd, args)
	},
}

var entityAddCmd = &cobra.Command{
	Use:   "add <id> <name>",
	Short: "Register an entity under --client",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		order, _ := cmd.Flags().GetInt("sort-order")
		e, err := rt.svc.AddEntity(rt.ctx, clientID, schema.Entity{ID: args[0], Name: args[1], SortOrder: order})
		if err != nil {
			return err
		}
		fmt.Printf("%s Registered entity %s (%s) under %s, sort order %d\n",
			ui.RenderPass("✓"), e.ID, e.Name, clientID, e.SortOrder)
		return nil
	},
}

var entityListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the entities of --client",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		entities, err := rt.svc.Entities(rt.ctx, clientID)
		if err != nil {
			return err
		}
		rows := make([][]string, 0, len(entities))
		for _, e := range entities {
			folder := e.StorageFolderRef
			if folder == "" {
				folder = ui.RenderMuted("(not provisioned)")
			}
			rows = append(rows, []string{e.ID, e.Name, strconv.Itoa(e.SortOrder), e.StoreCode, folder})
		}
		ui.Table(os.Stdout, []string{"ID", "NAME", "ORDER", "STORE", "FOLDER"}, rows, ui.Width()/4)
		return nil
	},
}

var entityRmCmd = &cobra.Command{
	Use:   "rm <id>",
	Short: "Unregister an entity (its folder and shards are kept)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := rt.svc.RemoveEntity(rt.ctx, clientID, args[0]); err != nil {
			return err
		}
		fmt.Printf("%s Unregistered entity %s\n", ui.RenderPass("✓"), args[0])
		fmt.Printf("   Run 'pdca rebuild aggregate' to drop its tasks from the aggregates\n")
		return nil
	},
}

func init() {
	entityAddCmd.Flags().Int("sort-order", 0, "display order (default: after the existing entities)")

	clientCmd.AddCommand(clientAddCmd, clientListCmd)
	entityCmd.AddCommand(entityAddCmd, entityListCmd, entityRmCmd)
	rootCmd.AddCommand(clientCmd, entityCmd)
}
