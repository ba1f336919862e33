// File: cmd/categories.go
package cmd

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/wyatt727/BSTI/api/schemas"
	"github.com/wyatt727/BSTI/internal/categories"
	"github.com/wyatt727/BSTI/internal/config"
	"github.com/wyatt727/BSTI/internal/observability"
	"github.com/wyatt727/BSTI/internal/session"
)

const sessionHelp = `Commands:
  add <category> <check_id>     stage a membership addition
  remove <category> <check_id>  stage a membership removal
  view                          show pending operations and their effect
  simulate <file>...            preview classification with pending ops applied
  write                         persist pending operations to the map file
  discard                       drop pending operations
  quit                          leave the session (pending ops are discarded)`

// newCategoriesCmd manages the category map. Without a subcommand it opens an
// interactive session; view and simulate also exist as one-shot read-only
// subcommands.
func newCategoriesCmd() *cobra.Command {
	categoriesCmd := &cobra.Command{
		Use:   "categories",
		Short: "Manage the category map interactively",
		Long: `Categories opens an interactive session against the category map. Changes
stay pending until an explicit write, so a session can be previewed with
simulate and abandoned with discard. The upload pipeline only ever reads the
committed map.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFromCommand(cmd)
			if err != nil {
				return err
			}
			logger := observability.GetLogger()
			store := categories.NewStore(cfg.Pipeline.CategoryMap, logger)
			manager := session.NewManager(store, logger)
			return runSessionShell(cmd, manager, store, cfg)
		},
	}

	categoriesCmd.Flags().String("category-map", "N2P_config.json", "Category map file. (Overrides config/env)")

	categoriesCmd.AddCommand(newCategoriesViewCmd())
	categoriesCmd.AddCommand(newCategoriesSimulateCmd())
	return categoriesCmd
}

// runSessionShell drives the interactive session loop. The command's input
// and output streams are used directly so tests can script a session.
func runSessionShell(cmd *cobra.Command, manager *session.Manager, store *categories.Store, cfg *config.Config) error {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Category map session %s on %s\n", manager.ID(), store.Path())
	fmt.Fprintln(out, "Type help for commands; quit to leave.")

	scanner := bufio.NewScanner(cmd.InOrStdin())
	for {
		fmt.Fprint(out, "n2p> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		fields := strings.Fields(line)
		command, args := fields[0], fields[1:]

		switch command {
		case "quit", "exit":
			if n := manager.Discard(); n > 0 {
				fmt.Fprintf(out, "Discarded %d pending operation(s).\n", n)
			}
			return scanner.Err()

		case "help":
			fmt.Fprintln(out, sessionHelp)

		case "add", "remove":
			if len(args) != 2 {
				fmt.Fprintf(out, "Usage: %s <category> <check_id>\n", command)
				continue
			}
			var err error
			if command == "add" {
				err = manager.Add(args[0], args[1])
			} else {
				err = manager.Remove(args[0], args[1])
			}
			if err != nil {
				fmt.Fprintf(out, "Error: %v\n", err)
				continue
			}
			fmt.Fprintf(out, "Staged: %s %s %s\n", command, args[0], args[1])

		case "view":
			view, err := manager.View()
			if err != nil {
				fmt.Fprintf(out, "Error: %v\n", err)
				continue
			}
			renderSessionView(out, view)

		case "simulate":
			if len(args) == 0 {
				fmt.Fprintln(out, "Usage: simulate <file>...")
				continue
			}
			sim, err := manager.Simulate(cmd.Context(), schemas.ScopeInternal, cfg.SeverityFloor(), args...)
			if err != nil {
				fmt.Fprintf(out, "Error: %v\n", err)
				continue
			}
			renderSimulation(out, sim)

		case "write":
			pending := len(manager.Pending())
			if err := manager.Write(); err != nil {
				fmt.Fprintf(out, "Error: %v\n", err)
				continue
			}
			if pending == 0 {
				fmt.Fprintln(out, "Nothing pending.")
				continue
			}
			fmt.Fprintf(out, "Wrote %d operation(s) to %s.\n", pending, store.Path())

		case "discard":
			n := manager.Discard()
			fmt.Fprintf(out, "Discarded %d pending operation(s).\n", n)

		default:
			fmt.Fprintf(out, "Unknown command %q; try help.\n", command)
		}
	}
	return scanner.Err()
}

// renderSessionView prints the pending operations and the membership of every
// category they touch.
func renderSessionView(w io.Writer, view *session.View) {
	if view.State == session.StateClean {
		fmt.Fprintln(w, "State: clean, nothing pending.")
		return
	}
	fmt.Fprintf(w, "State: pending, %d operation(s):\n", len(view.Pending))
	for _, op := range view.Pending {
		fmt.Fprintf(w, "  %s\n", op)
	}
	if len(view.Categories) > 0 {
		fmt.Fprintln(w, "Resulting membership:")
		for _, cat := range view.Categories {
			fmt.Fprintf(w, "  %s (%d): %s\n", cat.Name, len(cat.CheckIDs), strings.Join(cat.CheckIDs, ", "))
		}
	}
}

// renderSimulation prints a classification preview.
func renderSimulation(w io.Writer, sim *session.Simulation) {
	fmt.Fprintf(w, "Simulated %d file(s): %d findings would consolidate into %d flaw(s).\n",
		len(sim.Files), sim.Findings, sim.Flaws)
	for _, count := range sim.PerCategory {
		fmt.Fprintf(w, "  %-40s %d\n", count.Category, count.Findings)
	}
	fmt.Fprintf(w, "Uncategorized findings: %d\n", sim.Uncategorized)

	if len(sim.Suggestions) > 0 {
		fmt.Fprintln(w, "Suggestions (keyword matches, not applied):")
		for _, s := range sim.Suggestions {
			fmt.Fprintf(w, "  add %s %s   # %q matched: %s\n", s.Category, s.CheckID, s.Title, s.Matched)
		}
	}
	if len(sim.RowErrors) > 0 {
		fmt.Fprintf(w, "Skipped rows (%d):\n", len(sim.RowErrors))
		for _, re := range sim.RowErrors {
			fmt.Fprintf(w, "  %s\n", re.Error())
		}
	}
	for _, warning := range sim.Warnings {
		fmt.Fprintf(w, "Warning: %s\n", warning.String())
	}
}

// newCategoriesViewCmd prints the persisted map without opening a session.
func newCategoriesViewCmd() *cobra.Command {
	viewCmd := &cobra.Command{
		Use:   "view",
		Short: "Print the persisted category map",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFromCommand(cmd)
			if err != nil {
				return err
			}
			store := categories.NewStore(cfg.Pipeline.CategoryMap, observability.GetLogger())
			catMap, err := store.Load()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Category map %s, %d categories:\n", store.Path(), len(catMap.Categories))
			for i := range catMap.Categories {
				cat := &catMap.Categories[i]
				fmt.Fprintf(out, "  %s (%d): %s\n",
					cat.Name, len(cat.MemberCheckIDs), strings.Join(cat.MemberCheckIDs, ", "))
			}
			return nil
		},
	}

	viewCmd.Flags().String("category-map", "N2P_config.json", "Category map file. (Overrides config/env)")
	return viewCmd
}

// newCategoriesSimulateCmd previews classification of export files against
// the persisted map without a session and without uploading anything.
func newCategoriesSimulateCmd() *cobra.Command {
	simulateCmd := &cobra.Command{
		Use:   "simulate <file>...",
		Short: "Preview how export files would classify",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFromCommand(cmd)
			if err != nil {
				return err
			}
			scopeValue, _ := cmd.Flags().GetString("scope")
			scope, err := schemas.ParseScope(scopeValue)
			if err != nil {
				return err
			}

			logger := observability.GetLogger()
			store := categories.NewStore(cfg.Pipeline.CategoryMap, logger)
			manager := session.NewManager(store, logger)

			sim, err := manager.Simulate(cmd.Context(), scope, cfg.SeverityFloor(), args...)
			if err != nil {
				return err
			}
			renderSimulation(cmd.OutOrStdout(), sim)
			return nil
		},
	}

	simulateCmd.Flags().StringP("scope", "s", "internal", "Assessment scope for the preview.")
	simulateCmd.Flags().String("category-map", "N2P_config.json", "Category map file. (Overrides config/env)")
	simulateCmd.Flags().String("severity-floor", "low", "Drop findings below this severity. (Overrides config/env)")
	return simulateCmd
}
