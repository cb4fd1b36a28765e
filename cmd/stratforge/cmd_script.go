package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/user/stratforge/internal/state"
	"github.com/user/stratforge/internal/types"
)

func init() {
	rootCmd.AddCommand(scriptCmd)
	scriptCmd.AddCommand(scriptListCmd, scriptShowCmd)
}

func scriptStore() *state.ScriptStore {
	cfg := loadConfig()
	return state.NewScriptStore(cfg.DataDir)
}

var scriptCmd = &cobra.Command{
	Use:   "script",
	Short: "Manage saved scripts",
}

var scriptListCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved scripts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		metas, err := scriptStore().List()
		if err != nil {
			return fmt.Errorf("list scripts: %w", err)
		}
		if len(metas) == 0 {
			fmt.Println("No scripts saved.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tCREATED\tSCORE\tPROMPT")
		for _, m := range metas {
			fmt.Fprintf(w, "%s\t%s\t%.0f\t%s\n",
				m.ID,
				m.CreatedAt.Format("2006-01-02 15:04"),
				m.QualityScore,
				truncate(m.Prompt, 60),
			)
		}
		return w.Flush()
	},
}

var scriptShowCmd = &cobra.Command{
	Use:   "show <script-id>",
	Short: "Print a saved script",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		code, _, err := scriptStore().Get(types.ScriptID(args[0]))
		if err != nil {
			return fmt.Errorf("load script: %w", err)
		}
		fmt.Println(code)
		return nil
	},
}
