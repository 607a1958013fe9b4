package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var psCmd = &cobra.Command{
	Use:   "ps",
	Short: "List live jobs and transformations on Carte",
	Long:  `List the jobs and transformations Carte currently runs or holds. An unreachable engine shows an empty list.`,
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		res, err := clientFromConfig().ListProcesses()
		if err != nil {
			reportError(cmd, err)
			return
		}

		render(cmd, res, func() {
			if len(res.Processes) == 0 {
				cmd.Println("No active processes")
				return
			}
			w := newTable(cmd)
			fmt.Fprintln(w, "SHORT ID\tKIND\tNAME\tSTATUS")
			for _, p := range res.Processes {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", p.ShortID, kindLabel(p.Kind), p.Name, colorizeStatus(p.Status))
			}
			w.Flush()
		})
	},
}

var stopKind string

var stopCmd = &cobra.Command{
	Use:   "stop [short_id]",
	Short: "Stop a live process by id prefix",
	Long:  `Stop the one live process whose id starts with the given prefix. A prefix that matches several processes is rejected; use a longer one.`,
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if !requireOperator(cmd) {
			return
		}

		res, err := clientFromConfig().StopProcess(args[0], stopKind)
		if err != nil {
			reportError(cmd, err)
			return
		}
		render(cmd, res, func() { cmd.Printf("🛑 %s\n", res.Message) })
	},
}

func init() {
	stopCmd.Flags().StringVar(&stopKind, "kind", "", "only match this kind: job or trans")
	rootCmd.AddCommand(psCmd)
	rootCmd.AddCommand(stopCmd)
}
