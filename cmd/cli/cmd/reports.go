package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var runsCmd = &cobra.Command{
	Use:   "runs [kind] [name]",
	Short: "Show the last runs of a job or transformation",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		res, err := clientFromConfig().ListRuns(args[0], args[1])
		if err != nil {
			reportError(cmd, err)
			return
		}

		render(cmd, res, func() {
			if len(res.Runs) == 0 {
				cmd.Printf("No runs recorded for %s\n", res.Name)
				return
			}
			w := newTable(cmd)
			fmt.Fprintln(w, "STATUS\tDATE\tUSER\tLOG")
			for _, r := range res.Runs {
				date := "-"
				if r.ReplayDate != nil {
					date = r.ReplayDate.Format("2006-01-02 15:04")
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.Status, date, r.User, oneLine(r.Log, 60))
			}
			w.Flush()
		})
	},
}

var failuresCmd = &cobra.Command{
	Use:   "failures",
	Short: "Report artifacts whose latest run in the last 24 hours failed",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		res, err := clientFromConfig().GetFailureReport()
		if err != nil {
			reportError(cmd, err)
			return
		}

		render(cmd, res, func() {
			cmd.Printf("%sRuns in the last 24h:%s %d\n", colorDim, colorReset, res.TotalRuns)
			if len(res.Failures) == 0 {
				cmd.Printf("%s✓ No failures%s\n", colorGreen, colorReset)
				return
			}
			w := newTable(cmd)
			fmt.Fprintln(w, "TIME\tKIND\tNAME\tSTATUS")
			for _, f := range res.Failures {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s%s%s\n", f.Time, f.Kind, f.Name, colorRed, f.Status, colorReset)
			}
			w.Flush()
		})
	},
}

var hintCmd = &cobra.Command{
	Use:   "hint [job]",
	Short: "Show the default schedule stored in a job's Start entry",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		res, err := clientFromConfig().GetScheduleHint(args[0])
		if err != nil {
			reportError(cmd, err)
			return
		}
		render(cmd, res, func() { cmd.Printf("%s: %s\n", args[0], res.Description) })
	},
}

var (
	auditLimit int
	auditUser  string
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "List recent operator actions",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		res, err := clientFromConfig().ListAudit(auditLimit, auditUser)
		if err != nil {
			reportError(cmd, err)
			return
		}

		render(cmd, res, func() {
			w := newTable(cmd)
			fmt.Fprintln(w, "TIME\tUSER\tACTION\tTARGET\tDETAILS")
			for _, e := range res.Entries {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", e.LoggedAt.Format("2006-01-02 15:04"), e.UserID, e.Action, e.Target, oneLine(e.Details, 50))
			}
			w.Flush()
		})
	},
}

var (
	searchesUser  string
	searchesLimit int
)

var searchesCmd = &cobra.Command{
	Use:   "searches",
	Short: "List an operator's recent catalog searches",
	Long:  "List the distinct recent search terms of an operator, newest first. Without --user the configured operator is used.",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		res, err := clientFromConfig().ListSearches(searchesUser, searchesLimit)
		if err != nil {
			reportError(cmd, err)
			return
		}

		render(cmd, res, func() {
			if len(res.Terms) == 0 {
				cmd.Printf("No searches by %s\n", res.UserID)
				return
			}
			for _, term := range res.Terms {
				cmd.Println(term)
			}
		})
	},
}

func init() {
	auditCmd.Flags().IntVar(&auditLimit, "limit", 0, "how many entries to list (default 15, or 10 with --user)")
	auditCmd.Flags().StringVar(&auditUser, "user", "", "only list this operator's actions")
	searchesCmd.Flags().StringVar(&searchesUser, "user", "", "operator whose searches to list (default: you)")
	searchesCmd.Flags().IntVar(&searchesLimit, "limit", 0, "how many terms to list (default 5)")
	rootCmd.AddCommand(runsCmd, failuresCmd, hintCmd, auditCmd, searchesCmd)
}
