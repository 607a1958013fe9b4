package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

var sqlCmd = &cobra.Command{
	Use:   "sql",
	Short: "Read and edit TableInput SQL",
	Long:  `Inspect and change the query text of a transformation's TableInput steps. Only single read-only SELECT statements are accepted, and every edit archives the previous text.`,
}

var sqlShowCmd = &cobra.Command{
	Use:   "show [transformation]",
	Short: "Print the SQL of every TableInput step",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		steps, err := clientFromConfig().GetSql(args[0])
		if err != nil {
			reportError(cmd, err)
			return
		}

		render(cmd, steps, func() {
			for _, s := range steps {
				cmd.Printf("%s── %s ──%s\n%s\n\n", colorBold, s.Step, colorReset, s.SQL)
			}
		})
	},
}

var (
	sqlEditFile string
	sqlEditText string
)

var sqlEditCmd = &cobra.Command{
	Use:   "edit [transformation] [step]",
	Short: "Replace the SQL of one step",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		if !requireOperator(cmd) {
			return
		}

		text := sqlEditText
		if sqlEditFile != "" {
			content, err := readFile(sqlEditFile)
			if err != nil {
				cmd.Println(err)
				return
			}
			text = content
		}
		if text == "" {
			cmd.Println("Provide the new SQL with --file or --text")
			return
		}

		res, err := clientFromConfig().UpdateSql(args[0], args[1], text)
		if err != nil {
			reportError(cmd, err)
			return
		}
		render(cmd, res, func() { cmd.Printf("✅ %s\n", res.Message) })
	},
}

var sqlHistoryLimit int

var sqlHistoryCmd = &cobra.Command{
	Use:   "history [transformation] [step]",
	Short: "List archived versions of a step's SQL, newest first",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		versions, err := clientFromConfig().ListSqlVersions(args[0], args[1], sqlHistoryLimit)
		if err != nil {
			reportError(cmd, err)
			return
		}

		render(cmd, versions, func() {
			if len(versions) == 0 {
				cmd.Println("No previous versions")
				return
			}
			w := newTable(cmd)
			fmt.Fprintln(w, "ID\tCHANGED AT\tCHANGED BY\tPREVIOUS SQL")
			for _, v := range versions {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", v.ID, v.ChangedAt.Format("2006-01-02 15:04"), v.ChangedBy, oneLine(v.PreviousSQL, 60))
			}
			w.Flush()
		})
	},
}

var sqlVersionCmd = &cobra.Command{
	Use:   "version [version_id]",
	Short: "Print one archived SQL version",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			cmd.Printf("Invalid version id %q\n", args[0])
			return
		}

		v, err := clientFromConfig().GetSqlVersion(id)
		if err != nil {
			reportError(cmd, err)
			return
		}
		render(cmd, v, func() {
			cmd.Printf("%s%s / %s%s %s(version %d by %s at %s)%s\n%s\n",
				colorBold, v.Transformation, v.Step, colorReset,
				colorDim, v.ID, v.ChangedBy, v.ChangedAt.Format("2006-01-02 15:04"), colorReset,
				v.PreviousSQL)
		})
	},
}

var sqlUsageCmd = &cobra.Command{
	Use:   "usage [term]",
	Short: "Find steps whose SQL mentions a term",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		usage, err := clientFromConfig().FindSqlUsage(args[0])
		if err != nil {
			reportError(cmd, err)
			return
		}

		render(cmd, usage, func() {
			if len(usage) == 0 {
				cmd.Printf("No steps mention %q\n", args[0])
				return
			}
			w := newTable(cmd)
			fmt.Fprintln(w, "TRANSFORMATION\tSTEP\tPATH")
			for _, u := range usage {
				fmt.Fprintf(w, "%s\t%s\t%s\n", u.Transformation, u.Step, u.Path)
			}
			w.Flush()
		})
	},
}

// oneLine squeezes whitespace and truncates s to n runes.
func oneLine(s string, n int) string {
	out := []rune{}
	space := false
	for _, r := range s {
		if r == '\n' || r == '\t' || r == '\r' || r == ' ' {
			space = len(out) > 0
			continue
		}
		if space {
			out = append(out, ' ')
			space = false
		}
		out = append(out, r)
	}
	if len(out) > n {
		return string(out[:n]) + "..."
	}
	return string(out)
}

func init() {
	sqlEditCmd.Flags().StringVar(&sqlEditFile, "file", "", "read the new SQL from a file")
	sqlEditCmd.Flags().StringVar(&sqlEditText, "text", "", "the new SQL")
	sqlHistoryCmd.Flags().IntVar(&sqlHistoryLimit, "limit", 0, "how many versions to list (default 10)")

	sqlCmd.AddCommand(sqlShowCmd, sqlEditCmd, sqlHistoryCmd, sqlVersionCmd, sqlUsageCmd)
	rootCmd.AddCommand(sqlCmd)
}
