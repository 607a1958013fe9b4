package cmd

import (
	"fmt"
	"strconv"

	"kettleplane/pkg/api"

	"github.com/spf13/cobra"
)

var treeRefresh bool

var treeCmd = &cobra.Command{
	Use:   "tree [dir_id]",
	Short: "List one directory of the repository catalog",
	Long:  `Show the subfolders, jobs and transformations of a repository directory. Without an id the root (-1) is shown. Use --refresh to reload the catalog from the repository first.`,
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		id := int64(-1)
		if len(args) == 1 {
			parsed, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				cmd.Printf("Invalid directory id %q\n", args[0])
				return
			}
			id = parsed
		}

		client := clientFromConfig()
		if treeRefresh {
			if !requireOperator(cmd) {
				return
			}
			res, err := client.RefreshCatalog()
			if err != nil {
				reportError(cmd, err)
				return
			}
			cmd.Printf("Catalog refreshed: %d directories, %d artifacts\n", res.Directories, res.Artifacts)
		}

		dir, err := client.GetDirectory(id)
		if err != nil {
			reportError(cmd, err)
			return
		}

		render(cmd, dir, func() { printDirectory(cmd, dir) })
	},
}

func printDirectory(cmd *cobra.Command, dir *api.DirectoryResponse) {
	cmd.Printf("%s%s%s %s(id %d)%s\n", colorBold, dir.Path, colorReset, colorDim, dir.ID, colorReset)

	w := newTable(cmd)
	fmt.Fprintln(w, "TYPE\tID\tNAME")
	for _, s := range dir.Subfolders {
		fmt.Fprintf(w, "DIR\t%d\t%s/\n", s.ID, s.Name)
	}
	for _, j := range dir.Jobs {
		fmt.Fprintf(w, "JOB\t-\t%s\n", j.Name)
	}
	for _, tr := range dir.Transformations {
		fmt.Fprintf(w, "TRANS\t-\t%s\n", tr.Name)
	}
	w.Flush()
}

var searchCmd = &cobra.Command{
	Use:   "search [term]",
	Short: "Find jobs and transformations by name",
	Long:  `Search every job and transformation name case-insensitively. Exact matches are listed first, then prefix matches, then substring matches.`,
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		res, err := clientFromConfig().Search(args[0])
		if err != nil {
			reportError(cmd, err)
			return
		}

		render(cmd, res, func() {
			if len(res.Results) == 0 {
				cmd.Printf("No matches for %q\n", res.Query)
				return
			}
			w := newTable(cmd)
			fmt.Fprintln(w, "KIND\tNAME\tDIR\tPATH")
			for _, r := range res.Results {
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", kindLabel(r.Kind), r.Name, r.DirectoryID, r.Path)
			}
			w.Flush()
		})
	},
}

func kindLabel(kind string) string {
	switch kind {
	case "job":
		return "JOB"
	case "trans":
		return "TRANS"
	}
	return kind
}

func init() {
	treeCmd.Flags().BoolVar(&treeRefresh, "refresh", false, "reload the catalog before listing")
	rootCmd.AddCommand(treeCmd)
	rootCmd.AddCommand(searchCmd)
}
