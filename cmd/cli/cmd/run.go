package cmd

import (
	"kettleplane/pkg/api"

	"github.com/spf13/cobra"
)

var (
	runDirID int64
	runKind  string
)

var runCmd = &cobra.Command{
	Use:   "run [name]",
	Short: "Dispatch a job or transformation to Carte",
	Long:  `Start a job or transformation from the repository directory given by --dir. The controller tries the engine's addressing variants in order and watches the execution until it finishes.`,
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if !requireOperator(cmd) {
			return
		}

		res, err := clientFromConfig().Dispatch(api.DispatchRequest{
			Name:        args[0],
			DirectoryID: runDirID,
			Kind:        runKind,
		})
		if err != nil {
			reportError(cmd, err)
			return
		}

		render(cmd, res, func() {
			cmd.Printf("🚀 Execution started!\nID: %s\nShort ID: %s\nPath: %s\n", res.ID, res.ShortID, res.Path)
		})
	},
}

func init() {
	runCmd.Flags().Int64Var(&runDirID, "dir", -1, "directory id of the artifact")
	runCmd.Flags().StringVar(&runKind, "kind", "job", "artifact kind: job or trans")
	rootCmd.AddCommand(runCmd)
}
