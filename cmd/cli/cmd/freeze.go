package cmd

import (
	"kettleplane/pkg/api"

	"github.com/spf13/cobra"
)

var freezeCmd = &cobra.Command{
	Use:       "freeze [on|off]",
	Short:     "Show or switch the change freeze",
	Long:      `While frozen the controller refuses dispatch, stop, SQL edits and schedule changes. Reads keep working. Without an argument the current state is shown.`,
	Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{"on", "off"},
	Run: func(cmd *cobra.Command, args []string) {
		var (
			res *api.FreezeResponse
			err error
		)
		if len(args) == 0 {
			res, err = clientFromConfig().GetFreeze()
		} else {
			if !requireOperator(cmd) {
				return
			}
			res, err = clientFromConfig().SetFreeze(args[0] == "on")
		}
		if err != nil {
			reportError(cmd, err)
			return
		}

		render(cmd, res, func() {
			state := "🟢 Online"
			if res.Frozen {
				state = "❄️ FROZEN"
			}
			if res.ChangedBy != "" && res.ChangedAt != nil {
				cmd.Printf("%s (set by %s at %s)\n", state, res.ChangedBy, res.ChangedAt.Format("2006-01-02 15:04"))
				return
			}
			cmd.Println(state)
		})
	},
}

func init() {
	rootCmd.AddCommand(freezeCmd)
}
