package cmd

import (
	"kettleplane/pkg/api"

	"github.com/spf13/cobra"
)

var (
	statusName string
	statusKind string
)

var statusCmd = &cobra.Command{
	Use:   "status [execution_id]",
	Short: "Get status of an execution",
	Long:  `Read the current Carte status of an execution (Running, Finished, Finished (with errors), Stopped, ...). The log is shown when the engine reports one.`,
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if statusName == "" {
			cmd.Println("The --name flag is required")
			return
		}

		st, err := clientFromConfig().GetStatus(args[0], statusName, statusKind)
		if err != nil {
			reportError(cmd, err)
			return
		}

		render(cmd, st, func() { printStatus(cmd, *st) })
	},
}

func printStatus(cmd *cobra.Command, st api.StatusResponse) {
	// Header with status icon
	icon := statusIcon(st.Status)
	cmd.Printf("%s %sExecution Details%s\n", icon, colorBold, colorReset)
	cmd.Println("──────────────────────────────")

	cmd.Printf("%sID:%s          %s\n", colorDim, colorReset, st.ID)
	cmd.Printf("%sName:%s        %s\n", colorDim, colorReset, st.Name)
	cmd.Printf("%sKind:%s        %s\n", colorDim, colorReset, kindLabel(st.Kind))
	cmd.Printf("%sStatus:%s      %s\n", colorDim, colorReset, colorizeStatus(st.Status))

	if st.Detail != "" {
		cmd.Printf("%sLog:%s\n%s\n", colorDim, colorReset, st.Detail)
	}
}

// ANSI color codes
const (
	colorReset  = "\033[0m"
	colorBold   = "\033[1m"
	colorDim    = "\033[2m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
)

func statusColor(status string) string {
	switch status {
	case "Finished":
		return colorGreen
	case "Finished (with errors)", "Stopped", "Stopped (with errors)":
		return colorRed
	case "Running", "Initializing", "Preparing executing":
		return colorYellow
	case "Waiting", "Paused":
		return colorCyan
	}
	return ""
}

func statusIcon(status string) string {
	switch statusColor(status) {
	case colorGreen:
		return colorGreen + "✓" + colorReset
	case colorRed:
		return colorRed + "✗" + colorReset
	case colorYellow:
		return colorYellow + "⏳" + colorReset
	case colorCyan:
		return colorCyan + "◯" + colorReset
	default:
		return "•"
	}
}

func colorizeStatus(status string) string {
	c := statusColor(status)
	if c == "" {
		return status
	}
	return statusIcon(status) + " " + c + status + colorReset
}

func init() {
	statusCmd.Flags().StringVar(&statusName, "name", "", "artifact name the execution belongs to")
	statusCmd.Flags().StringVar(&statusKind, "kind", "job", "artifact kind: job or trans")
	rootCmd.AddCommand(statusCmd)
}
