package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"kettleplane/pkg/api"

	"github.com/spf13/cobra"
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Manage time-based job schedules",
	Long:  `Add, list, pause, resume, move and remove schedules. A firing more than a minute late is skipped rather than run late.`,
}

var (
	scheduleDirID    int64
	scheduleKind     string
	scheduleDaily    string
	scheduleEvery    int
	scheduleFromHint bool
)

var scheduleAddCmd = &cobra.Command{
	Use:   "add [job]",
	Short: "Schedule a job daily (--daily HH:MM), every N minutes (--every N) or as its Start entry says (--from-hint)",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if !requireOperator(cmd) {
			return
		}
		client := clientFromConfig()

		var (
			res *api.ScheduleResponse
			err error
		)
		switch {
		case scheduleFromHint:
			res, err = client.ScheduleFromHint(args[0], scheduleDirID)
		case scheduleDaily != "" && scheduleEvery == 0:
			res, err = client.PutSchedule(args[0], api.ScheduleRequest{
				DirectoryID: scheduleDirID,
				Kind:        scheduleKind,
				Trigger:     "daily " + scheduleDaily,
			})
		case scheduleEvery > 0 && scheduleDaily == "":
			res, err = client.PutSchedule(args[0], api.ScheduleRequest{
				DirectoryID: scheduleDirID,
				Kind:        scheduleKind,
				Trigger:     fmt.Sprintf("every %d minutes", scheduleEvery),
			})
		default:
			cmd.Println("Specify exactly one of --daily HH:MM, --every N or --from-hint")
			return
		}
		if err != nil {
			reportError(cmd, err)
			return
		}

		render(cmd, res, func() {
			cmd.Printf("📅 %s scheduled %s, next run %s\n", res.JobID, res.Trigger, res.NextRunLabel)
		})
	},
}

var scheduleListCmd = &cobra.Command{
	Use:     "ls",
	Aliases: []string{"list"},
	Short:   "List schedules by next run; paused ones last",
	Long:    `List every schedule. With -o yaml the output is a schedule file the worker can load with --schedules.`,
	Args:    cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		res, err := clientFromConfig().ListSchedules()
		if err != nil {
			reportError(cmd, err)
			return
		}

		render(cmd, res, func() {
			if len(res.Schedules) == 0 {
				cmd.Println("No schedules")
				return
			}
			w := newTable(cmd)
			fmt.Fprintln(w, "JOB\tKIND\tDIR\tTRIGGER\tNEXT RUN")
			for _, s := range res.Schedules {
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n", s.JobID, kindLabel(s.Kind), s.DirectoryID, s.Trigger, s.NextRunLabel)
			}
			w.Flush()
		})
	},
}

var schedulePauseCmd = &cobra.Command{
	Use:   "pause [job]",
	Short: "Suspend a schedule without forgetting its trigger",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		scheduleChange(cmd, func(c *Client) (*api.ScheduleResponse, error) { return c.PauseSchedule(args[0]) })
	},
}

var scheduleResumeCmd = &cobra.Command{
	Use:   "resume [job]",
	Short: "Reactivate a paused schedule",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		scheduleChange(cmd, func(c *Client) (*api.ScheduleResponse, error) { return c.ResumeSchedule(args[0]) })
	},
}

var scheduleRescheduleCmd = &cobra.Command{
	Use:   "reschedule [job] [HH:MM]",
	Short: "Move a schedule to a new daily time",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		hour, minute, err := parseClock(args[1])
		if err != nil {
			cmd.Println(err)
			return
		}
		scheduleChange(cmd, func(c *Client) (*api.ScheduleResponse, error) { return c.Reschedule(args[0], hour, minute) })
	},
}

var scheduleRemoveCmd = &cobra.Command{
	Use:     "rm [job]",
	Aliases: []string{"remove"},
	Short:   "Remove a schedule",
	Args:    cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if !requireOperator(cmd) {
			return
		}
		if err := clientFromConfig().DeleteSchedule(args[0]); err != nil {
			reportError(cmd, err)
			return
		}
		cmd.Printf("🗑  Schedule %s removed\n", args[0])
	},
}

func scheduleChange(cmd *cobra.Command, call func(*Client) (*api.ScheduleResponse, error)) {
	if !requireOperator(cmd) {
		return
	}
	res, err := call(clientFromConfig())
	if err != nil {
		reportError(cmd, err)
		return
	}
	render(cmd, res, func() {
		cmd.Printf("📅 %s %s, next run %s\n", res.JobID, res.Trigger, res.NextRunLabel)
	})
}

func parseClock(s string) (int, int, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid time %q (want HH:MM)", s)
	}
	hour, err1 := strconv.Atoi(parts[0])
	minute, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil {
		return 0, 0, fmt.Errorf("invalid time %q (want HH:MM)", s)
	}
	return hour, minute, nil
}

func init() {
	scheduleAddCmd.Flags().Int64Var(&scheduleDirID, "dir", -1, "directory id of the job")
	scheduleAddCmd.Flags().StringVar(&scheduleKind, "kind", "job", "artifact kind: job or trans")
	scheduleAddCmd.Flags().StringVar(&scheduleDaily, "daily", "", "run daily at HH:MM")
	scheduleAddCmd.Flags().IntVar(&scheduleEvery, "every", 0, "run every N minutes")
	scheduleAddCmd.Flags().BoolVar(&scheduleFromHint, "from-hint", false, "use the schedule stored in the job's Start entry")

	scheduleCmd.AddCommand(scheduleAddCmd, scheduleListCmd, schedulePauseCmd, scheduleResumeCmd, scheduleRescheduleCmd, scheduleRemoveCmd)
	rootCmd.AddCommand(scheduleCmd)
}
