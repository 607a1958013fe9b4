package worker

import (
	"fmt"
	"os"

	"kettleplane/internal/runnable"
	"kettleplane/internal/schedule"
	"kettleplane/pkg/api"

	"gopkg.in/yaml.v3"
)

// ScheduleTarget receives entries read from a schedule file.
type ScheduleTarget interface {
	Upsert(jobID string, b schedule.Binding, t schedule.Trigger) (schedule.Entry, error)
	Pause(jobID string) (schedule.Entry, error)
}

// LoadSchedules reads a schedule file in the format `kettlectl schedule ls -o yaml`
// writes and installs every entry into target. Paused entries stay paused.
// It returns the number of entries installed.
func LoadSchedules(path string, target ScheduleTarget) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read schedule file: %w", err)
	}

	var file api.ScheduleListResponse
	if err := yaml.Unmarshal(data, &file); err != nil {
		return 0, fmt.Errorf("failed to parse schedule file %s: %w", path, err)
	}

	for i, s := range file.Schedules {
		kind := runnable.Job
		if s.Kind != "" {
			if kind, err = runnable.Parse(s.Kind); err != nil {
				return i, fmt.Errorf("schedule %s: %w", s.JobID, err)
			}
		}
		trigger, err := schedule.ParseTrigger(s.Trigger)
		if err != nil {
			return i, fmt.Errorf("schedule %s: %w", s.JobID, err)
		}
		if _, err := target.Upsert(s.JobID, schedule.Binding{DirectoryID: s.DirectoryID, Kind: kind}, trigger); err != nil {
			return i, fmt.Errorf("schedule %s: %w", s.JobID, err)
		}
		if s.Paused {
			if _, err := target.Pause(s.JobID); err != nil {
				return i, fmt.Errorf("schedule %s: %w", s.JobID, err)
			}
		}
	}
	return len(file.Schedules), nil
}
