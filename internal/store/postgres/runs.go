package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"

	"kettleplane/internal/store"
)

const (
	recentRunsLimit = 5
	runLogExcerpt   = 50
)

// RecentRuns returns the last five runs of a job or transformation from Kettle's log tables.
func (s *Store) RecentRuns(ctx context.Context, name string, isJob bool) ([]store.RunRecord, error) {
	logTable, mainTable, nameCol := "R_TRANS_LOG", "R_TRANSFORMATION", "TRANSNAME"
	if isJob {
		logTable, mainTable, nameCol = "R_JOB_LOG", "R_JOB", "JOBNAME"
	}

	query := fmt.Sprintf(`
		SELECT t.STATUS, t.REPLAYDATE, t.LOG_FIELD,
			COALESCE(main.MODIFIED_USER, main.CREATED_USER, 'NO USER')
		FROM %s t
		LEFT JOIN %s main ON t.%s = main."NAME"
		WHERE t.%s = $1
		ORDER BY t.REPLAYDATE DESC
		LIMIT $2
	`, logTable, mainTable, nameCol, nameCol)

	rows, err := s.db.QueryContext(ctx, query, name, recentRunsLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to read run history of %s: %w", name, err)
	}
	defer rows.Close()

	var runs []store.RunRecord
	for rows.Next() {
		var (
			r      store.RunRecord
			status sql.NullString
			replay sql.NullTime
			logTxt sql.NullString
		)
		if err := rows.Scan(&status, &replay, &logTxt, &r.User); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		r.Status = status.String
		if replay.Valid {
			t := replay.Time
			r.ReplayDate = &t
		}
		r.Log = excerpt(logTxt.String, runLogExcerpt)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

func excerpt(s string, n int) string {
	if s == "" {
		return ""
	}
	r := []rune(s)
	if len(r) > n {
		r = r[:n]
	}
	return string(r) + "..."
}

// FailureReport lists artifacts whose latest run in the last 24 hours did not
// end with status 'end', and counts the distinct artifacts that ran at all.
func (s *Store) FailureReport(ctx context.Context) (*store.FailureReport, error) {
	rows, err := s.db.QueryContext(ctx, `
		WITH TRANS_LOGS AS (
			SELECT TRANSNAME, STATUS, REPLAYDATE,
				ROW_NUMBER() OVER (PARTITION BY TRANSNAME ORDER BY REPLAYDATE DESC) AS rn
			FROM R_TRANS_LOG
			WHERE REPLAYDATE >= CURRENT_DATE - INTERVAL '24 HOURS'
		),
		JOB_LOGS AS (
			SELECT JOBNAME, STATUS, REPLAYDATE,
				ROW_NUMBER() OVER (PARTITION BY JOBNAME ORDER BY REPLAYDATE DESC) AS rn
			FROM R_JOB_LOG
			WHERE REPLAYDATE >= CURRENT_DATE - INTERVAL '24 HOURS'
		)
		SELECT 'Transformation', TRANSNAME, STATUS, TO_CHAR(REPLAYDATE, 'HH24:MI')
		FROM TRANS_LOGS WHERE rn = 1 AND STATUS != 'end'
		UNION ALL
		SELECT 'Job', JOBNAME, STATUS, TO_CHAR(REPLAYDATE, 'HH24:MI')
		FROM JOB_LOGS WHERE rn = 1 AND STATUS != 'end'
		ORDER BY 4 DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to read failures: %w", err)
	}
	defer rows.Close()

	report := &store.FailureReport{}
	for rows.Next() {
		var f store.Failure
		if err := rows.Scan(&f.Kind, &f.Name, &f.Status, &f.Time); err != nil {
			return nil, fmt.Errorf("failed to scan failure: %w", err)
		}
		report.Failures = append(report.Failures, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failure rows error: %w", err)
	}

	var total sql.NullInt64
	err = s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(DISTINCT TRANSNAME) FROM R_TRANS_LOG WHERE REPLAYDATE >= CURRENT_DATE - INTERVAL '24 HOURS')
			+
			(SELECT COUNT(DISTINCT JOBNAME) FROM R_JOB_LOG WHERE REPLAYDATE >= CURRENT_DATE - INTERVAL '24 HOURS')
	`).Scan(&total)
	if err != nil {
		return nil, fmt.Errorf("failed to count runs: %w", err)
	}
	report.TotalRuns = total.Int64

	return report, nil
}

// ScheduleHint reads the scheduler attributes of the job's Start entry.
// schedulerType 1 is an interval, 2 is a daily time; anything else means no schedule.
func (s *Store) ScheduleHint(ctx context.Context, jobName string) (*store.ScheduleHint, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT rjea.CODE, rjea.VALUE_STR, rjea.VALUE_NUM
		FROM R_JOBENTRY rje
		JOIN R_JOB rj ON rje.ID_JOB = rj.ID_JOB
		JOIN R_JOBENTRY_ATTRIBUTE rjea ON rje.ID_JOBENTRY = rjea.ID_JOBENTRY
		WHERE rj."NAME" = $1 AND rje."NAME" = 'Start'
	`, jobName)
	if err != nil {
		return nil, fmt.Errorf("failed to read schedule of %s: %w", jobName, err)
	}
	defer rows.Close()

	attrs := make(map[string]int)
	for rows.Next() {
		var (
			code string
			str  sql.NullString
			num  sql.NullFloat64
		)
		if err := rows.Scan(&code, &str, &num); err != nil {
			return nil, fmt.Errorf("failed to scan schedule attribute: %w", err)
		}
		switch {
		case num.Valid:
			attrs[code] = int(num.Float64)
		case str.Valid:
			if n, err := strconv.Atoi(str.String); err == nil {
				attrs[code] = n
			}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("schedule attribute rows error: %w", err)
	}

	return hintFromAttributes(attrs), nil
}

func hintFromAttributes(attrs map[string]int) *store.ScheduleHint {
	get := func(key string, def int) int {
		if v, ok := attrs[key]; ok {
			return v
		}
		return def
	}

	switch get("schedulerType", 0) {
	case 1:
		m := get("intervalMinutes", 0)
		return &store.ScheduleHint{
			Type:            store.ScheduleHintInterval,
			Description:     fmt.Sprintf("Every %dm", m),
			IntervalMinutes: m,
		}
	case 2:
		h, m := get("hour", 12), get("minutes", 0)
		return &store.ScheduleHint{
			Type:        store.ScheduleHintDaily,
			Description: fmt.Sprintf("Daily %02d:%02d", h, m),
			Hour:        h,
			Minute:      m,
		}
	}
	return &store.ScheduleHint{Type: store.ScheduleHintNone, Description: "No Schedule"}
}
