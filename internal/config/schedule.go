package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// cronParser is a standard 5-field cron expression parser (minute hour dom month dow).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ParseSchedule accepts either a Go duration ("5m", "90s") or a 5-field cron
// expression and returns a cron.Schedule for next-tick computation.
func ParseSchedule(expr string) (cron.Schedule, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, fmt.Errorf("schedule is empty")
	}

	if d, err := time.ParseDuration(expr); err == nil {
		if d <= 0 {
			return nil, fmt.Errorf("schedule duration must be positive, got %v", d)
		}
		return cron.ConstantDelaySchedule{Delay: d}, nil
	}

	sched, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("parse schedule %q: %w", expr, err)
	}
	return sched, nil
}

// ScheduleInterval approximates the schedule's cadence as a duration, taken
// from two consecutive next-fire times. Used where a plain ticker interval
// is all the loop needs.
func ScheduleInterval(sched cron.Schedule) time.Duration {
	now := time.Now()
	first := sched.Next(now)
	return sched.Next(first).Sub(first)
}
