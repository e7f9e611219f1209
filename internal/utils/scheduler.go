package utils

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/robfig/cron/v3"
)

// ConvertToJobDef turns a config interval into a gocron job definition.
// Accepted forms: a wall-clock time ("04:05", daily), a standard cron
// spec, or a Go duration ("10m", "6h").
func ConvertToJobDef(interval string) (gocron.JobDefinition, error) {
	if h, m, ok := parseClockTime(interval); ok {
		return gocron.DailyJob(1, gocron.NewAtTimes(gocron.NewAtTime(h, m, 0))), nil
	}
	if _, err := cron.ParseStandard(interval); err == nil {
		return gocron.CronJob(interval, false), nil
	}
	if dur, err := time.ParseDuration(interval); err == nil {
		return gocron.DurationJob(dur), nil
	}
	return nil, fmt.Errorf("invalid interval format: %s", interval)
}

func parseClockTime(s string) (hour, minute uint, ok bool) {
	hh, mm, found := strings.Cut(s, ":")
	if !found {
		return 0, 0, false
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 23 {
		return 0, 0, false
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 {
		return 0, 0, false
	}
	return uint(h), uint(m), true
}
