package utils

import (
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"
)

// DateLayout is the ISO calendar date layout used for task dates.
const DateLayout = "2006-01-02"

// relativePattern matches relative date formats like +7d, -3d, +2w, +1m
var relativePattern = regexp.MustCompile(`^([+-])(\d+)([dwm])$`)

// timePattern matches HH:MM time-of-day strings.
var timePattern = regexp.MustCompile(`^(\d{1,2}):(\d{2})$`)

// parseRelativeDate parses relative date strings like "today", "tomorrow", "+7d", "-3d", "+2w", "+1m".
// Returns nil if the string is not a relative date format.
func parseRelativeDate(dateStr string, now time.Time) (*time.Time, error) {
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	lower := strings.ToLower(dateStr)

	switch lower {
	case "today":
		return &today, nil
	case "tomorrow":
		t := today.AddDate(0, 0, 1)
		return &t, nil
	case "yesterday":
		t := today.AddDate(0, 0, -1)
		return &t, nil
	}

	matches := relativePattern.FindStringSubmatch(lower)
	if matches == nil {
		return nil, nil
	}

	num, err := strconv.Atoi(matches[2])
	if err != nil {
		return nil, ErrInvalidDate(dateStr)
	}
	if matches[1] == "-" {
		num = -num
	}

	var result time.Time
	switch matches[3] {
	case "d":
		result = today.AddDate(0, 0, num)
	case "w":
		result = today.AddDate(0, 0, num*7)
	case "m":
		result = today.AddDate(0, num, 0)
	}

	return &result, nil
}

// ParseDateFlag parses a date string supporting both relative and absolute
// formats and returns it as YYYY-MM-DD. An empty string yields an empty
// date (undated).
func ParseDateFlag(dateStr string, now time.Time) (string, error) {
	if dateStr == "" {
		return "", nil
	}

	t, err := parseRelativeDate(dateStr, now)
	if err != nil {
		return "", err
	}
	if t != nil {
		return t.Format(DateLayout), nil
	}

	parsed, err := time.ParseInLocation(DateLayout, dateStr, now.Location())
	if err != nil {
		return "", ErrInvalidDate(dateStr)
	}
	return parsed.Format(DateLayout), nil
}

// ParseClock parses an HH:MM string into hour and minute.
func ParseClock(s string) (hour, minute int, err error) {
	m := timePattern.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return 0, 0, ErrInvalidTime(s)
	}
	hour, _ = strconv.Atoi(m[1])
	minute, _ = strconv.Atoi(m[2])
	if hour > 23 || minute > 59 {
		return 0, 0, ErrInvalidTime(s)
	}
	return hour, minute, nil
}

// NormalizeClock validates an HH:MM string and returns it zero padded.
func NormalizeClock(s string) (string, error) {
	h, m, err := ParseClock(s)
	if err != nil {
		return "", err
	}
	return time.Date(2000, 1, 1, h, m, 0, 0, time.UTC).Format("15:04"), nil
}

// Today returns now's calendar date as YYYY-MM-DD.
func Today(now time.Time) string {
	return now.Format(DateLayout)
}

var weekdayNames = map[string]int{
	"sun": 0, "mon": 1, "tue": 2, "wed": 3, "thu": 4, "fri": 5, "sat": 6,
}

// ParseWeekdays parses a comma-separated list of weekday numbers (0 =
// Sunday) or three-letter names into sorted, de-duplicated indices.
func ParseWeekdays(s string) ([]int, error) {
	seen := make(map[int]bool)
	var days []int
	for _, part := range strings.Split(s, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if part == "" {
			continue
		}
		d, ok := weekdayNames[part]
		if !ok && len(part) > 3 {
			d, ok = weekdayNames[part[:3]]
		}
		if !ok {
			n, err := strconv.Atoi(part)
			if err != nil || n < 0 || n > 6 {
				return nil, ErrInvalidWeekday(part)
			}
			d = n
		}
		if !seen[d] {
			seen[d] = true
			days = append(days, d)
		}
	}
	slices.Sort(days)
	return days, nil
}
