package directive

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	"todoassist/internal/domain"
)

// japaneseDate matches the 年/月/日 literal form at the start of the input only.
var japaneseDate = regexp.MustCompile(`^(\d{1,4})年(\d{1,2})月(\d{1,2})日`)

const lenientLayout = "2006-1-2"

// DateFormatError reports a date string that matches none of the accepted forms.
type DateFormatError struct {
	Raw string
}

func (e *DateFormatError) Error() string {
	return fmt.Sprintf("invalid date format: %q", e.Raw)
}

// ParseDate normalizes raw into a calendar date. Forms are tried in order and the
// first match wins: YYYY-MM-DD, 2025年1月20日, then a lenient 2025-1-20 layout.
// An empty input means "no date" and returns the zero Date without error.
func ParseDate(raw string) (domain.Date, error) {
	if raw == "" {
		return domain.Date{}, nil
	}
	if d, err := domain.ParseISO(raw); err == nil {
		return d, nil
	}
	if m := japaneseDate.FindStringSubmatch(raw); m != nil {
		year, _ := strconv.Atoi(m[1])
		month, _ := strconv.Atoi(m[2])
		day, _ := strconv.Atoi(m[3])
		if !validDate(year, month, day) {
			return domain.Date{}, &DateFormatError{Raw: raw}
		}
		return domain.NewDate(year, time.Month(month), day), nil
	}
	if t, err := time.Parse(lenientLayout, raw); err == nil {
		return domain.DateOf(t), nil
	}
	return domain.Date{}, &DateFormatError{Raw: raw}
}

func validDate(year, month, day int) bool {
	if year < 1 || month < 1 || month > 12 || day < 1 {
		return false
	}
	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	return t.Year() == year && int(t.Month()) == month && t.Day() == day
}
