package normalizer

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/width"
)

// rocOffset converts a Republic of China year to the Gregorian year.
const rocOffset = 1911

var (
	cjkDatePattern       = regexp.MustCompile(`(?:民國\s*)?(\d{2,4})\s*年\s*(\d{1,2})\s*月\s*(\d{1,2})\s*日?`)
	separatedDatePattern = regexp.MustCompile(`(?:^|\D)(\d{2,4})\s*[/.\-]\s*(\d{1,2})\s*[/.\-]\s*(\d{1,2})(?:\D|$)`)
	compactDatePattern   = regexp.MustCompile(`^(\d{7,8})$`)
)

// ParseDate reads the date formats found on bulletins: "111/7/11",
// "111.07.11", "民國111年7月11日", "2022-07-11", "1110711" and
// "20220711". Years below 1000 are Republic of China years. Anything that
// does not name a real calendar day yields nil.
func ParseDate(raw string) *time.Time {
	s := strings.TrimSpace(width.Narrow.String(raw))
	if s == "" {
		return nil
	}

	if m := cjkDatePattern.FindStringSubmatch(s); m != nil {
		return buildDate(m[1], m[2], m[3])
	}

	if m := separatedDatePattern.FindStringSubmatch(s); m != nil {
		return buildDate(m[1], m[2], m[3])
	}

	compact := strings.Join(strings.Fields(s), "")
	if m := compactDatePattern.FindStringSubmatch(compact); m != nil {
		digits := m[1]
		split := len(digits) - 4

		return buildDate(digits[:split], digits[split:split+2], digits[split+2:])
	}

	return nil
}

// FormatROC renders a date the way bulletins print it, e.g. "111/7/11".
func FormatROC(t time.Time) string {
	return strconv.Itoa(t.Year()-rocOffset) + "/" + strconv.Itoa(int(t.Month())) + "/" + strconv.Itoa(t.Day())
}

func buildDate(y, m, d string) *time.Time {
	year, err := strconv.Atoi(y)
	if err != nil {
		return nil
	}

	month, err := strconv.Atoi(m)
	if err != nil {
		return nil
	}

	day, err := strconv.Atoi(d)
	if err != nil {
		return nil
	}

	if year < 1000 {
		if year < 1 {
			return nil
		}

		year += rocOffset
	}

	if month < 1 || month > 12 || day < 1 || day > 31 {
		return nil
	}

	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)

	// time.Date normalizes 2/30 to 3/2
	if t.Month() != time.Month(month) || t.Day() != day {
		return nil
	}

	return &t
}
