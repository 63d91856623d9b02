package extraction

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"finledger/internal/core"
)

var numericDate = regexp.MustCompile(`^(\d{1,2})[/.\-](\d{1,2})[/.\-](\d{2}|\d{4})$`)

// textLayouts are tried in order after numeric forms fail. Month names are
// matched case-insensitively by time.Parse.
var textLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"2006/01/02",
	"2006.01.02",
	"20060102",
	"2 Jan 2006",
	"2 January 2006",
	"2-Jan-2006",
	"2-Jan-06",
	"Jan 2, 2006",
	"January 2, 2006",
	"Jan 2 2006",
	"January 2 2006",
	"Mon, 2 Jan 2006",
	"Monday, 2 January 2006",
	"Monday, January 2, 2006",
}

// localMonths maps Indonesian and Italian month names and abbreviations to
// English so the standard layouts can parse them.
var localMonths = strings.NewReplacer(
	"Januari", "January", "Februari", "February", "Maret", "March",
	"Mei", "May", "Juni", "June", "Juli", "July", "Agustus", "August",
	"Oktober", "October", "Desember", "December",
	"gennaio", "January", "febbraio", "February", "marzo", "March",
	"aprile", "April", "maggio", "May", "giugno", "June", "luglio", "July",
	"settembre", "September", "ottobre", "October", "novembre", "November",
	"dicembre", "December",
	"Ags", "Aug", "Okt", "Oct", "Des", "Dec",
)

// parseDate reads a calendar date from a tolerant string. dayFirst decides
// ambiguous numeric forms like 03/04/2025; unambiguous ones (13/04/2025)
// are resolved regardless.
func parseDate(raw string, dayFirst bool) (core.Date, bool) {
	s := strings.Join(strings.Fields(raw), " ")
	if s == "" {
		return core.Date{}, false
	}

	if m := numericDate.FindStringSubmatch(s); m != nil {
		return numericDMY(m[1], m[2], m[3], dayFirst)
	}

	s = localMonths.Replace(s)
	s = strings.TrimSuffix(s, ".")
	for _, layout := range textLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return core.DateOf(t), true
		}
	}
	return core.Date{}, false
}

func numericDMY(a, b, y string, dayFirst bool) (core.Date, bool) {
	first, _ := strconv.Atoi(a)
	second, _ := strconv.Atoi(b)
	year, _ := strconv.Atoi(y)
	if len(y) == 2 {
		year += 2000
	}

	day, month := first, second
	switch {
	case first > 12 && second <= 12:
		day, month = first, second
	case second > 12 && first <= 12:
		day, month = second, first
	case !dayFirst:
		day, month = second, first
	}

	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	// time.Date normalizes overflow (Feb 30 -> Mar 2); reject that.
	if t.Day() != day || int(t.Month()) != month || t.Year() != year {
		return core.Date{}, false
	}
	return core.Date{Time: t}, true
}
