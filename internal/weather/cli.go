package weather

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// CLIReport is the parsed form of an NWS daily climate report. LowF is nil
// when the MINIMUM field is missing or marked M.
type CLIReport struct {
	StationID  string
	ReportDate time.Time
	HighF      float64
	LowF       *float64
	RawText    string
}

var (
	cliParenStation  = regexp.MustCompile(`\(([A-Z]{4})\)`)
	cliProductLine   = regexp.MustCompile(`(?m)^CLI([A-Z]{3})\b`)
	cliClimateReport = regexp.MustCompile(`CLIMATE REPORT[\s\S]*?\(([A-Z]{3,4})\)`)

	cliSlashDate = regexp.MustCompile(`\b(\d{1,2})/(\d{1,2})/(\d{4})\b`)
	cliWordDate  = regexp.MustCompile(`\b(JANUARY|FEBRUARY|MARCH|APRIL|MAY|JUNE|JULY|AUGUST|SEPTEMBER|OCTOBER|NOVEMBER|DECEMBER)\s+(\d{1,2})\s+(\d{4})\b`)

	// Token grammar for observed values: optional minus, 1-3 digits, or
	// the literal M for missing.
	cliValueToken = regexp.MustCompile(`^(-?\d{1,3}|M)$`)
)

var cliMonths = map[string]time.Month{
	"JANUARY": time.January, "FEBRUARY": time.February, "MARCH": time.March,
	"APRIL": time.April, "MAY": time.May, "JUNE": time.June,
	"JULY": time.July, "AUGUST": time.August, "SEPTEMBER": time.September,
	"OCTOBER": time.October, "NOVEMBER": time.November, "DECEMBER": time.December,
}

// ParseCLI parses the plain-text NWS daily climate report. The MAXIMUM
// line's first numeric token is yesterday's observed high; the second
// column is the historical record and must be ignored. A required field
// valued M fails; a missing MINIMUM yields a nil low.
func ParseCLI(text string) (*CLIReport, error) {
	if strings.TrimSpace(text) == "" {
		return nil, parseErrorf(SourceCLI, "empty report text")
	}
	upper := strings.ToUpper(text)

	report := &CLIReport{RawText: text}

	station, err := cliStationID(upper)
	if err != nil {
		return nil, err
	}
	report.StationID = station

	date, err := cliReportDate(upper)
	if err != nil {
		return nil, err
	}
	report.ReportDate = date

	section, err := cliTemperatureSection(upper)
	if err != nil {
		return nil, err
	}

	high, err := cliObservedValue(section, "MAXIMUM", true)
	if err != nil {
		return nil, err
	}
	report.HighF = *high

	low, err := cliObservedValue(section, "MINIMUM", false)
	if err != nil {
		return nil, err
	}
	report.LowF = low

	return report, nil
}

func cliStationID(text string) (string, error) {
	if m := cliParenStation.FindStringSubmatch(text); m != nil {
		return m[1], nil
	}
	// Product-line prefix CLIMDW promotes to KMDW.
	if m := cliProductLine.FindStringSubmatch(text); m != nil {
		return "K" + m[1], nil
	}
	if m := cliClimateReport.FindStringSubmatch(text); m != nil {
		id := m[1]
		if len(id) == 3 {
			id = "K" + id
		}
		return id, nil
	}
	return "", parseErrorf(SourceCLI, "no station identifier")
}

func cliReportDate(text string) (time.Time, error) {
	if m := cliSlashDate.FindStringSubmatch(text); m != nil {
		month, _ := strconv.Atoi(m[1])
		day, _ := strconv.Atoi(m[2])
		year, _ := strconv.Atoi(m[3])
		if month >= 1 && month <= 12 && day >= 1 && day <= 31 {
			return time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC), nil
		}
	}
	if m := cliWordDate.FindStringSubmatch(text); m != nil {
		day, _ := strconv.Atoi(m[2])
		year, _ := strconv.Atoi(m[3])
		return time.Date(year, cliMonths[m[1]], day, 0, 0, 0, 0, time.UTC), nil
	}
	return time.Time{}, parseErrorf(SourceCLI, "no report date")
}

// cliTemperatureSection isolates the TEMPERATURE block, delimited by a
// blank line, the PRECIPITATION/HEATING/COOLING headers, or end of text.
func cliTemperatureSection(text string) (string, error) {
	idx := strings.Index(text, "TEMPERATURE")
	if idx < 0 {
		return "", parseErrorf(SourceCLI, "no TEMPERATURE section")
	}
	section := text[idx:]

	end := len(section)
	for _, delim := range []string{"\n\n", "PRECIPITATION", "HEATING", "COOLING"} {
		if i := strings.Index(section[len("TEMPERATURE"):], delim); i >= 0 {
			if cut := i + len("TEMPERATURE"); cut < end {
				end = cut
			}
		}
	}
	return section[:end], nil
}

// cliObservedValue finds the line beginning with label and returns its
// first value token. Required fields valued M fail; optional ones return
// nil.
func cliObservedValue(section, label string, required bool) (*float64, error) {
	for _, line := range strings.Split(section, "\n") {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, label) {
			continue
		}
		fields := strings.Fields(trimmed)
		for _, f := range fields[1:] {
			if !cliValueToken.MatchString(f) {
				continue
			}
			if f == "M" {
				if required {
					return nil, parseErrorf(SourceCLI, "%s is missing (M)", label)
				}
				return nil, nil
			}
			v, err := strconv.ParseFloat(f, 64)
			if err != nil {
				return nil, parseErrorf(SourceCLI, "bad %s token %q", label, f)
			}
			return &v, nil
		}
		return nil, parseErrorf(SourceCLI, "%s line has no value", label)
	}
	if required {
		return nil, parseErrorf(SourceCLI, "no %s line", label)
	}
	return nil, nil
}
