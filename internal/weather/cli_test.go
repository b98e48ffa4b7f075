package weather

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleCLI = `
000
CDUS41 KOKX 181200
CLINYC

CLIMATE REPORT
NATIONAL WEATHER SERVICE NEW YORK, NY
700 AM EST WED FEB 18 2026

...................................

...THE CENTRAL PARK NY CLIMATE SUMMARY FOR FEBRUARY 17 2026...

CLIMATE NORMAL RECORD YEAR NORMAL RECORD YEAR
(KNYC)

WEATHER ITEM   OBSERVED TIME   RECORD YEAR NORMAL DEPARTURE LAST
                VALUE   (LST)  VALUE       VALUE FROM      YEAR
                                                 NORMAL
...................................................................
TEMPERATURE (F)
 YESTERDAY
  MAXIMUM         54   239 PM  72    1999  42     12       38
  MINIMUM         31   614 AM  -2    1979  29      2       30
  AVERAGE         43                       36      7       34

PRECIPITATION (IN)
  YESTERDAY        0.00          1.98 1902  0.11  -0.11     0.00
`

func TestParseCLICanonicalSample(t *testing.T) {
	report, err := ParseCLI(sampleCLI)
	require.NoError(t, err)

	// Must take the first column (observed), never the record 72.
	assert.Equal(t, 54.0, report.HighF)
	require.NotNil(t, report.LowF)
	assert.Equal(t, 31.0, *report.LowF)
	assert.Equal(t, "KNYC", report.StationID)
	assert.Equal(t, time.Date(2026, 2, 17, 0, 0, 0, 0, time.UTC), report.ReportDate)
}

func TestParseCLIStationFromProductLine(t *testing.T) {
	text := `CLIMDW

CLIMATE REPORT
MARCH 3 2026

TEMPERATURE (F)
  MAXIMUM         41   300 PM
  MINIMUM         28   500 AM
`
	report, err := ParseCLI(text)
	require.NoError(t, err)
	assert.Equal(t, "KMDW", report.StationID)
	assert.Equal(t, 41.0, report.HighF)
}

func TestParseCLISlashDate(t *testing.T) {
	text := `(KMIA)
CLIMATE REPORT FOR 02/17/2026

TEMPERATURE (F)
  MAXIMUM         84   210 PM
  MINIMUM         71   700 AM
`
	report, err := ParseCLI(text)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 2, 17, 0, 0, 0, 0, time.UTC), report.ReportDate)
}

func TestParseCLIMissingMaximumFails(t *testing.T) {
	text := `(KMDW)
CLIMATE REPORT FOR 02/17/2026

TEMPERATURE (F)
  MAXIMUM          M   72 (1999)
  MINIMUM         28   500 AM
`
	_, err := ParseCLI(text)
	require.Error(t, err)

	var pe *ParseError
	assert.ErrorAs(t, err, &pe)
}

func TestParseCLIMissingMinimumIsNil(t *testing.T) {
	text := `(KAUS)
CLIMATE REPORT FOR 02/17/2026

TEMPERATURE (F)
  MAXIMUM         74   400 PM
  MINIMUM          M
`
	report, err := ParseCLI(text)
	require.NoError(t, err)
	assert.Equal(t, 74.0, report.HighF)
	assert.Nil(t, report.LowF)
}

func TestParseCLINegativeHigh(t *testing.T) {
	text := `(KMDW)
CLIMATE REPORT FOR 01/20/2026

TEMPERATURE (F)
  MAXIMUM         -4   300 PM
  MINIMUM        -15   700 AM
`
	report, err := ParseCLI(text)
	require.NoError(t, err)
	assert.Equal(t, -4.0, report.HighF)
	require.NotNil(t, report.LowF)
	assert.Equal(t, -15.0, *report.LowF)
}

func TestParseCLIEmptyInput(t *testing.T) {
	_, err := ParseCLI("   \n\t ")
	assert.Error(t, err)
}

func TestParseCLINoTemperatureSection(t *testing.T) {
	_, err := ParseCLI("(KNYC)\nCLIMATE REPORT FOR 02/17/2026\n\nPRECIPITATION (IN)\n YESTERDAY 0.00")
	assert.Error(t, err)
}
