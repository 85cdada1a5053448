package report

import (
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var printer = message.NewPrinter(language.English)

// Sprintf formats like fmt.Sprintf with English digit grouping for
// integers ("%d" of 1000000 is "1,000,000").
func Sprintf(format string, args ...any) string {
	return printer.Sprintf(format, args...)
}

// Millis returns d in fractional milliseconds.
func Millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
