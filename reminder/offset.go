package reminder

import (
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// =============================================================================
// OFFSET UNITS
// =============================================================================

// OffsetUnit is the unit of a trigger offset.
type OffsetUnit string

const (
	UnitMinutes OffsetUnit = "minutes"
	UnitHours   OffsetUnit = "hours"
	UnitDays    OffsetUnit = "days"
)

// Valid reports whether the unit is one the engine knows how to convert.
func (u OffsetUnit) Valid() bool {
	_, ok := unitFactors[u]
	return ok
}

// MaxOffsetMinutes is the largest offset a time.Duration can hold.
const MaxOffsetMinutes = math.MaxInt64 / int64(time.Minute)

var unitFactors = map[OffsetUnit]int64{
	UnitMinutes: 1,
	UnitHours:   60,
	UnitDays:    1440,
}

var unitNouns = map[OffsetUnit][2]string{
	UnitMinutes: {"minute", "minutes"},
	UnitHours:   {"hour", "hours"},
	UnitDays:    {"day", "days"},
}

// =============================================================================
// CONVERSION
// =============================================================================

// ToMinutes converts an offset to whole minutes: max(0, round(amount*factor)).
//
// Unknown units, NaN and infinite amounts convert to 0 so a malformed
// trigger degrades to "fires at start" instead of poisoning the booking.
// Offsets beyond MaxOffsetMinutes saturate.
func ToMinutes(amount float64, unit OffsetUnit) int64 {
	factor, ok := unitFactors[unit]
	if !ok || math.IsNaN(amount) || math.IsInf(amount, 0) {
		return 0
	}
	minutes := decimal.NewFromFloat(amount).Mul(decimal.NewFromInt(factor)).Round(0)
	if minutes.IsNegative() {
		return 0
	}
	if minutes.GreaterThan(decimal.NewFromInt(MaxOffsetMinutes)) {
		return MaxOffsetMinutes
	}
	return minutes.IntPart()
}

var labelPrinter = message.NewPrinter(language.English)

// OffsetLabel renders an offset for display, e.g. "30 minutes", "1 day",
// "1,440 minutes".
func OffsetLabel(amount float64, unit OffsetUnit) string {
	n := int64(0)
	if !math.IsNaN(amount) && !math.IsInf(amount, 0) {
		n = decimal.NewFromFloat(amount).Round(0).IntPart()
	}
	nouns, ok := unitNouns[unit]
	noun := string(unit)
	if ok {
		noun = nouns[1]
		if n == 1 || n == -1 {
			noun = nouns[0]
		}
	}
	return labelPrinter.Sprintf("%d %s", n, noun)
}

func trimmed(s string) string {
	return strings.TrimSpace(s)
}
