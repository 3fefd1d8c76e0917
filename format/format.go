// Package format renders sizes and counts for the command line.
package format

import "fmt"

const (
	Thousand = 1000
	Million  = Thousand * 1000
	Billion  = Million * 1000
	Trillion = Billion * 1000
)

// HumanNumber abbreviates n, e.g. 600M or 1.72B parameters.
func HumanNumber(n uint64) string {
	switch {
	case n >= Trillion:
		return decimalPlace(float64(n)/Trillion) + "T"
	case n >= Billion:
		return decimalPlace(float64(n)/Billion) + "B"
	case n >= Million:
		return decimalPlace(float64(n)/Million) + "M"
	case n >= Thousand:
		return decimalPlace(float64(n)/Thousand) + "K"
	default:
		return fmt.Sprintf("%d", n)
	}
}

func decimalPlace(number float64) string {
	switch {
	case number == float64(int64(number)):
		return fmt.Sprintf("%d", int64(number))
	case number >= 100:
		return fmt.Sprintf("%.0f", number)
	case number >= 10:
		return fmt.Sprintf("%.1f", number)
	default:
		return fmt.Sprintf("%.2f", number)
	}
}
