package utils

import (
	"fmt"
	"math"
	"strings"
)

// FormatAmount renders a monetary amount with a space as thousands separator,
// e.g. 45000 -> "45 000".
func FormatAmount(value float64, precision int) string {
	sign := ""
	if value < 0 {
		sign = "-"
		value = -value
	}
	if precision > 0 {
		pow := math.Pow10(precision)
		value = math.Round(value*pow) / pow
		s := fmt.Sprintf("%.*f", precision, value)
		parts := strings.SplitN(s, ".", 2)
		return sign + groupThousands(parts[0]) + "." + parts[1]
	}
	return sign + groupThousands(fmt.Sprintf("%d", int64(math.Round(value))))
}

// FormatSigned is like FormatAmount but with an explicit leading sign.
// Zero renders as "0".
func FormatSigned(value float64, precision int) string {
	if value == 0 {
		return "0"
	}
	sign := "+"
	if value < 0 {
		sign = "-"
	}
	return sign + FormatAmount(math.Abs(value), precision)
}

func groupThousands(s string) string {
	if len(s) <= 3 {
		return s
	}
	var b strings.Builder
	b.Grow(len(s) + len(s)/3)
	rem := len(s) % 3
	if rem == 0 {
		rem = 3
	}
	b.WriteString(s[:rem])
	for i := rem; i < len(s); i += 3 {
		b.WriteByte(' ')
		b.WriteString(s[i : i+3])
	}
	return b.String()
}
