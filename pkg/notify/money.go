package notify

import (
	"math"

	"golang.org/x/text/currency"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

// FormatMoney renders minor units of code in the printer's locale,
// e.g. 5990 BRL as "R$ 59,90" for pt-BR. An unknown code falls back to
// the code itself with two decimals.
func FormatMoney(p *message.Printer, minor int64, code string) string {
	unit, err := currency.ParseISO(code)
	if err != nil {
		return p.Sprintf("%s %v", code, number.Decimal(float64(minor)/100, number.Scale(2)))
	}
	scale, _ := currency.Standard.Rounding(unit)
	value := float64(minor) / math.Pow10(scale)
	return p.Sprintf("%v %v", currency.Symbol(unit), number.Decimal(value, number.Scale(scale)))
}
