package currency

import (
	"math"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var symbols = map[string]string{
	"USD": "$",
	"EUR": "€",
	"GBP": "£",
	"JPY": "¥",
	"CNY": "CN¥",
	"INR": "₹",
	"KRW": "₩",
	"CAD": "CA$",
	"AUD": "A$",
	"NZD": "NZ$",
	"SGD": "S$",
	"CHF": "CHF ",
	"SEK": "kr ",
	"BRL": "R$",
	"MXN": "MX$",
}

var printer = message.NewPrinter(language.English)

// Format は金額を整数に丸め、3桁区切りで通貨記号付きの文字列にする。
// 記号が未登録の通貨は"CODE "を接頭辞にする。
//
//	Format(1234.5, "USD") == "$1,235"
//	Format(5000, "ZAR")   == "ZAR 5,000"
func Format(amount float64, code string) string {
	code = NormalizeCode(code)
	symbol, ok := symbols[code]
	if !ok {
		symbol = code + " "
	}

	// int64の範囲を超える金額も浮動小数のまま整形する
	rounded := math.Round(amount)
	if rounded < 0 {
		return "-" + symbol + printer.Sprintf("%.0f", -rounded)
	}
	return symbol + printer.Sprintf("%.0f", math.Abs(rounded))
}
