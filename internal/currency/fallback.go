package currency

// builtinUSDRates はレートAPIにもキャッシュにも頼れない場合の概算レート（USD基準）。
var builtinUSDRates = map[string]float64{
	"USD": 1,
	"EUR": 0.92,
	"GBP": 0.79,
	"JPY": 150,
	"CAD": 1.36,
	"AUD": 1.52,
	"CHF": 0.88,
	"CNY": 7.2,
	"INR": 83,
	"SGD": 1.34,
	"NZD": 1.64,
	"SEK": 10.5,
	"KRW": 1330,
	"BRL": 5.0,
	"MXN": 17.0,
}

// builtinRates はbase基準の概算レート表を返す。
// 表に無い基準通貨の場合は{base: 1}のみを返す。
func builtinRates(base string) map[string]float64 {
	baseRate, ok := builtinUSDRates[base]
	if !ok {
		return map[string]float64{base: 1}
	}
	rates := make(map[string]float64, len(builtinUSDRates))
	for code, usdRate := range builtinUSDRates {
		rates[code] = usdRate / baseRate
	}
	rates[base] = 1
	return rates
}
