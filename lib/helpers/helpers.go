package helpers

import (
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

func EscapeMarkdownV2(text string) string {
	charactersToEscape := []string{".", "-", "_", "*", "[", "]", "(", ")", "~", "`", ">", "#", "+", "=", "|", "{", "}", "!"}

	for _, char := range charactersToEscape {
		text = strings.ReplaceAll(text, char, "\\"+char)
	}
	return text
}

func FormatPriceUS(price float64, escapeMarkdown bool) string {
	decimals := 6

	if price >= 1000 {
		decimals = 0
	} else if price > 1.2 {
		decimals = 2
	} else if price < 0.00001 {
		decimals = 8
	}

	thousandSeparator := ","

	p := message.NewPrinter(language.English)
	withCommaThousandSep := p.Sprintf("%.*f", decimals, price)
	formatted := strings.ReplaceAll(withCommaThousandSep, ",", thousandSeparator)

	if escapeMarkdown {
		return EscapeMarkdownV2(formatted)
	}
	return formatted
}

func FormatPercentage(fraction float64) string {
	p := message.NewPrinter(language.English)
	return p.Sprintf("%.1f", fraction*100)
}

var currencySymbols = map[string]string{
	"usd": "$",
	"eur": "€",
	"gbp": "£",
	"jpy": "¥",
	"cad": "C$",
	"aud": "A$",
	"chf": "CHF ",
	"cny": "¥",
	"rub": "₽",
	"inr": "₹",
	"brl": "R$",
	"krw": "₩",
	"pln": "zł",
	"try": "₺",
}

// CurrencySymbol returns the display prefix for a fiat currency, falling back
// to the upper-cased code.
func CurrencySymbol(currency string) string {
	if symbol, ok := currencySymbols[strings.ToLower(currency)]; ok {
		return symbol
	}
	return strings.ToUpper(currency) + " "
}

// SupportedCurrencies lists the quote currencies with a known display symbol,
// sorted by code.
func SupportedCurrencies() []string {
	codes := make([]string, 0, len(currencySymbols))
	for code := range currencySymbols {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

func IsSupportedCurrency(code string) bool {
	_, ok := currencySymbols[strings.ToLower(code)]
	return ok
}

// FormatAge renders a sqlite CURRENT_TIMESTAMP value as a relative age.
func FormatAge(createdAt string) string {
	t, err := time.Parse("2006-01-02 15:04:05", createdAt)
	if err != nil {
		return createdAt
	}
	return humanize.Time(t)
}
