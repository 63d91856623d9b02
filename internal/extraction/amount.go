package extraction

import (
	"regexp"
	"strings"
	"unicode"

	"finledger/internal/core"
)

// currencySymbols is ordered so longer symbols match before their prefixes.
var currencySymbols = []struct {
	symbol string
	code   string
}{
	{"US$", "USD"},
	{"AU$", "AUD"},
	{"CA$", "CAD"},
	{"S$", "SGD"},
	{"R$", "BRL"},
	{"Rp", "IDR"},
	{"RM", "MYR"},
	{"€", "EUR"},
	{"£", "GBP"},
	{"¥", "JPY"},
	{"₹", "INR"},
	{"₩", "KRW"},
	{"₫", "VND"},
	{"฿", "THB"},
	{"₱", "PHP"},
	{"$", "USD"},
}

// knownCodes are the ISO 4217 codes recognised inline in amount strings.
var knownCodes = map[string]bool{
	"AUD": true, "BRL": true, "CAD": true, "CHF": true, "CNY": true,
	"CZK": true, "DKK": true, "EUR": true, "GBP": true, "HKD": true,
	"HUF": true, "IDR": true, "INR": true, "JPY": true, "KRW": true,
	"KWD": true, "MXN": true, "MYR": true, "NOK": true, "NZD": true,
	"PHP": true, "PLN": true, "SEK": true, "SGD": true, "THB": true,
	"TRY": true, "USD": true, "VND": true, "ZAR": true, "AED": true,
}

var (
	codeToken  = regexp.MustCompile(`(?i)\b[a-z]{3}\b`)
	scientific = regexp.MustCompile(`^\d+(\.\d+)?[eE][+-]?\d+$`)
	canonical  = regexp.MustCompile(`^\d+(\.\d+)?$`)
)

// ocrDigits maps glyphs OCR commonly confuses with digits.
var ocrDigits = map[rune]rune{
	'O': '0', 'o': '0', 'D': '0',
	'l': '1', 'I': '1', '|': '1', 'i': '1',
	'S': '5', 's': '5',
	'B': '8',
	'Z': '2', 'z': '2',
}

// parsedAmount is an amount string reduced to a canonical decimal.
type parsedAmount struct {
	value    string // "1234.56", possibly with a leading minus
	currency string // detected from the string itself, may be empty
}

// parseAmount reads a tolerant amount string such as "Rp 1.234.567,00",
// "$1,234.56", "(12.50)", "1 234,5 EUR" or "12.5O" and returns its
// canonical decimal form. The heuristic for a single separator follows the
// usual receipt conventions: exactly three trailing digits mean a thousands
// separator, anything else a decimal point.
func parseAmount(raw string) (parsedAmount, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return parsedAmount{}, false
	}

	var out parsedAmount
	for _, cs := range currencySymbols {
		if strings.Contains(s, cs.symbol) {
			out.currency = cs.code
			s = strings.Replace(s, cs.symbol, " ", 1)
			break
		}
	}
	if out.currency == "" {
		for _, tok := range codeToken.FindAllString(s, -1) {
			if code := strings.ToUpper(tok); knownCodes[code] {
				out.currency = code
				s = strings.Replace(s, tok, " ", 1)
				break
			}
		}
	}

	s = strings.TrimSpace(s)
	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = s[1 : len(s)-1]
	}
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "-") || strings.HasPrefix(s, "−") {
		negative = true
		s = strings.TrimLeft(s, "-−")
	} else if strings.HasSuffix(s, "-") {
		negative = true
		s = strings.TrimSuffix(s, "-")
	}
	s = strings.TrimPrefix(s, "+")

	s = strings.Map(func(r rune) rune {
		switch {
		case unicode.IsSpace(r), r == '\'', r == '’', r == '_':
			return -1
		}
		return r
	}, s)
	if s == "" {
		return parsedAmount{}, false
	}

	if scientific.MatchString(s) {
		out.value = s
		if negative {
			out.value = "-" + s
		}
		return out, true
	}

	s = fixOCR(s)
	if s == "" {
		return parsedAmount{}, false
	}

	value, ok := resolveSeparators(s, out.currency)
	if !ok {
		return parsedAmount{}, false
	}
	if negative && strings.Trim(value, "0.") != "" {
		value = "-" + value
	}
	out.value = value
	return out, true
}

// fixOCR replaces look-alike letters with digits. It gives up when the
// string has no real digit at all, since then it is a word, not a number.
func fixOCR(s string) string {
	hasDigit := false
	for _, r := range s {
		if unicode.IsDigit(r) {
			hasDigit = true
			break
		}
	}
	if !hasDigit {
		return ""
	}
	return strings.Map(func(r rune) rune {
		if d, ok := ocrDigits[r]; ok {
			return d
		}
		return r
	}, s)
}

func resolveSeparators(s, currency string) (string, bool) {
	dots := strings.Count(s, ".")
	commas := strings.Count(s, ",")

	switch {
	case dots > 0 && commas > 0:
		// The right-most separator is the decimal point.
		if strings.LastIndex(s, ".") > strings.LastIndex(s, ",") {
			s = strings.ReplaceAll(s, ",", "")
		} else {
			s = strings.ReplaceAll(s, ".", "")
			s = strings.Replace(s, ",", ".", 1)
		}
	case dots > 1:
		s = strings.ReplaceAll(s, ".", "")
	case commas > 1:
		s = strings.ReplaceAll(s, ",", "")
	case dots == 1 || commas == 1:
		sep := "."
		if commas == 1 {
			sep = ","
		}
		idx := strings.Index(s, sep)
		intPart, frac := s[:idx], s[idx+1:]
		switch {
		case frac == "":
			s = intPart
		case len(frac) == 3 && intPart != "" && intPart != "0" && core.MinorExponent(currency) != 3:
			s = intPart + frac
		default:
			s = intPart + "." + frac
		}
	}

	if strings.HasPrefix(s, ".") {
		s = "0" + s
	}
	if !canonical.MatchString(s) {
		return "", false
	}
	return s, true
}
