package normalize

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

var (
	trailingDecimalComma = regexp.MustCompile(`,\d{1,2}$`)
	dotThousands         = regexp.MustCompile(`^-?\d{1,3}(?:\.\d{3})+$`)
	commaThousands       = regexp.MustCompile(`^-?\d{1,3}(?:,\d{3})+$`)
	nonNumeric           = regexp.MustCompile(`[^0-9.\-]`)
	nonPriceChars        = regexp.MustCompile(`[^0-9,.\-\s\x{00A0}]`)
	leadingNumber        = regexp.MustCompile(`^-?(?:\d+\.?\d*|\.\d+)`)
	thousandsWord        = regexp.MustCompile(`(-?\d+(?:[.,]\d+)?)\s*(?:k|mil|miles|luca|lucas)\b`)
	pricePreposition     = regexp.MustCompile(`\b(?:a|en|por)\s+(-?\d+(?:[.,]\d+)?(?:\s*(?:k|mil|miles|luca|lucas))?)\b`)
	priceToken           = regexp.MustCompile(`-?\d+(?:[.,]\d+)?(?:\s*(?:k|mil|miles|luca|lucas))?`)
	nonDigits            = regexp.MustCompile(`[^0-9]`)
	nonCompareChars      = regexp.MustCompile(`[^0-9.,\-]`)
)

// ParseNumber parses a number written with either locale's separators.
//
// When both separators appear the later one is the decimal separator. A lone
// comma is decimal only when followed by one or two trailing digits. A lone
// dot is a thousands separator when the value looks like 1.000 or 1.000.000.
func ParseNumber(raw string) (float64, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, false
	}
	s = strings.NewReplacer(" ", "", "\u00a0", "").Replace(s)

	hasComma := strings.Contains(s, ",")
	hasDot := strings.Contains(s, ".")

	switch {
	case hasComma && hasDot:
		if strings.LastIndex(s, ",") > strings.LastIndex(s, ".") {
			s = strings.ReplaceAll(s, ".", "")
			s = strings.ReplaceAll(s, ",", ".")
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case hasComma:
		if trailingDecimalComma.MatchString(s) {
			s = strings.ReplaceAll(s, ",", ".")
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case hasDot:
		if dotThousands.MatchString(s) {
			s = strings.ReplaceAll(s, ".", "")
		}
	}

	s = nonNumeric.ReplaceAllString(s, "")
	if s == "" || s == "-" || s == "." {
		return 0, false
	}

	lead := leadingNumber.FindString(s)
	if lead == "" {
		return 0, false
	}
	n, err := strconv.ParseFloat(lead, 64)
	if err != nil || math.IsInf(n, 0) || math.IsNaN(n) {
		return 0, false
	}
	return n, true
}

// ParsePrice parses a human price such as "$2.000", "2,000.50", "10k" or
// "10 lucas". Thousands words multiply the base amount by 1000.
func ParsePrice(raw string) (float64, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, false
	}

	lower := StripAccents(strings.ToLower(s))
	if m := thousandsWord.FindStringSubmatch(lower); m != nil {
		if base, ok := ParseNumber(m[1]); ok {
			return base * 1000, true
		}
	}

	s = nonPriceChars.ReplaceAllString(s, "")
	if strings.TrimSpace(s) == "" {
		return 0, false
	}

	compact := strings.NewReplacer(" ", "", "\u00a0", "").Replace(s)
	switch {
	case dotThousands.MatchString(compact):
		s = strings.ReplaceAll(compact, ".", "")
	case commaThousands.MatchString(compact):
		s = strings.ReplaceAll(compact, ",", "")
	}

	return ParseNumber(s)
}

// FormatAmount renders a price without thousands separators and without a
// trailing ".0" (1500 -> "1500", 19.9 -> "19.9").
func FormatAmount(n float64) string {
	n = math.Round(n*100) / 100
	if n == math.Trunc(n) && math.Abs(n) < 1e15 {
		return strconv.FormatInt(int64(n), 10)
	}
	return strconv.FormatFloat(n, 'f', -1, 64)
}

// PriceForCompare maps a stored or requested price to a canonical string so
// that "1000", "1.000" and "$1,000" compare equal.
func PriceForCompare(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return ""
	}
	if n, ok := ParsePrice(v); ok {
		return FormatAmount(n)
	}
	return nonCompareChars.ReplaceAllString(v, "")
}

// PricesEqual reports whether two price strings denote the same amount.
func PricesEqual(a, b string) bool {
	return PriceForCompare(a) == PriceForCompare(b)
}

// LastPriceToken returns the last price-looking token of a sentence,
// preferring values introduced by "a", "en" or "por".
//
//	"poné el precio del #150 a 9999" -> "9999"
//	"dejalo en 10 lucas"             -> "10 lucas"
func LastPriceToken(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return ""
	}
	if m := pricePreposition.FindAllStringSubmatch(s, -1); len(m) > 0 {
		return strings.TrimSpace(m[len(m)-1][1])
	}
	if m := priceToken.FindAllString(s, -1); len(m) > 0 {
		return strings.TrimSpace(m[len(m)-1])
	}
	return ""
}

// Digits keeps only ASCII digits ("#387" -> "387").
func Digits(s string) string {
	return nonDigits.ReplaceAllString(s, "")
}

// Stringify renders a loosely typed JSON scalar as the string form the
// executor expects for price and stock fields.
func Stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	case float64:
		return FormatAmount(t)
	case float32:
		return FormatAmount(float64(t))
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprint(t)
	}
}
