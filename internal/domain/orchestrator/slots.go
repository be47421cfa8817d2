package orchestrator

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/rpggio/shopbrain/internal/normalize"
)

var (
	productSlots = map[string]bool{"product_id": true, "producto": true, "product": true}
	priceSlots   = map[string]bool{"price": true, "regular_price": true, "nuevo_precio": true, "precio": true, "new_price": true}

	numberToken     = regexp.MustCompile(`\d+(?:[.,]\d+)*`)
	explicitProduct = regexp.MustCompile(`(?i)\bproducto\s*#?\s*(\d+)\b`)
	hashProduct     = regexp.MustCompile(`#\s*(\d+)\b`)
	explicitPrice   = regexp.MustCompile(`(?i)\bprecio\b\s*[:=]?\s*\$?\s*([0-9][0-9.,]*)`)
	currencyPrice   = regexp.MustCompile(`\$\s*([0-9][0-9.,]*)`)
)

// Recovery is what slot recovery got out of a follow-up message.
type Recovery struct {
	ProductID int64
	Price     string
	// Missing is the reduced slot list; empty when everything was filled.
	Missing []string
	// Message is the rewritten utterance, set only when Missing is empty.
	Message string
}

// Complete reports whether every missing slot was filled.
func (r Recovery) Complete() bool { return len(r.Missing) == 0 }

// RecoverSlots fills the missing slots of a pending question from a terse
// answer such as "500", "producto 386 y precio 5000" or "386 5000".
func RecoverSlots(missing []string, text string) Recovery {
	needProduct, needPrice := false, false
	for _, slot := range missing {
		s := strings.ToLower(strings.TrimSpace(slot))
		needProduct = needProduct || productSlots[s]
		needPrice = needPrice || priceSlots[s]
	}

	nums := numberToken.FindAllString(text, -1)

	var pid int64
	if m := explicitProduct.FindStringSubmatch(text); m != nil {
		pid = parseID(m[1])
	} else if m := hashProduct.FindStringSubmatch(text); m != nil {
		pid = parseID(m[1])
	}

	price := ""
	if m := explicitPrice.FindStringSubmatch(text); m != nil {
		price = parsePrice(m[1])
	} else if m := currencyPrice.FindStringSubmatch(text); m != nil {
		price = parsePrice(m[1])
	}

	switch {
	case pid > 0 && price == "" && len(nums) >= 2:
		price = parsePrice(nums[len(nums)-1])
	case pid == 0 && len(nums) == 2 && needProduct && needPrice:
		pid = parseID(nums[0])
		if price == "" {
			price = parsePrice(nums[1])
		}
	case price == "" && len(nums) == 1 && needPrice && !needProduct:
		price = parsePrice(nums[0])
	}

	r := Recovery{ProductID: pid, Price: price}
	for _, slot := range missing {
		s := strings.ToLower(strings.TrimSpace(slot))
		if productSlots[s] && pid > 0 {
			continue
		}
		if priceSlots[s] && price != "" {
			continue
		}
		r.Missing = append(r.Missing, slot)
	}
	if !r.Complete() {
		return r
	}

	switch {
	case pid > 0 && price != "":
		r.Message = fmt.Sprintf("subí el precio del producto %d a %s", pid, price)
	case pid > 0:
		r.Message = fmt.Sprintf("producto %d", pid)
	case price != "":
		r.Message = "precio " + price
	default:
		r.Message = text
	}
	return r
}

func parseID(s string) int64 {
	id, err := strconv.ParseInt(normalize.Digits(s), 10, 64)
	if err != nil || id <= 0 {
		return 0
	}
	return id
}

func parsePrice(s string) string {
	n, ok := normalize.ParsePrice(strings.TrimRight(s, ".,"))
	if !ok || n <= 0 {
		return ""
	}
	return normalize.FormatAmount(n)
}
