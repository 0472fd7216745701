package extract

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	pricePattern = regexp.MustCompile(`(\d{1,3}(?:,\d{3})+|\d+)(?:\.(\d{1,2}))?`)
	currencySyms = [][2]string{{"$", "USD"}, {"€", "EUR"}, {"£", "GBP"}, {"¥", "JPY"}, {"₹", "INR"}}
)

// Price is a parsed product price.
type Price struct {
	Amount   decimal.Decimal
	Currency string
}

// String renders the price as "<amount> <currency>", or the bare amount when
// the currency is unknown.
func (p Price) String() string {
	if p.Currency == "" {
		return p.Amount.StringFixed(2)
	}
	return p.Amount.StringFixed(2) + " " + p.Currency
}

// ParsePrice reads the first amount in text such as "$1,299.00" or
// "Now only 29.99 EUR". Zero amounts are rejected.
func ParsePrice(text string) (Price, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Price{}, false
	}
	m := pricePattern.FindStringSubmatch(text)
	if m == nil {
		return Price{}, false
	}
	num := strings.ReplaceAll(m[1], ",", "")
	if m[2] != "" {
		num += "." + m[2]
	}
	amount, err := decimal.NewFromString(num)
	if err != nil || !amount.IsPositive() {
		return Price{}, false
	}
	return Price{Amount: amount, Currency: currency(text)}, true
}

func currency(text string) string {
	upper := strings.ToUpper(text)
	for _, code := range []string{"USD", "EUR", "GBP", "CAD", "AUD", "JPY", "INR"} {
		if strings.Contains(upper, code) {
			return code
		}
	}
	for _, sc := range currencySyms {
		if strings.Contains(text, sc[0]) {
			return sc[1]
		}
	}
	return ""
}
