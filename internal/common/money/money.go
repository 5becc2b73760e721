// Package money is an integer minor-unit amount tagged with its currency.
// Fiat and stablecoin amounts share one type; the currency's decimals
// decide what one minor unit is worth.
package money

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Currency is an ISO 4217 code or a token ticker, upper case.
type Currency string

const (
	USD  Currency = "USD"
	EUR  Currency = "EUR"
	GBP  Currency = "GBP"
	JPY  Currency = "JPY"
	USDC Currency = "USDC"
	USDT Currency = "USDT"
	ETH  Currency = "ETH"
)

type denomination struct {
	decimals int
	prefix   string
}

// ETH is held at gwei precision so int64 keeps headroom.
var denominations = map[Currency]denomination{
	USD:  {2, "$"},
	EUR:  {2, "€"},
	GBP:  {2, "£"},
	JPY:  {0, "¥"},
	USDC: {6, ""},
	USDT: {6, ""},
	ETH:  {9, ""},
}

// Decimals is the number of minor-unit digits for c. Unknown currencies
// are treated as two-decimal fiat.
func (c Currency) Decimals() int {
	if d, ok := denominations[c]; ok {
		return d.decimals
	}
	return 2
}

func (c Currency) scale() float64 { return math.Pow10(c.Decimals()) }

type Money struct {
	AmountMinor int64    `json:"amount_minor"`
	Currency    Currency `json:"currency"`
}

func New(amountMinor int64, currency Currency) Money {
	return Money{AmountMinor: amountMinor, Currency: currency}
}

// NewFromMajor converts a major-unit amount, rounding half away from zero
// to the nearest minor unit.
func NewFromMajor(amountMajor float64, currency Currency) Money {
	return New(int64(math.Round(amountMajor*currency.scale())), currency)
}

func Zero(currency Currency) Money { return Money{Currency: currency} }

func (m Money) IsZero() bool     { return m.AmountMinor == 0 }
func (m Money) IsPositive() bool { return m.AmountMinor > 0 }

// ToMajor is for scoring and display only; never feed it back into a
// balance.
func (m Money) ToMajor() float64 {
	return float64(m.AmountMinor) / m.Currency.scale()
}

// Add fails on mixed currencies instead of converting.
func (m Money) Add(other Money) (Money, error) {
	if m.Currency != other.Currency {
		return Money{}, fmt.Errorf("cannot add %s to %s", other.Currency, m.Currency)
	}
	return New(m.AmountMinor+other.AmountMinor, m.Currency), nil
}

// Percentage returns bps basis points of m, rounded half away from zero
// in integer arithmetic.
func (m Money) Percentage(bps int64) Money {
	n := m.AmountMinor * bps
	q, r := n/10_000, n%10_000
	switch {
	case r >= 5_000:
		q++
	case r <= -5_000:
		q--
	}
	return New(q, m.Currency)
}

// GreaterThan is false when the currencies differ.
func (m Money) GreaterThan(other Money) bool {
	return m.Currency == other.Currency && m.AmountMinor > other.AmountMinor
}

// String renders exact digits: "$12.34", "1.500000 USDC".
func (m Money) String() string {
	d, known := denominations[m.Currency]
	if !known {
		return strconv.FormatInt(m.AmountMinor, 10) + " " + string(m.Currency) + " (minor)"
	}

	var sb strings.Builder
	amount := m.AmountMinor
	if amount < 0 {
		sb.WriteByte('-')
		amount = -amount
	}
	sb.WriteString(d.prefix)
	digits := strconv.FormatInt(amount, 10)
	if d.decimals > 0 {
		if pad := d.decimals + 1 - len(digits); pad > 0 {
			digits = strings.Repeat("0", pad) + digits
		}
		cut := len(digits) - d.decimals
		digits = digits[:cut] + "." + digits[cut:]
	}
	sb.WriteString(digits)
	if d.prefix == "" {
		sb.WriteString(" " + string(m.Currency))
	}
	return sb.String()
}

type wireMoney struct {
	AmountMinor *int64   `json:"amount_minor,omitempty"`
	Amount      *float64 `json:"amount,omitempty"`
	Currency    Currency `json:"currency"`
}

// MarshalJSON emits both the exact minor amount and a major-unit
// convenience value.
func (m Money) MarshalJSON() ([]byte, error) {
	minor, major := m.AmountMinor, m.ToMajor()
	return json.Marshal(wireMoney{AmountMinor: &minor, Amount: &major, Currency: m.Currency})
}

// UnmarshalJSON prefers amount_minor and falls back to a major-unit amount.
func (m *Money) UnmarshalJSON(data []byte) error {
	var w wireMoney
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*m = Zero(w.Currency)
	switch {
	case w.AmountMinor != nil:
		m.AmountMinor = *w.AmountMinor
	case w.Amount != nil:
		m.AmountMinor = NewFromMajor(*w.Amount, w.Currency).AmountMinor
	}
	return nil
}

// Sum adds amounts of one currency. An empty list sums to the zero Money.
func Sum(amounts ...Money) (Money, error) {
	var total Money
	for i, a := range amounts {
		if i == 0 {
			total = a
			continue
		}
		var err error
		if total, err = total.Add(a); err != nil {
			return Money{}, err
		}
	}
	return total, nil
}

// MustSum is Sum for amounts already known to share a currency.
func MustSum(amounts ...Money) Money {
	total, err := Sum(amounts...)
	if err != nil {
		panic(err)
	}
	return total
}
