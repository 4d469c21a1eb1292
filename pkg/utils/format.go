// Package utils provides shared utility functions.
package utils

import (
	"math"
	"strconv"
	"strings"
)

const (
	lakh  = 1e5
	crore = 1e7
)

// FormatIndianCurrency renders a rupee amount with paise and lakh/crore digit
// grouping, e.g. ₹1,23,45,678.90.
func FormatIndianCurrency(amount float64) string {
	sign, abs := splitSign(amount)
	whole, paise, _ := strings.Cut(strconv.FormatFloat(abs, 'f', 2, 64), ".")
	return sign + "₹" + groupIndian(whole) + "." + paise
}

// FormatCompact abbreviates amounts of a lakh or more (₹4.50 L, ₹2.50 Cr) and
// falls back to FormatIndianCurrency below that.
func FormatCompact(amount float64) string {
	sign, abs := splitSign(amount)
	switch {
	case abs >= crore:
		return sign + "₹" + strconv.FormatFloat(abs/crore, 'f', 2, 64) + " Cr"
	case abs >= lakh:
		return sign + "₹" + strconv.FormatFloat(abs/lakh, 'f', 2, 64) + " L"
	}
	return FormatIndianCurrency(amount)
}

// FormatPnL is FormatIndianCurrency with a leading + on gains.
func FormatPnL(pnl float64) string {
	if pnl > 0 {
		return "+" + FormatIndianCurrency(pnl)
	}
	return FormatIndianCurrency(pnl)
}

// FormatPercent renders a signed percentage with two decimals.
func FormatPercent(value float64) string {
	s := strconv.FormatFloat(value, 'f', 2, 64) + "%"
	if value > 0 {
		return "+" + s
	}
	return s
}

// FormatQuantity groups a share count the Indian way.
func FormatQuantity(qty int64) string {
	if qty < 0 {
		return "-" + groupIndian(strconv.FormatInt(-qty, 10))
	}
	return groupIndian(strconv.FormatInt(qty, 10))
}

// splitSign returns "-" and |amount| for amounts that stay negative after
// rounding to paise, so -0.001 prints as ₹0.00.
func splitSign(amount float64) (string, float64) {
	if math.Round(amount*100) < 0 {
		return "-", -amount
	}
	return "", math.Abs(amount)
}

// groupIndian inserts separators after the last three digits and then every
// two: 12345678 becomes 1,23,45,678.
func groupIndian(digits string) string {
	if len(digits) <= 3 {
		return digits
	}
	head, groups := digits[:len(digits)-3], []string{digits[len(digits)-3:]}
	for len(head) > 2 {
		groups = append([]string{head[len(head)-2:]}, groups...)
		head = head[:len(head)-2]
	}
	return head + "," + strings.Join(groups, ",")
}
