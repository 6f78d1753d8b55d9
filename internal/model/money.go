package model

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Money хранит сумму в пайсах (1/100 рупии).
type Money int64

// Rupees создаёт сумму из целого числа рупий.
func Rupees(r int64) Money {
	return Money(r * 100)
}

// FromRupees переводит дробную сумму в рупиях в пайсы с округлением.
func FromRupees(r float64) Money {
	if r < 0 {
		return -Money(-r*100 + 0.5)
	}
	return Money(r*100 + 0.5)
}

// Rupees возвращает сумму в рупиях.
func (m Money) Rupees() float64 {
	return float64(m) / 100
}

// String форматирует сумму с индийской группировкой разрядов: ₹1,50,000 или ₹12,389.04.
func (m Money) String() string {
	neg := m < 0
	if neg {
		m = -m
	}
	whole := strconv.FormatInt(int64(m)/100, 10)
	frac := int64(m) % 100

	var b strings.Builder
	if neg {
		b.WriteByte('-')
	}
	b.WriteString("₹")
	b.WriteString(groupIndian(whole))
	if frac != 0 {
		b.WriteByte('.')
		if frac < 10 {
			b.WriteByte('0')
		}
		b.WriteString(strconv.FormatInt(frac, 10))
	}
	return b.String()
}

func groupIndian(digits string) string {
	if len(digits) <= 3 {
		return digits
	}
	head, tail := digits[:len(digits)-3], digits[len(digits)-3:]
	var parts []string
	for len(head) > 2 {
		parts = append([]string{head[len(head)-2:]}, parts...)
		head = head[:len(head)-2]
	}
	if head != "" {
		parts = append([]string{head}, parts...)
	}
	return strings.Join(parts, ",") + "," + tail
}

// MarshalJSON сериализует сумму в рупиях.
func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.Rupees())
}

// UnmarshalJSON принимает сумму в рупиях.
func (m *Money) UnmarshalJSON(data []byte) error {
	var r float64
	if err := json.Unmarshal(data, &r); err != nil {
		return err
	}
	*m = FromRupees(r)
	return nil
}
