// Package validation проверяет идентификаторы, которые вводит клиент: номера
// автомобилей, номера претензий и записей, e-mail.
package validation

import (
	"net/mail"
	"regexp"
	"strconv"
	"strings"
)

var (
	// Госномер: код штата, код RTO, серия, четыре цифры (MH12AB1234, DL3CAF0001).
	stateRegistration = regexp.MustCompile(`^[A-Z]{2}[0-9]{1,2}[A-Z]{0,3}[0-9]{4}$`)
	// Номер серии BH: год, BH, четыре цифры, одна-две буквы (22BH1234AA).
	bharatRegistration = regexp.MustCompile(`^[0-9]{2}BH[0-9]{4}[A-Z]{1,2}$`)
	claimID            = regexp.MustCompile(`^CCP[0-9]{6}$`)
	appointmentRef     = regexp.MustCompile(`^MSAP([0-9]{6,})$`)
)

// NormalizeRegistration приводит номер к верхнему регистру без пробелов и дефисов.
func NormalizeRegistration(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	return strings.NewReplacer(" ", "", "-", "").Replace(s)
}

// IsValidRegistration проверяет нормализованный регистрационный номер.
func IsValidRegistration(s string) bool {
	return stateRegistration.MatchString(s) || bharatRegistration.MatchString(s)
}

// IsValidClaimID проверяет номер претензии вида CCP000123.
func IsValidClaimID(s string) bool {
	return claimID.MatchString(s)
}

// ParseAppointmentReference извлекает идентификатор записи из номера MSAP000012.
// Допускается и голое число.
func ParseAppointmentReference(s string) (int64, bool) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if m := appointmentRef.FindStringSubmatch(s); m != nil {
		s = m[1]
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// NormalizeEmail приводит адрес к нижнему регистру.
func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// IsValidEmail проверяет, что строка является голым адресом электронной почты.
func IsValidEmail(s string) bool {
	addr, err := mail.ParseAddress(s)
	if err != nil {
		return false
	}
	return addr.Address == s && strings.Contains(s[strings.LastIndex(s, "@"):], ".")
}
