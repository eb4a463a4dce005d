// Package common содержит общие утилиты, используемые во всём проекте.
// Сюда входят: разбор и форматирование сумм, проверка кошельков, работа с датами.
package common

import (
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// amountPattern: до 12 цифр целой части и до 2 знаков после точки.
// Больше не помещается в NUMERIC(20,8) или не совпадёт с суммой счёта.
var amountPattern = regexp.MustCompile(`^[0-9]{1,12}(\.[0-9]{1,2})?$`)

// ParseAmount разбирает сумму, введённую пользователем.
// Принимает точку или запятую как разделитель. Лишний текст,
// экспонента и больше двух знаков после точки: ошибка.
//
// Примеры:
//
//	ParseAmount("50")     → 50
//	ParseAmount("12,5")   → 12.5
//	ParseAmount("50abc")  → ErrInvalidAmount
//	ParseAmount("1e3")    → ErrInvalidAmount
//	ParseAmount("0.001")  → ErrInvalidAmount
//	ParseAmount("-3")     → ErrInvalidAmount
func ParseAmount(text string) (decimal.Decimal, error) {
	text = strings.TrimSpace(text)
	text = strings.ReplaceAll(text, ",", ".")
	text = strings.ReplaceAll(text, " ", "")
	if !amountPattern.MatchString(text) {
		return decimal.Zero, ErrInvalidAmount
	}

	amount, err := decimal.NewFromString(text)
	if err != nil {
		return decimal.Zero, ErrInvalidAmount
	}
	if !amount.IsPositive() {
		return decimal.Zero, ErrInvalidAmount
	}
	return amount, nil
}

// FormatMoney форматирует сумму с двумя знаками после точки.
// Пример: FormatMoney(12.5) → "12.50"
func FormatMoney(amount decimal.Decimal) string {
	return amount.StringFixed(2)
}

// IsValidWallet проверяет формат адреса кошелька без контрольной суммы.
//   - TRC20 (Tron): начинается с "T", длина больше 30
//   - EVM (BEP20/ERC20): начинается с "0x", длина ровно 42
func IsValidWallet(address string) bool {
	if strings.HasPrefix(address, "T") && len(address) > 30 {
		return true
	}
	return strings.HasPrefix(address, "0x") && len(address) == 42
}

// FormatDate форматирует дату как дд/мм/гггг.
func FormatDate(t time.Time) string {
	return t.Format("02/01/2006")
}

// FormatDateTime форматирует дату и время как дд.мм.гггг чч:мм (UTC).
func FormatDateTime(t time.Time) string {
	return t.UTC().Format("02.01.2006 15:04")
}
