// errors.go определяет пользовательские ошибки,
// которые используются во всех модулях бота.
// Эти ошибки позволяют обработчикам различать типы проблем
// и отправлять пользователю понятные сообщения.
package common

import "errors"

// Ошибки валидации ввода (сумма, кошелёк, план)
var (
	// ErrInvalidAmount: не число, ноль или отрицательная сумма
	ErrInvalidAmount = errors.New("сумма должна быть положительным числом")
	// ErrBelowMinimum: сумма меньше минимальной для операции
	ErrBelowMinimum = errors.New("сумма меньше минимальной")
	// ErrInsufficientBalance: недостаточно средств на основном балансе
	ErrInsufficientBalance = errors.New("недостаточно средств на балансе")
	// ErrInvalidWallet: адрес не похож ни на TRC20, ни на EVM
	ErrInvalidWallet = errors.New("некорректный адрес кошелька")
	// ErrUnknownPlan: тарифного плана с таким ID нет
	ErrUnknownPlan = errors.New("тарифный план не найден")
	// ErrUnknownNetwork: сеть вывода не поддерживается
	ErrUnknownNetwork = errors.New("сеть не поддерживается")
)

// Ошибки заявок и диалога
var (
	// ErrUserNotFound: пользователь не найден в базе
	ErrUserNotFound = errors.New("пользователь не найден")
	// ErrTransactionNotFound: заявка не найдена (или принадлежит другому)
	ErrTransactionNotFound = errors.New("заявка не найдена")
	// ErrAlreadyProcessed: заявка уже не в статусе pending
	ErrAlreadyProcessed = errors.New("заявка уже обработана")
	// ErrStateExpired: действие пришло не в том состоянии диалога
	ErrStateExpired = errors.New("запрос устарел")
)

// Ошибки админки
var (
	// ErrNotAdmin: пользователь не является администратором
	ErrNotAdmin = errors.New("у вас нет прав администратора")
)

// Ошибки внешних сервисов
var (
	// ErrInvoiceFailed: платёжный провайдер не создал счёт
	ErrInvoiceFailed = errors.New("не удалось создать счёт на оплату")
)
