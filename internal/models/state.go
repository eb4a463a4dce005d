package models

import (
	"encoding/json"
	"fmt"
)

// StateName: имя состояния диалога в том виде, в каком оно хранится в БД.
type StateName string

// Возможные состояния диалога
const (
	StateNone                     StateName = "none"
	StateAwaitingInvestmentAmount StateName = "awaiting_investment_amount"
	StateAwaitingDepositAmount    StateName = "awaiting_deposit_amount"
	StateAwaitingWalletAddress    StateName = "awaiting_wallet_address"
	StateAwaitingWalletNetwork    StateName = "awaiting_wallet_network"
	StateAwaitingWithdrawalAmount StateName = "awaiting_withdrawal_amount"
)

// State: состояние диалога вместе со своим контекстом.
// Каждое состояние: отдельный тип со своими полями
// (planId есть только у AwaitingInvestmentAmount).
type State interface {
	Name() StateName
}

// Idle: нет активного сценария. Начальное и конечное состояние.
type Idle struct{}

// AwaitingInvestmentAmount: пользователь выбрал план и вводит сумму.
type AwaitingInvestmentAmount struct {
	PlanID string `json:"planId"`
}

// AwaitingDepositAmount: ждём сумму пополнения.
type AwaitingDepositAmount struct{}

// AwaitingWalletAddress: ждём адрес кошелька для вывода.
type AwaitingWalletAddress struct{}

// AwaitingWalletNetwork: адрес введён, ждём выбор сети.
type AwaitingWalletNetwork struct {
	Wallet string `json:"wallet"`
}

// AwaitingWithdrawalAmount: кошелёк есть, ждём сумму вывода.
type AwaitingWithdrawalAmount struct{}

func (Idle) Name() StateName                     { return StateNone }
func (AwaitingInvestmentAmount) Name() StateName { return StateAwaitingInvestmentAmount }
func (AwaitingDepositAmount) Name() StateName    { return StateAwaitingDepositAmount }
func (AwaitingWalletAddress) Name() StateName    { return StateAwaitingWalletAddress }
func (AwaitingWalletNetwork) Name() StateName    { return StateAwaitingWalletNetwork }
func (AwaitingWithdrawalAmount) Name() StateName { return StateAwaitingWithdrawalAmount }

// IsIdle сообщает, что сценарий не активен. nil считается Idle.
func IsIdle(s State) bool {
	return s == nil || s.Name() == StateNone
}

// EncodeState превращает состояние в пару (имя, JSON-контекст) для БД.
// Для состояний без данных контекст: "{}".
func EncodeState(s State) (StateName, []byte, error) {
	if s == nil {
		s = Idle{}
	}
	raw, err := json.Marshal(s)
	if err != nil {
		return "", nil, fmt.Errorf("ошибка сериализации состояния %s: %w", s.Name(), err)
	}
	return s.Name(), raw, nil
}

// DecodeState восстанавливает состояние из БД.
// Неизвестное имя считается ошибкой: вызывающий сбрасывает диалог в Idle.
func DecodeState(name StateName, raw []byte) (State, error) {
	if len(raw) == 0 {
		raw = []byte("{}")
	}

	switch name {
	case "", StateNone:
		return Idle{}, nil
	case StateAwaitingInvestmentAmount:
		var s AwaitingInvestmentAmount
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("контекст %s: %w", name, err)
		}
		if s.PlanID == "" {
			return nil, fmt.Errorf("контекст %s: пустой planId", name)
		}
		return s, nil
	case StateAwaitingDepositAmount:
		return AwaitingDepositAmount{}, nil
	case StateAwaitingWalletAddress:
		return AwaitingWalletAddress{}, nil
	case StateAwaitingWalletNetwork:
		var s AwaitingWalletNetwork
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("контекст %s: %w", name, err)
		}
		return s, nil
	case StateAwaitingWithdrawalAmount:
		return AwaitingWithdrawalAmount{}, nil
	}
	return nil, fmt.Errorf("неизвестное состояние %q", name)
}
