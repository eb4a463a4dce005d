package config

import (
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"serotonyl.ru/invest-bot/internal/models"
)

// defaultPlansYAML: тарифы по умолчанию, если PLANS_FILE не задан.
const defaultPlansYAML = `
plans:
  - id: plan_1
    percent: "5"
    hours: 24
    min: "10"
  - id: plan_2
    percent: "12"
    hours: 72
    min: "50"
  - id: plan_3
    percent: "30"
    hours: 168
    min: "100"
  - id: plan_4
    percent: "70"
    hours: 336
    min: "500"
  - id: plan_5
    percent: "160"
    hours: 720
    min: "1000"
`

// PlanSet: неизменяемый набор тарифов с сохранением порядка из файла.
type PlanSet struct {
	order []string
	byID  map[string]models.Plan
}

// Get возвращает план по ID.
func (s *PlanSet) Get(id string) (models.Plan, bool) {
	p, ok := s.byID[id]
	return p, ok
}

// All возвращает планы в порядке объявления.
func (s *PlanSet) All() []models.Plan {
	out := make([]models.Plan, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.byID[id])
	}
	return out
}

// planFile: формат YAML. Суммы строками, чтобы не терять точность на float.
type planFile struct {
	Plans []struct {
		ID      string `yaml:"id"`
		Percent string `yaml:"percent"`
		Hours   int    `yaml:"hours"`
		Min     string `yaml:"min"`
	} `yaml:"plans"`
}

// LoadPlans читает тарифы из файла path. Пустой path: встроенные планы.
func LoadPlans(path string) (*PlanSet, error) {
	data := []byte(defaultPlansYAML)
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("не удалось прочитать %s: %w", path, err)
		}
		data = raw
	}
	return ParsePlans(data)
}

// ParsePlans разбирает YAML с тарифами и проверяет каждый план.
func ParsePlans(data []byte) (*PlanSet, error) {
	var f planFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("ошибка разбора YAML: %w", err)
	}
	if len(f.Plans) == 0 {
		return nil, fmt.Errorf("список планов пуст")
	}

	set := &PlanSet{byID: make(map[string]models.Plan, len(f.Plans))}
	for i, raw := range f.Plans {
		if raw.ID == "" {
			return nil, fmt.Errorf("план #%d: пустой id", i+1)
		}
		if _, dup := set.byID[raw.ID]; dup {
			return nil, fmt.Errorf("план %s объявлен дважды", raw.ID)
		}
		percent, err := decimal.NewFromString(raw.Percent)
		if err != nil || !percent.IsPositive() {
			return nil, fmt.Errorf("план %s: некорректный percent %q", raw.ID, raw.Percent)
		}
		minAmount, err := decimal.NewFromString(raw.Min)
		if err != nil || !minAmount.IsPositive() {
			return nil, fmt.Errorf("план %s: некорректный min %q", raw.ID, raw.Min)
		}
		if raw.Hours <= 0 {
			return nil, fmt.Errorf("план %s: hours должен быть > 0", raw.ID)
		}

		set.order = append(set.order, raw.ID)
		set.byID[raw.ID] = models.Plan{
			ID:      raw.ID,
			Percent: percent,
			Hours:   raw.Hours,
			Min:     minAmount,
		}
	}
	return set, nil
}

// NewPlanSet собирает набор из готовых планов (для тестов и встраивания).
func NewPlanSet(plans ...models.Plan) *PlanSet {
	set := &PlanSet{byID: make(map[string]models.Plan, len(plans))}
	for _, p := range plans {
		set.order = append(set.order, p.ID)
		set.byID[p.ID] = p
	}
	return set
}
