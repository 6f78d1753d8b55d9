package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mmeshcher/warranty-desk/internal/model"
	"github.com/mmeshcher/warranty-desk/internal/retrieval"
)

const (
	defaultAnswerSections = 3
	maxAnswerSections     = 8
)

// DamageRuleView: правила вида ущерба в ответе клиенту.
type DamageRuleView struct {
	Type          model.DamageType `json:"damage_type"`
	ReportWithin  string           `json:"report_within"`
	CoverageLimit model.Money      `json:"coverage_limit"`
	LimitText     string           `json:"coverage_limit_display"`
	Description   string           `json:"description"`
}

// CoverageDetails: условия одного продукта или вида ущерба.
type CoverageDetails struct {
	Topic       string              `json:"topic"`
	Tiers       []TierOffer         `json:"tiers,omitempty"`
	DamageRules []DamageRuleView    `json:"damage_rules,omitempty"`
	Sections    []retrieval.Section `json:"sections"`
}

// GetCoverageDetails возвращает условия из правил и соответствующие разделы
// документа политики. topic: standard, extended, ccp, claims или вид ущерба.
func (s *Service) GetCoverageDetails(_ context.Context, topic string) (*CoverageDetails, error) {
	topic = strings.ToLower(strings.TrimSpace(topic))
	res := &CoverageDetails{Topic: topic}

	var prefixes []string
	switch topic {
	case "standard", "standard_warranty":
		res.Topic = "standard"
		prefixes = []string{"Standard Warranty"}
	case "extended", "extended_warranty":
		res.Topic = "extended_warranty"
		res.Tiers = offers(s.policy.ExtendedTiers())
		prefixes = []string{"Extended Warranty"}
	case "ccp", "customer_convenience_package":
		res.Topic = "ccp"
		res.Tiers = offers(s.policy.CCPTiers())
		res.DamageRules = s.damageRules(model.DamageTypes...)
		prefixes = []string{"CCP"}
	case "claims", "claim_limits":
		res.Topic = "claims"
		res.DamageRules = s.damageRules(model.DamageTypes...)
		prefixes = []string{"Claim"}
	default:
		dt, ok := model.ParseDamageType(topic)
		if !ok {
			return nil, validationError("UnknownTopic",
				fmt.Sprintf("unknown coverage topic %q; use standard, extended, ccp, claims or a damage type", topic))
		}
		res.Topic = string(dt)
		res.DamageRules = s.damageRules(dt)
		prefixes = []string{damageTitle(dt)}
	}

	for _, sec := range retrieval.Sections(s.policy.Document()) {
		for _, p := range prefixes {
			if strings.HasPrefix(sec.Title, p) {
				res.Sections = append(res.Sections, sec)
				break
			}
		}
	}
	return res, nil
}

func (s *Service) damageRules(types ...model.DamageType) []DamageRuleView {
	res := make([]DamageRuleView, 0, len(types))
	for _, dt := range types {
		r, ok := s.policy.DamageTypeRules(dt)
		if !ok {
			continue
		}
		res = append(res, DamageRuleView{
			Type:          r.Type,
			ReportWithin:  windowLabel(r.ReportWindow),
			CoverageLimit: r.CoverageLimit,
			LimitText:     r.CoverageLimit.String(),
			Description:   r.Description,
		})
	}
	return res
}

// windowLabel печатает срок заявления так, как он записан в политике: до двух
// суток в часах, дальше в днях.
func windowLabel(d time.Duration) string {
	if d <= 48*time.Hour || d%(24*time.Hour) != 0 {
		return fmt.Sprintf("%d hours", int(d.Hours()))
	}
	return fmt.Sprintf("%d days", int(d/(24*time.Hour)))
}

func damageTitle(dt model.DamageType) string {
	return strings.ToUpper(string(dt[:1])) + string(dt[1:]) + " Damage"
}

// PolicyAnswer: разделы политики, ближайшие к вопросу клиента.
type PolicyAnswer struct {
	Question string             `json:"question"`
	Sections []retrieval.Result `json:"sections"`
}

// GetPolicyAnswer ищет в документе политики k разделов, ближайших к вопросу.
func (s *Service) GetPolicyAnswer(ctx context.Context, question string, k int) (*PolicyAnswer, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, validationError("MissingQuestion", "a question is required")
	}
	if k <= 0 {
		k = defaultAnswerSections
	}
	k = min(k, maxAnswerSections)

	results, err := s.index.Answer(ctx, s.policy.Document(), question, k)
	if err != nil {
		return nil, fmt.Errorf("search policy: %w", err)
	}
	return &PolicyAnswer{Question: question, Sections: results}, nil
}

// WarmIndex строит поисковый индекс заранее, чтобы первый вопрос не ждал.
func (s *Service) WarmIndex(ctx context.Context) error {
	_, err := s.index.Build(ctx, s.policy.Document())
	return err
}
