// Package policy загружает неизменяемые правила гарантии и CCP.
package policy

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mmeshcher/warranty-desk/internal/model"
)

//go:embed rules.yaml
var defaultRules []byte

//go:embed policy.md
var defaultDocument string

// ErrMalformedPolicy возвращается, если правила не удалось разобрать или проверить.
var ErrMalformedPolicy = errors.New("malformed policy")

// StandardTerms описывает стандартную заводскую гарантию.
type StandardTerms struct {
	Years       int
	MaxOdometer int
}

// Tier описывает один вариант расширенной гарантии или пакета CCP.
type Tier struct {
	Years       int
	MaxOdometer int
	Price       model.Money
	Covers      []model.DamageType
}

// CoversDamage сообщает, покрывает ли пакет указанный вид ущерба.
func (t Tier) CoversDamage(d model.DamageType) bool {
	return slices.Contains(t.Covers, d)
}

// ExtendedTerms содержит общие ограничения расширенной гарантии.
type ExtendedTerms struct {
	PurchaseWindowMonths int
	MaxTotalYears        int
	MaxOdometer          int
}

// CCPTerms содержит общие ограничения пакета CCP.
type CCPTerms struct {
	PurchaseWindowMonths int
}

// DamageRule описывает правила по виду ущерба.
type DamageRule struct {
	Type          model.DamageType
	ReportWindow  time.Duration
	CoverageLimit model.Money
	Description   string
}

// ClaimLimits ограничивает число претензий.
type ClaimLimits struct {
	PerTypePerYear int
	Lifetime       int
}

// RefundTerms описывает правила возврата при отмене.
type RefundTerms struct {
	ExtendedFullRefundDays int
	ExtendedAdminFeePct    int
	CCPFullRefundDays      int
}

// Store хранит правила. После Load не изменяется, поэтому безопасен для
// одновременного чтения.
type Store struct {
	standard                    StandardTerms
	extended                    ExtendedTerms
	ccp                         CCPTerms
	extendedTiers               []Tier
	ccpTiers                    []Tier
	damage                      map[model.DamageType]DamageRule
	limits                      ClaimLimits
	refunds                     RefundTerms
	cancellationVoidsOpenClaims bool
	document                    string
}

type rawTier struct {
	Years       int      `yaml:"years"`
	MaxOdometer int      `yaml:"max_odometer_km"`
	PriceINR    int64    `yaml:"price_inr"`
	Covers      []string `yaml:"covers"`
}

type rawRules struct {
	Standard struct {
		Years       int `yaml:"years"`
		MaxOdometer int `yaml:"max_odometer_km"`
	} `yaml:"standard_warranty"`
	Extended struct {
		PurchaseWindowMonths int       `yaml:"purchase_window_months"`
		MaxTotalYears        int       `yaml:"max_total_years"`
		MaxOdometer          int       `yaml:"max_odometer_km"`
		FullRefundDays       int       `yaml:"full_refund_days"`
		AdminFeePercent      int       `yaml:"admin_fee_percent"`
		Tiers                []rawTier `yaml:"tiers"`
	} `yaml:"extended_warranty"`
	CCP struct {
		PurchaseWindowMonths int       `yaml:"purchase_window_months"`
		FullRefundDays       int       `yaml:"full_refund_days"`
		Tiers                []rawTier `yaml:"tiers"`
	} `yaml:"ccp"`
	DamageTypes []struct {
		Type             string `yaml:"type"`
		ReportWindow     string `yaml:"report_window"`
		CoverageLimitINR int64  `yaml:"coverage_limit_inr"`
		Description      string `yaml:"description"`
	} `yaml:"damage_types"`
	ClaimLimits struct {
		PerTypePerYear int `yaml:"per_type_per_policy_year"`
		Lifetime       int `yaml:"lifetime"`
	} `yaml:"claim_limits"`
	CancellationVoidsOpenClaims bool `yaml:"cancellation_voids_open_claims"`
}

// Default загружает встроенные правила.
func Default() (*Store, error) {
	return Load(bytes.NewReader(defaultRules))
}

// DefaultRules возвращает встроенный файл правил, например как шаблон для POLICY_FILE.
func DefaultRules() []byte {
	return bytes.Clone(defaultRules)
}

// LoadFile загружает правила из файла; пустой путь означает встроенные правила.
func LoadFile(path string) (*Store, error) {
	if path == "" {
		return Default()
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open policy file: %w", err)
	}
	defer f.Close()
	return Load(f)
}

// Load разбирает правила. Неизвестные поля и любые некорректные значения
// приводят к ErrMalformedPolicy.
func Load(r io.Reader) (*Store, error) {
	var raw rawRules
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPolicy, err)
	}

	s := &Store{
		standard: StandardTerms{Years: raw.Standard.Years, MaxOdometer: raw.Standard.MaxOdometer},
		extended: ExtendedTerms{
			PurchaseWindowMonths: raw.Extended.PurchaseWindowMonths,
			MaxTotalYears:        raw.Extended.MaxTotalYears,
			MaxOdometer:          raw.Extended.MaxOdometer,
		},
		ccp:    CCPTerms{PurchaseWindowMonths: raw.CCP.PurchaseWindowMonths},
		damage: make(map[model.DamageType]DamageRule, len(raw.DamageTypes)),
		limits: ClaimLimits{PerTypePerYear: raw.ClaimLimits.PerTypePerYear, Lifetime: raw.ClaimLimits.Lifetime},
		refunds: RefundTerms{
			ExtendedFullRefundDays: raw.Extended.FullRefundDays,
			ExtendedAdminFeePct:    raw.Extended.AdminFeePercent,
			CCPFullRefundDays:      raw.CCP.FullRefundDays,
		},
		cancellationVoidsOpenClaims: raw.CancellationVoidsOpenClaims,
		document:                    defaultDocument,
	}

	var err error
	if s.extendedTiers, err = convertTiers("extended_warranty", raw.Extended.Tiers); err != nil {
		return nil, err
	}
	if s.ccpTiers, err = convertTiers("ccp", raw.CCP.Tiers); err != nil {
		return nil, err
	}

	for _, d := range raw.DamageTypes {
		dt, ok := model.ParseDamageType(d.Type)
		if !ok {
			return nil, malformed("unknown damage type %q", d.Type)
		}
		if _, dup := s.damage[dt]; dup {
			return nil, malformed("duplicate damage type %q", d.Type)
		}
		window, err := time.ParseDuration(d.ReportWindow)
		if err != nil || window <= 0 {
			return nil, malformed("damage type %q: bad report window %q", d.Type, d.ReportWindow)
		}
		if d.CoverageLimitINR <= 0 {
			return nil, malformed("damage type %q: coverage limit must be positive", d.Type)
		}
		s.damage[dt] = DamageRule{
			Type:          dt,
			ReportWindow:  window,
			CoverageLimit: model.Rupees(d.CoverageLimitINR),
			Description:   d.Description,
		}
	}

	if err := s.validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func convertTiers(name string, raw []rawTier) ([]Tier, error) {
	if len(raw) == 0 {
		return nil, malformed("%s: no tiers", name)
	}
	tiers := make([]Tier, 0, len(raw))
	seen := make(map[int]bool, len(raw))
	for _, rt := range raw {
		if rt.Years <= 0 || rt.MaxOdometer <= 0 || rt.PriceINR <= 0 {
			return nil, malformed("%s: tier %d has non-positive values", name, rt.Years)
		}
		if seen[rt.Years] {
			return nil, malformed("%s: duplicate tier %d", name, rt.Years)
		}
		seen[rt.Years] = true
		t := Tier{Years: rt.Years, MaxOdometer: rt.MaxOdometer, Price: model.Rupees(rt.PriceINR)}
		for _, c := range rt.Covers {
			dt, ok := model.ParseDamageType(c)
			if !ok {
				return nil, malformed("%s: tier %d covers unknown damage type %q", name, rt.Years, c)
			}
			t.Covers = append(t.Covers, dt)
		}
		tiers = append(tiers, t)
	}
	sort.Slice(tiers, func(i, j int) bool { return tiers[i].Years < tiers[j].Years })
	return tiers, nil
}

func (s *Store) validate() error {
	if s.standard.Years <= 0 || s.standard.MaxOdometer <= 0 {
		return malformed("standard warranty terms must be positive")
	}
	if s.extended.PurchaseWindowMonths <= 0 || s.extended.MaxTotalYears <= s.standard.Years || s.extended.MaxOdometer <= 0 {
		return malformed("extended warranty terms are inconsistent")
	}
	for _, t := range s.extendedTiers {
		if t.MaxOdometer > s.extended.MaxOdometer {
			return malformed("extended tier %d exceeds odometer cap", t.Years)
		}
	}
	if s.ccp.PurchaseWindowMonths <= 0 {
		return malformed("ccp purchase window must be positive")
	}
	for _, t := range s.ccpTiers {
		if len(t.Covers) == 0 {
			return malformed("ccp tier %d covers nothing", t.Years)
		}
	}
	for _, dt := range model.DamageTypes {
		if _, ok := s.damage[dt]; !ok {
			return malformed("missing rules for damage type %q", dt)
		}
	}
	if s.limits.PerTypePerYear <= 0 || s.limits.Lifetime <= 0 || s.limits.PerTypePerYear > s.limits.Lifetime {
		return malformed("claim limits are inconsistent")
	}
	if s.refunds.ExtendedFullRefundDays < 0 || s.refunds.CCPFullRefundDays < 0 {
		return malformed("refund windows must not be negative")
	}
	if s.refunds.ExtendedAdminFeePct < 0 || s.refunds.ExtendedAdminFeePct > 100 {
		return malformed("admin fee must be within 0..100")
	}
	if !strings.Contains(s.document, "\n## ") {
		return malformed("policy document has no sections")
	}
	return nil
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedPolicy, fmt.Sprintf(format, args...))
}

// StandardWarrantyTerms возвращает условия стандартной гарантии.
func (s *Store) StandardWarrantyTerms() StandardTerms {
	return s.standard
}

// ExtendedTerms возвращает общие ограничения расширенной гарантии.
func (s *Store) ExtendedTerms() ExtendedTerms {
	return s.extended
}

// CCPTerms возвращает общие ограничения пакета CCP.
func (s *Store) CCPTerms() CCPTerms {
	return s.ccp
}

// ExtendedTiers возвращает варианты расширенной гарантии по возрастанию срока.
func (s *Store) ExtendedTiers() []Tier {
	return cloneTiers(s.extendedTiers)
}

// ExtendedTier ищет вариант расширенной гарантии по сроку.
func (s *Store) ExtendedTier(years int) (Tier, bool) {
	return findTier(s.extendedTiers, years)
}

// CCPTiers возвращает варианты CCP по возрастанию срока.
func (s *Store) CCPTiers() []Tier {
	return cloneTiers(s.ccpTiers)
}

// CCPTier ищет вариант CCP по сроку.
func (s *Store) CCPTier(years int) (Tier, bool) {
	return findTier(s.ccpTiers, years)
}

// DamageTypeRules возвращает правила для вида ущерба.
func (s *Store) DamageTypeRules(dt model.DamageType) (DamageRule, bool) {
	r, ok := s.damage[dt]
	return r, ok
}

// Limits возвращает лимиты на число претензий.
func (s *Store) Limits() ClaimLimits {
	return s.limits
}

// Refunds возвращает условия возврата.
func (s *Store) Refunds() RefundTerms {
	return s.refunds
}

// CancellationVoidsOpenClaims сообщает, аннулирует ли отмена расширенной гарантии
// незакрытые претензии.
func (s *Store) CancellationVoidsOpenClaims() bool {
	return s.cancellationVoidsOpenClaims
}

// Document возвращает текст документа политики.
func (s *Store) Document() string {
	return s.document
}

func findTier(tiers []Tier, years int) (Tier, bool) {
	for _, t := range tiers {
		if t.Years == years {
			t.Covers = slices.Clone(t.Covers)
			return t, true
		}
	}
	return Tier{}, false
}

func cloneTiers(tiers []Tier) []Tier {
	out := make([]Tier, len(tiers))
	for i, t := range tiers {
		t.Covers = slices.Clone(t.Covers)
		out[i] = t
	}
	return out
}
