package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"finledger/internal/core"
)

// Domain holds the ledger's business settings: the closed category set,
// budgets, report schedules and extraction tolerances. It is read once at
// startup and treated as immutable.
type Domain struct {
	Categories          []string        `mapstructure:"categories" validate:"required,min=1,dive,required"`
	DefaultCurrency     string          `mapstructure:"default_currency" validate:"required,iso4217"`
	KnownMerchants      []string        `mapstructure:"known_merchants" validate:"dive,required"`
	MerchantMaxDistance int             `mapstructure:"merchant_max_distance" validate:"gte=0,lte=10"`
	DayFirst            bool            `mapstructure:"day_first"`
	Dedup               DedupConfig     `mapstructure:"dedup"`
	Validation          ValidationRules `mapstructure:"validation"`
	Budgets             []BudgetEntry   `mapstructure:"budgets" validate:"dive"`
	Schedules           []ScheduleEntry `mapstructure:"schedules" validate:"dive"`
	Timezone            string          `mapstructure:"timezone" validate:"required,timezone"`
}

// DedupConfig selects what the duplicate key hashes: the raw document bytes
// or the normalized (date, merchant, amount) fields.
type DedupConfig struct {
	Granularity string `mapstructure:"granularity" validate:"oneof=document fields"`
}

type ValidationRules struct {
	MaxAmount           string            `mapstructure:"max_amount" validate:"required,numeric"`
	MaxAmountByCurrency map[string]string `mapstructure:"max_amount_by_currency" validate:"dive,numeric"`
	FutureToleranceDays int               `mapstructure:"future_tolerance_days" validate:"gte=0,lte=365"`
	MaxAgeDays          int               `mapstructure:"max_age_days" validate:"gte=1"`
}

type BudgetEntry struct {
	Category string `mapstructure:"category" validate:"required"`
	Period   string `mapstructure:"period" validate:"omitempty,budget_month"`
	Limit    string `mapstructure:"limit" validate:"required,numeric"`
	Currency string `mapstructure:"currency" validate:"omitempty,iso4217"`
}

type ScheduleEntry struct {
	User          string   `mapstructure:"user" validate:"required"`
	Period        string   `mapstructure:"period" validate:"required,oneof=daily weekly monthly"`
	Recipients    []string `mapstructure:"recipients" validate:"required,min=1,dive,email"`
	Grouping      string   `mapstructure:"grouping" validate:"omitempty,oneof=category merchant none"`
	IncludeBudget bool     `mapstructure:"include_budget"`
	Hour          int      `mapstructure:"hour" validate:"gte=0,lte=23"`
}

// DefaultDomain mirrors the defaults LoadDomain applies when no file is given.
func DefaultDomain() Domain {
	return Domain{
		Categories:          []string{"Food", "Transport", "Housing", "Utilities", "Health", "Shopping", "Entertainment"},
		DefaultCurrency:     "EUR",
		MerchantMaxDistance: 2,
		DayFirst:            true,
		Dedup:               DedupConfig{Granularity: "document"},
		Validation: ValidationRules{
			MaxAmount:           "100000",
			MaxAmountByCurrency: defaultCeilings(),
			FutureToleranceDays: 7,
			MaxAgeDays:          3650,
		},
		Timezone: "UTC",
	}
}

// LoadDomain reads the domain settings file at path (YAML, TOML or JSON by
// extension). An empty path yields the defaults. Environment variables with
// prefix FINLEDGER_ override scalar keys, e.g. FINLEDGER_DEFAULT_CURRENCY.
func LoadDomain(path string) (*Domain, error) {
	def := DefaultDomain()

	v := viper.New()
	v.SetDefault("categories", def.Categories)
	v.SetDefault("default_currency", def.DefaultCurrency)
	v.SetDefault("merchant_max_distance", def.MerchantMaxDistance)
	v.SetDefault("day_first", def.DayFirst)
	v.SetDefault("dedup.granularity", def.Dedup.Granularity)
	v.SetDefault("validation.max_amount", def.Validation.MaxAmount)
	v.SetDefault("validation.future_tolerance_days", def.Validation.FutureToleranceDays)
	v.SetDefault("validation.max_age_days", def.Validation.MaxAgeDays)
	v.SetDefault("timezone", def.Timezone)

	v.SetEnvPrefix("FINLEDGER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read domain config %s: %w", path, err)
		}
	}

	var d Domain
	if err := v.Unmarshal(&d); err != nil {
		return nil, fmt.Errorf("unmarshal domain config: %w", err)
	}
	d.DefaultCurrency = strings.ToUpper(d.DefaultCurrency)
	d.Validation.MaxAmountByCurrency = mergeCeilings(def.Validation.MaxAmountByCurrency, d.Validation.MaxAmountByCurrency)
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return &d, nil
}

// Validate runs struct-tag validation plus the cross-field checks the tags
// cannot express.
func (d *Domain) Validate() error {
	validate := newValidator()
	var problems []string

	if err := validate.Struct(d); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				problems = append(problems, fmt.Sprintf("%s failed '%s' (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
			}
		} else {
			problems = append(problems, err.Error())
		}
	}

	cats := make(map[string]bool, len(d.Categories))
	for _, c := range d.Categories {
		if cats[c] {
			problems = append(problems, fmt.Sprintf("duplicate category %q", c))
		}
		cats[c] = true
	}
	if cats[core.Uncategorized] {
		problems = append(problems, fmt.Sprintf("category %q is reserved", core.Uncategorized))
	}
	for _, b := range d.Budgets {
		if b.Category != "" && !cats[b.Category] {
			problems = append(problems, fmt.Sprintf("budget for unknown category %q", b.Category))
		}
	}
	seen := map[string]bool{}
	for _, s := range d.Schedules {
		key := s.User + "/" + s.Period
		if seen[key] {
			problems = append(problems, fmt.Sprintf("duplicate schedule for user %q period %q", s.User, s.Period))
		}
		seen[key] = true
	}

	if len(problems) > 0 {
		return fmt.Errorf("domain configuration validation failed:\n- %s", strings.Join(problems, "\n- "))
	}
	return nil
}

// BudgetLimits converts configured budgets to core limits.
func (d *Domain) BudgetLimits() ([]core.BudgetLimit, error) {
	out := make([]core.BudgetLimit, 0, len(d.Budgets))
	for _, b := range d.Budgets {
		currency := b.Currency
		if currency == "" {
			currency = d.DefaultCurrency
		}
		limit, err := core.NewMoney(b.Limit, currency)
		if err != nil {
			return nil, fmt.Errorf("budget %s %s: %w", b.Category, b.Period, err)
		}
		bl := core.BudgetLimit{Category: b.Category, Period: b.Period, Limit: limit}
		if err := bl.Validate(); err != nil {
			return nil, fmt.Errorf("budget %s %s: %w", b.Category, b.Period, err)
		}
		out = append(out, bl)
	}
	return out, nil
}

// defaultCeilings lifts the generic max_amount for currencies whose major
// unit is worth a small fraction of a euro. Values are roughly 100k EUR.
func defaultCeilings() map[string]string {
	return map[string]string{
		"IDR": "2000000000",
		"VND": "3000000000",
		"KRW": "150000000",
		"JPY": "20000000",
		"HUF": "40000000",
		"CLP": "100000000",
		"COP": "500000000",
		"INR": "10000000",
	}
}

// mergeCeilings keys ceilings by upper-case currency. Configured values win
// over defaults.
func mergeCeilings(defaults, configured map[string]string) map[string]string {
	out := make(map[string]string, len(defaults)+len(configured))
	for k, v := range defaults {
		out[strings.ToUpper(k)] = v
	}
	for k, v := range configured {
		out[strings.ToUpper(k)] = v
	}
	return out
}

// MaxAmountMinor returns the largest accepted absolute amount in minor units
// of currency.
func (d *Domain) MaxAmountMinor(currency string) (int64, error) {
	s := d.Validation.MaxAmount
	// viper lower-cases map keys, so match currencies case-insensitively.
	for k, v := range d.Validation.MaxAmountByCurrency {
		if strings.EqualFold(k, currency) {
			s = v
			break
		}
	}
	return core.ParseMinor(s, currency)
}

// Location resolves the configured timezone used for period boundaries.
func (d *Domain) Location() *time.Location {
	loc, err := time.LoadLocation(d.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("budget_month", validateBudgetMonth)
	return v
}

func validateBudgetMonth(fl validator.FieldLevel) bool {
	_, err := time.Parse("2006-01", fl.Field().String())
	return err == nil
}
