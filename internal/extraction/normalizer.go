// Package extraction turns unreliable, schema-free model output into typed
// candidate records.
//
// Normalization is a pure function of its input and the Normalizer's fixed
// configuration, so callers may run it from any number of goroutines.
package extraction

import (
	"strings"

	"finledger/internal/core"
)

// Options configures a Normalizer.
type Options struct {
	// DefaultCurrency applies when neither the amount nor a currency field
	// names one.
	DefaultCurrency string
	// DayFirst reads 03/04/2025 as 3 April.
	DayFirst bool
	// KnownMerchants enables snapping to canonical merchant names.
	KnownMerchants      []string
	MerchantMaxDistance int
}

// Normalizer maps raw extraction output to a CandidateRecord.
type Normalizer struct {
	defaultCurrency string
	dayFirst        bool
	merchants       *merchantResolver
}

// Outcome is a tagged result: exactly one of Candidate or Failure is set.
type Outcome struct {
	Candidate core.CandidateRecord
	Failure   *core.NormalizationFailure
}

// OK reports whether normalization produced a candidate.
func (o Outcome) OK() bool {
	return o.Failure == nil
}

func NewNormalizer(opts Options) *Normalizer {
	currency := strings.ToUpper(strings.TrimSpace(opts.DefaultCurrency))
	if currency == "" {
		currency = "EUR"
	}
	return &Normalizer{
		defaultCurrency: currency,
		dayFirst:        opts.DayFirst,
		merchants:       newMerchantResolver(opts.KnownMerchants, opts.MerchantMaxDistance),
	}
}

// Normalize parses raw model output for the document identified by
// sourceHash. It never panics and never returns a partially filled
// candidate.
func (n *Normalizer) Normalize(raw, sourceHash, submittedBy string) Outcome {
	if strings.TrimSpace(raw) == "" {
		return fail(core.ReasonEmptyOutput, "model returned no text")
	}

	fields := parseFields(raw)
	if !fields.recognized() {
		return fail(core.ReasonEmptyOutput, "no recognizable fields")
	}

	amountText, ok := fields.first(amountKeys)
	if !ok {
		return fail(core.ReasonMissingAmount, "")
	}
	amount, ok := parseAmount(amountText)
	if !ok {
		return fail(core.ReasonMissingAmount, "unreadable amount "+quote(amountText))
	}
	currency := amount.currency
	if currency == "" {
		if c, ok := fields.first(currencyKeys); ok {
			currency = currencyCode(c)
		}
	}
	if currency == "" {
		currency = n.defaultCurrency
	}
	minor, err := core.ParseMinor(amount.value, currency)
	if err != nil {
		return fail(core.ReasonMissingAmount, err.Error())
	}

	dateText, ok := fields.first(dateKeys)
	if !ok {
		return fail(core.ReasonUnparseableDate, "no date field")
	}
	date, ok := parseDate(dateText, n.dayFirst)
	if !ok {
		return fail(core.ReasonUnparseableDate, "unreadable date "+quote(dateText))
	}

	merchantText, _ := fields.first(merchantKeys)
	merchant, ok := n.merchants.resolve(merchantText)
	if !ok {
		if merchantText == "" {
			return fail(core.ReasonAmbiguousMerchant, "no merchant field")
		}
		return fail(core.ReasonAmbiguousMerchant, quote(merchantText)+" matches several known merchants")
	}

	category, _ := fields.first(categoryKeys)
	if category == "" {
		category = core.Uncategorized
	}

	refund := isRefund(fields)
	if refund && minor > 0 {
		minor = -minor
	}

	return Outcome{Candidate: core.CandidateRecord{
		Date:          date,
		Merchant:      merchant,
		Amount:        core.Money{Minor: minor, Currency: currency},
		Category:      category,
		Refund:        refund,
		SourceHash:    sourceHash,
		SubmittedBy:   submittedBy,
		RawExtraction: raw,
	}}
}

func isRefund(f fieldSet) bool {
	if v, ok := f.first(refundKeys); ok {
		switch strings.ToLower(v) {
		case "true", "yes", "y", "1":
			return true
		}
	}
	if v, ok := f.first(docTypeKeys); ok {
		switch strings.ToLower(strings.ReplaceAll(v, " ", "_")) {
		case "refund", "credit_note", "return":
			return true
		}
	}
	return false
}

// currencyCode maps a currency field value ("Rp", "usd", "€") to ISO 4217.
func currencyCode(v string) string {
	v = strings.TrimSpace(v)
	for _, cs := range currencySymbols {
		if strings.EqualFold(v, cs.symbol) {
			return cs.code
		}
	}
	code := strings.ToUpper(v)
	if len(code) == 3 {
		for _, r := range code {
			if r < 'A' || r > 'Z' {
				return ""
			}
		}
		return code
	}
	return ""
}

func fail(reason core.FailureReason, detail string) Outcome {
	return Outcome{Failure: &core.NormalizationFailure{Reason: reason, Detail: detail}}
}

func quote(s string) string {
	if r := []rune(s); len(r) > 40 {
		s = string(r[:40]) + "…"
	}
	return `"` + s + `"`
}
