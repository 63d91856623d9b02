package extraction

import (
	"bufio"
	"bytes"
	"encoding/json"
	"strings"
)

// fieldSet is the flattened key/value view of one model response. Keys are
// lower-case with spaces and hyphens turned into underscores.
type fieldSet map[string]string

var (
	amountKeys   = []string{"grand_total", "total", "total_amount", "fully_paid_amount", "amount_paid", "paid_amount", "total_paid", "amount", "jumlah", "sum"}
	dateKeys     = []string{"date", "transaction_date", "invoice_date", "receipt_date", "purchase_date", "tanggal"}
	merchantKeys = []string{"merchant", "merchant_name", "supplier_company_name", "supplier_brand_name", "store", "store_name", "vendor", "seller", "payee", "shop"}
	currencyKeys = []string{"currency", "currency_code"}
	categoryKeys = []string{"category"}
	refundKeys   = []string{"refund", "is_refund"}
	docTypeKeys  = []string{"document_type", "type"}
)

// first returns the first non-empty value among keys, in priority order.
func (f fieldSet) first(keys []string) (string, bool) {
	for _, k := range keys {
		if v, ok := f[k]; ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v), true
		}
	}
	return "", false
}

// present reports whether any of keys exists, even with an empty value.
func (f fieldSet) present(keys []string) bool {
	for _, k := range keys {
		if _, ok := f[k]; ok {
			return true
		}
	}
	return false
}

func (f fieldSet) recognized() bool {
	for _, keys := range [][]string{amountKeys, dateKeys, merchantKeys, currencyKeys, categoryKeys} {
		if f.present(keys) {
			return true
		}
	}
	return false
}

// parseFields turns raw model output into a fieldSet. JSON is tried first
// (after stripping Markdown fences and surrounding prose), then a Python-ish
// single-quoted dict, then "key: value" lines.
func parseFields(raw string) fieldSet {
	clean := stripFences(raw)
	if obj := jsonObject(clean); obj != nil {
		return flatten(obj)
	}
	if strings.Contains(clean, "'") {
		if obj := jsonObject(strings.ReplaceAll(clean, "'", `"`)); obj != nil {
			return flatten(obj)
		}
	}
	return keyValueLines(clean)
}

func stripFences(raw string) string {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx != -1 {
			s = s[idx+1:]
		} else {
			s = strings.TrimPrefix(s, "```")
		}
	}
	if idx := strings.LastIndex(s, "```"); idx != -1 {
		s = s[:idx]
	}
	return strings.TrimSpace(s)
}

// jsonObject decodes the outermost {...} or [...] in s and returns the
// first object it finds, or nil.
func jsonObject(s string) map[string]any {
	start := strings.IndexAny(s, "{[")
	if start == -1 {
		return nil
	}
	closer := "}"
	if s[start] == '[' {
		closer = "]"
	}
	end := strings.LastIndex(s, closer)
	if end <= start {
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader([]byte(s[start : end+1])))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil
	}
	return firstObject(v)
}

func firstObject(v any) map[string]any {
	switch t := v.(type) {
	case map[string]any:
		return t
	case []any:
		for _, e := range t {
			if m, ok := e.(map[string]any); ok {
				return m
			}
		}
	}
	return nil
}

// flatten keeps scalar top-level values. A lone wrapper object such as
// {"receipt": {...}} is unwrapped, and a currency found only on the first
// line item is lifted to the top level.
func flatten(obj map[string]any) fieldSet {
	if len(obj) == 1 {
		for _, v := range obj {
			if inner, ok := v.(map[string]any); ok {
				return flatten(inner)
			}
		}
	}

	out := fieldSet{}
	for k, v := range obj {
		if s, ok := scalar(v); ok {
			out[normalizeKey(k)] = s
		}
	}
	if !out.present(currencyKeys) {
		if items, ok := obj["items"].([]any); ok {
			if item := firstObject(items); item != nil {
				if c, ok := scalar(item["currency"]); ok && c != "" {
					out["currency"] = c
				}
			}
		}
	}
	return out
}

func scalar(v any) (string, bool) {
	switch t := v.(type) {
	case nil:
		return "", true
	case string:
		return t, true
	case json.Number:
		return t.String(), true
	case bool:
		if t {
			return "true", true
		}
		return "false", true
	}
	return "", false
}

func keyValueLines(s string) fieldSet {
	out := fieldSet{}
	sc := bufio.NewScanner(strings.NewReader(s))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		line = strings.TrimLeft(line, "-*• ")
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			key, value, ok = strings.Cut(line, "=")
		}
		if !ok {
			continue
		}
		k := normalizeKey(key)
		if k == "" {
			continue
		}
		if _, dup := out[k]; dup {
			continue
		}
		out[k] = strings.Trim(strings.TrimSpace(value), `"',`)
	}
	return out
}

func normalizeKey(k string) string {
	k = strings.ToLower(strings.Trim(strings.TrimSpace(k), `"'*`))
	k = strings.NewReplacer(" ", "_", "-", "_").Replace(k)
	return k
}
