package format

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	seqPadRe = regexp.MustCompile(`\{SEQ(\d+)\}`)

	// IST is the zone fiscal years are evaluated in.
	IST = time.FixedZone("IST", 5*60*60+30*60)
)

const DefaultInvoiceNumberTemplate = "{PREFIX}/{FY}/{SEQ5}"

// FiscalYear returns the Indian fiscal year (April to March) containing t, e.g. "2026-27".
func FiscalYear(t time.Time) string {
	local := t.In(IST)
	start := local.Year()
	if local.Month() < time.April {
		start--
	}
	return fmt.Sprintf("%d-%02d", start, (start+1)%100)
}

// FormatInvoiceNumber formats a human-readable invoice number
// based on a template, prefix, invoice issue time, and monotonic sequence.
// It has no side effects.
func FormatInvoiceNumber(template, prefix string, issuedAt time.Time, seq int64) (string, error) {
	if template == "" {
		return "", fmt.Errorf("invoice number template is empty")
	}
	if seq <= 0 {
		return "", fmt.Errorf("invalid invoice sequence: %d", seq)
	}

	out := expandStatic(template, prefix, issuedAt)

	out = strings.ReplaceAll(out, "{SEQ}", strconv.FormatInt(seq, 10))
	out = seqPadRe.ReplaceAllStringFunc(out, func(m string) string {
		match := seqPadRe.FindStringSubmatch(m)
		if len(match) != 2 {
			return m
		}

		width, err := strconv.Atoi(match[1])
		if err != nil || width <= 0 {
			return m
		}

		return fmt.Sprintf("%0*d", width, seq)
	})

	if strings.Contains(out, "{") || strings.Contains(out, "}") {
		return "", fmt.Errorf("unresolved token in invoice format: %s", out)
	}

	return out, nil
}

// SequenceScope returns the rendered template text before the sequence token. All
// numbers sharing a scope belong to one counter, e.g. "INV/2026-27/".
func SequenceScope(template, prefix string, issuedAt time.Time) (string, error) {
	out := expandStatic(template, prefix, issuedAt)
	loc := seqPadRe.FindStringIndex(out)
	idx := strings.Index(out, "{SEQ}")
	switch {
	case loc == nil && idx < 0:
		return "", fmt.Errorf("invoice number template has no sequence token: %s", template)
	case loc != nil && (idx < 0 || loc[0] < idx):
		idx = loc[0]
	}

	scope := out[:idx]
	if strings.Contains(scope, "{") || strings.Contains(scope, "}") {
		return "", fmt.Errorf("unresolved token in invoice format: %s", scope)
	}
	return scope, nil
}

// ParseSequence extracts the sequence from a number rendered under scope.
func ParseSequence(number, scope string) (int64, bool) {
	if !strings.HasPrefix(number, scope) {
		return 0, false
	}
	rest := number[len(scope):]
	end := 0
	for end < len(rest) && rest[end] >= '0' && rest[end] <= '9' {
		end++
	}
	if end == 0 {
		return 0, false
	}
	seq, err := strconv.ParseInt(rest[:end], 10, 64)
	if err != nil || seq <= 0 {
		return 0, false
	}
	return seq, true
}

func expandStatic(template, prefix string, issuedAt time.Time) string {
	local := issuedAt.In(IST)
	out := strings.ReplaceAll(template, "{PREFIX}", prefix)
	out = strings.ReplaceAll(out, "{FY}", FiscalYear(issuedAt))
	out = strings.ReplaceAll(out, "{YYYY}", local.Format("2006"))
	out = strings.ReplaceAll(out, "{YY}", local.Format("06"))
	out = strings.ReplaceAll(out, "{MM}", local.Format("01"))
	return out
}
