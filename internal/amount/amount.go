// Package amount canonicalizes transaction amounts into a single signed form,
// "+100.00" or "-50.00".
package amount

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	// ErrAmbiguous is returned when split credit/debit columns are both populated or both empty.
	ErrAmbiguous = errors.New("ambiguous amount")
	// ErrUnparsable is returned when no magnitude can be read from a value.
	ErrUnparsable = errors.New("unparsable amount")
	// ErrUnknownIndicator is returned for a type indicator outside the configured mapping.
	ErrUnknownIndicator = errors.New("unknown type indicator")
)

type Sign int

const (
	Positive Sign = 1
	Negative Sign = -1
)

// DefaultIndicators maps lower-case type indicator tokens to the sign they imply.
var DefaultIndicators = map[string]Sign{
	"dr":         Negative,
	"d":          Negative,
	"debit":      Negative,
	"withdrawal": Negative,
	"cr":         Positive,
	"c":          Positive,
	"credit":     Positive,
	"deposit":    Positive,
}

// Input carries every encoding an extracted row may use for its amount.
// Precedence: Raw with Indicator, then Raw alone, then Credit/Debit.
type Input struct {
	Raw       string
	Indicator string
	Credit    string
	Debit     string
}

type Normalizer struct {
	Indicators map[string]Sign
}

func NewNormalizer() *Normalizer {
	return &Normalizer{Indicators: DefaultIndicators}
}

var defaultNormalizer = NewNormalizer()

// Normalize uses DefaultIndicators.
func Normalize(in Input) (string, error) {
	return defaultNormalizer.Normalize(in)
}

func (n *Normalizer) Normalize(in Input) (string, error) {
	raw := strings.TrimSpace(in.Raw)
	indicator := strings.ToLower(strings.TrimSpace(in.Indicator))

	if raw != "" {
		mag, err := magnitude(raw)
		if err != nil {
			return "", err
		}
		if indicator != "" {
			if sign, ok := n.Indicators[indicator]; ok {
				return format(sign, mag), nil
			}
			// An unmapped indicator only fails the row when the raw value
			// carries no sign notation of its own.
			if _, ok := notation(raw); !ok {
				return "", fmt.Errorf("%w: %q", ErrUnknownIndicator, in.Indicator)
			}
		}
		sign, _ := notation(raw)
		return format(sign, mag), nil
	}

	credit, creditSet, err := splitColumn(in.Credit)
	if err != nil {
		return "", fmt.Errorf("credit: %w", err)
	}
	debit, debitSet, err := splitColumn(in.Debit)
	if err != nil {
		return "", fmt.Errorf("debit: %w", err)
	}

	switch {
	case creditSet && debitSet:
		return "", fmt.Errorf("%w: both credit %q and debit %q are populated", ErrAmbiguous, in.Credit, in.Debit)
	case creditSet:
		return format(Positive, credit), nil
	case debitSet:
		return format(Negative, debit), nil
	default:
		return "", fmt.Errorf("%w: no amount, credit or debit value", ErrAmbiguous)
	}
}

// splitColumn treats blank and zero cells as unpopulated; statements often print
// 0.00 in the unused column.
func splitColumn(v string) (decimal.Decimal, bool, error) {
	if strings.TrimSpace(v) == "" {
		return decimal.Zero, false, nil
	}
	mag, err := magnitude(v)
	if err != nil {
		return decimal.Zero, false, err
	}
	if mag.IsZero() {
		return decimal.Zero, false, nil
	}
	return mag, true, nil
}

var (
	noise        = regexp.MustCompile(`[$₹€£¥,\s]`)
	tokenSuffix  = regexp.MustCompile(`(?i)(dr|cr)\.?$`)
	magnitudePat = regexp.MustCompile(`^(?:\d+(?:\.\d+)?|\.\d+)$`)
)

// magnitude reads the absolute value of an amount. Currency symbols, thousands
// separators and sign notation are removed first; whatever remains must be a
// plain decimal number.
func magnitude(v string) (decimal.Decimal, error) {
	s := stripNotation(noise.ReplaceAllString(v, ""))
	if !magnitudePat.MatchString(s) {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrUnparsable, v)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q: %v", ErrUnparsable, v, err)
	}
	return d.Abs(), nil
}

// stripNotation removes one layer of sign notation: surrounding parentheses,
// a trailing Dr/Cr token, a leading sign or a trailing minus.
func stripNotation(s string) string {
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		s = s[1 : len(s)-1]
	}
	s = tokenSuffix.ReplaceAllString(s, "")
	s = strings.TrimSuffix(s, "-")
	if strings.HasPrefix(s, "-") || strings.HasPrefix(s, "+") {
		s = s[1:]
	}
	return s
}

// notation reports the sign a raw amount spells out for itself, if any.
func notation(v string) (Sign, bool) {
	s := strings.ToLower(strings.TrimSpace(v))
	switch {
	case s == "":
		return Positive, false
	case strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")"):
		return Negative, true
	case strings.HasPrefix(s, "-") || strings.HasSuffix(s, "-"):
		return Negative, true
	case strings.HasPrefix(s, "+"):
		return Positive, true
	}
	switch trimmed := strings.TrimRight(s, ". "); {
	case strings.HasSuffix(trimmed, "dr"):
		return Negative, true
	case strings.HasSuffix(trimmed, "cr"):
		return Positive, true
	}
	return Positive, false
}

// IsNegative reports whether a raw amount carries debit notation: a leading or
// trailing minus, surrounding parentheses, or a trailing Dr token.
func IsNegative(v string) bool {
	sign, ok := notation(v)
	return ok && sign == Negative
}

// Rule names the normalization rule an error violated, for reporting to callers.
func Rule(err error) string {
	switch {
	case errors.Is(err, ErrAmbiguous):
		return "ambiguous"
	case errors.Is(err, ErrUnknownIndicator):
		return "unknown_indicator"
	case errors.Is(err, ErrUnparsable):
		return "unparsable"
	default:
		return ""
	}
}

func format(sign Sign, mag decimal.Decimal) string {
	prefix := "+"
	if sign == Negative {
		prefix = "-"
	}
	return prefix + mag.StringFixed(2)
}
