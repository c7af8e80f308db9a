// Package contribution validates user-submitted fine examples before
// they enter the corpus. Validation is strict: a rejected submission is
// never partially stored.
package contribution

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// Valid contest outcomes. Empty is allowed: not every submitter knows
// the outcome yet.
var Outcomes = []string{
	"paid",
	"contested_won",
	"contested_lost",
	"pending",
}

// AmountRange bounds the plausible fine amount for a category, in
// euros. Bounds are inclusive.
type AmountRange struct {
	Min float64 `yaml:"min" json:"min"`
	Max float64 `yaml:"max" json:"max"`
}

// DefaultAmountRanges returns the per-category plausibility ranges for
// Portuguese traffic fines.
func DefaultAmountRanges() map[string]AmountRange {
	return map[string]AmountRange{
		"estacionamento": {Min: 30, Max: 300},
		"velocidade":     {Min: 60, Max: 2500},
		"sinalizacao":    {Min: 30, Max: 600},
		"documentacao":   {Min: 30, Max: 1200},
		"alcoolemia":     {Min: 250, Max: 2500},
		"outros":         {Min: 30, Max: 2500},
	}
}

// Rules parameterises validation. Zero values fall back to defaults.
type Rules struct {
	AmountRanges map[string]AmountRange
	// MaxAge is how far back date_issued may lie. Default two years.
	MaxAge time.Duration
	// Now is injectable for tests. Default time.Now.
	Now func() time.Time
}

func (r Rules) amountRanges() map[string]AmountRange {
	if r.AmountRanges != nil {
		return r.AmountRanges
	}
	return DefaultAmountRanges()
}

func (r Rules) maxAge() time.Duration {
	if r.MaxAge > 0 {
		return r.MaxAge
	}
	return 2 * 365 * 24 * time.Hour
}

func (r Rules) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

// Submission is the raw input from a user.
type Submission struct {
	Category   string  `json:"category"`
	Location   string  `json:"location"`
	Amount     float64 `json:"amount"`
	Authority  string  `json:"authority"`
	DateIssued string  `json:"date_issued"` // YYYY-MM-DD
	Outcome    string  `json:"outcome,omitempty"`
}

// Record is a validated submission with its deterministic identity and
// privacy token assigned.
type Record struct {
	ID           string
	Category     string
	Location     string
	Amount       float64
	Authority    string
	DateIssued   string
	Outcome      string
	PrivacyToken string
}

// ValidationError reports which field failed and why.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("contribution: invalid %s: %s", e.Field, e.Reason)
}

// Validate checks a submission against the rules and, on success,
// returns a record with a deterministic ID and privacy token. The ID is
// derived from (location, date, amount) so the same fine submitted
// twice maps to the same record.
func Validate(sub Submission, rules Rules) (*Record, error) {
	category := strings.ToLower(strings.TrimSpace(sub.Category))
	if category == "" {
		return nil, &ValidationError{Field: "category", Reason: "required"}
	}
	ranges := rules.amountRanges()
	rng, ok := ranges[category]
	if !ok {
		return nil, &ValidationError{Field: "category",
			Reason: fmt.Sprintf("unknown category %q", category)}
	}

	location := strings.TrimSpace(sub.Location)
	if location == "" {
		return nil, &ValidationError{Field: "location", Reason: "required"}
	}

	if sub.Amount < rng.Min || sub.Amount > rng.Max {
		return nil, &ValidationError{Field: "amount",
			Reason: fmt.Sprintf("%.2f outside plausible range [%.2f, %.2f] for %s",
				sub.Amount, rng.Min, rng.Max, category)}
	}

	authority := strings.TrimSpace(sub.Authority)
	if authority == "" {
		return nil, &ValidationError{Field: "authority", Reason: "required"}
	}

	date := strings.TrimSpace(sub.DateIssued)
	issued, err := time.Parse("2006-01-02", date)
	if err != nil {
		return nil, &ValidationError{Field: "date_issued",
			Reason: "must be a valid YYYY-MM-DD date"}
	}
	now := rules.now()
	if issued.After(now) {
		return nil, &ValidationError{Field: "date_issued", Reason: "lies in the future"}
	}
	if now.Sub(issued) > rules.maxAge() {
		return nil, &ValidationError{Field: "date_issued",
			Reason: "older than the accepted window"}
	}

	outcome := strings.TrimSpace(sub.Outcome)
	if outcome != "" && !contains(Outcomes, outcome) {
		return nil, &ValidationError{Field: "outcome",
			Reason: fmt.Sprintf("unknown outcome %q", outcome)}
	}

	return &Record{
		ID:           RecordID(location, date, sub.Amount),
		Category:     category,
		Location:     location,
		Amount:       sub.Amount,
		Authority:    authority,
		DateIssued:   date,
		Outcome:      outcome,
		PrivacyToken: PrivacyToken(location, date),
	}, nil
}

// RecordID derives the deterministic contribution identity from the
// fields that identify a single real-world fine.
func RecordID(location, date string, amount float64) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%.2f",
		strings.ToLower(location), date, amount)))
	return hex.EncodeToString(sum[:])[:16]
}

// PrivacyToken produces an irreversible token tying a contribution to
// its place and date without storing them in recoverable form once the
// record is anonymized.
func PrivacyToken(location, date string) string {
	city := cityOf(location)
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%s",
		strings.ToLower(city), date, strings.ToLower(location))))
	return hex.EncodeToString(sum[:])
}

// cityOf extracts the city component: the part before the first comma,
// or the whole location when there is none.
func cityOf(location string) string {
	if i := strings.Index(location, ","); i >= 0 {
		return strings.TrimSpace(location[:i])
	}
	return strings.TrimSpace(location)
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
