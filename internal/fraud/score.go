package fraud

import (
	"fmt"
	"math"
	"strings"
	"time"
	"unicode"

	"github.com/BradenHooton/estateguard/internal/models"
)

// Rule names recorded with every decision
const (
	RuleVelocity  = "velocity"
	RuleNaming    = "sequential_naming"
	RuleComposite = "composite"
)

// Breakdown keys for the composite sub-scores
const (
	FactorVelocity         = "velocity"
	FactorEntropy          = "entropy"
	FactorEmailPattern     = "email_pattern"
	FactorMetadataMismatch = "metadata_mismatch"
)

// Input is everything Evaluate looks at. Recent should hold the referrer's
// referrals fetched for the policy window; Subject is added if missing.
type Input struct {
	ReferrerID string
	Subject    models.Referral
	Recent     []models.Referral
	Now        time.Time
}

type Decision struct {
	IsFraud   bool
	Score     float64
	Rule      string
	Reason    string
	Breakdown map[string]float64
	Evidence  []string
}

// Signal converts a flagged decision into the audit payload
func (d Decision) Signal(referrerID, subjectID string) *models.FraudSignal {
	return &models.FraudSignal{
		ReferrerID: referrerID,
		SubjectID:  subjectID,
		Rule:       d.Rule,
		Reason:     d.Reason,
		Score:      d.Score,
		Breakdown:  d.Breakdown,
		Evidence:   d.Evidence,
	}
}

// Evaluate scores one referral. It is deterministic for a given input and policy.
func Evaluate(in Input, p Policy) Decision {
	window := inWindow(in, p.Window)

	if len(window) >= p.VelocityHardLimit {
		return Decision{
			IsFraud:  true,
			Score:    1.0,
			Rule:     RuleVelocity,
			Reason:   "High Velocity",
			Evidence: []string{fmt.Sprintf("%d referrals within %s", len(window), p.Window)},
		}
	}

	if a, b, ok := sequentialPair(window, p.NamingMinPrefix); ok {
		return Decision{
			IsFraud:  true,
			Score:    p.NamingScore,
			Rule:     RuleNaming,
			Reason:   "Sequential Naming Pattern",
			Evidence: []string{a, b},
		}
	}

	breakdown := map[string]float64{
		FactorVelocity:         velocityScore(len(window), p.VelocityMidpoint, p.VelocitySteepness),
		FactorEntropy:          entropyScore(in.Subject.Username, p.EntropyHigh, p.EntropyMedium),
		FactorEmailPattern:     emailPatternScore(in.Subject.Email),
		FactorMetadataMismatch: metadataMismatchScore(in.Subject.Username, in.Subject.Email),
	}

	// fixed summation order keeps the float result reproducible
	score := p.Weights.Velocity*breakdown[FactorVelocity] +
		p.Weights.Entropy*breakdown[FactorEntropy] +
		p.Weights.EmailPattern*breakdown[FactorEmailPattern] +
		p.Weights.MetadataMismatch*breakdown[FactorMetadataMismatch]

	d := Decision{
		Score:     score,
		Rule:      RuleComposite,
		Breakdown: breakdown,
	}
	if score >= p.Threshold {
		d.IsFraud = true
		d.Reason = "Composite Risk Score"
	}
	return d
}

func inWindow(in Input, window time.Duration) []models.Referral {
	since := in.Now.Add(-window)
	out := make([]models.Referral, 0, len(in.Recent)+1)
	seenSubject := false
	for _, r := range in.Recent {
		if r.CreatedAt.Before(since) || r.CreatedAt.After(in.Now) {
			continue
		}
		if r.SubjectID == in.Subject.SubjectID {
			seenSubject = true
		}
		out = append(out, r)
	}
	if !seenSubject {
		out = append(out, in.Subject)
	}
	return out
}

// sequentialPair finds two distinct usernames sharing a prefix followed by digits only
func sequentialPair(referrals []models.Referral, minPrefix int) (string, string, bool) {
	byPrefix := make(map[string]string, len(referrals))
	for _, r := range referrals {
		prefix, ok := numericSuffixPrefix(r.Username)
		if !ok || len([]rune(prefix)) < minPrefix {
			continue
		}
		key := strings.ToLower(prefix)
		if first, seen := byPrefix[key]; seen && !strings.EqualFold(first, r.Username) {
			return first, r.Username, true
		}
		byPrefix[key] = r.Username
	}
	return "", "", false
}

func numericSuffixPrefix(username string) (string, bool) {
	trimmed := strings.TrimRightFunc(username, unicode.IsDigit)
	if trimmed == username || trimmed == "" {
		return "", false
	}
	return trimmed, true
}

func velocityScore(count int, midpoint, steepness float64) float64 {
	return 1 / (1 + math.Exp(-steepness*(float64(count)-midpoint)))
}

// ShannonEntropy is measured in bits per character
func ShannonEntropy(s string) float64 {
	runes := []rune(s)
	if len(runes) == 0 {
		return 0
	}
	counts := make(map[rune]int, len(runes))
	for _, r := range runes {
		counts[r]++
	}

	// iterate in string order so the sum is identical on every call
	n := float64(len(runes))
	entropy := 0.0
	done := make(map[rune]bool, len(counts))
	for _, r := range runes {
		if done[r] {
			continue
		}
		done[r] = true
		p := float64(counts[r]) / n
		entropy -= p * math.Log2(p)
	}
	return entropy
}

func entropyScore(username string, high, medium float64) float64 {
	e := ShannonEntropy(username)
	switch {
	case e > high:
		return 1.0
	case e > medium:
		return 0.5
	default:
		return 0.0
	}
}

func emailPatternScore(email string) float64 {
	local := localPart(email)
	score := 0.0

	if strings.Contains(local, "+") {
		score += 0.4
	}
	if strings.Count(local, ".") > 2 {
		score += 0.3
	}
	if n := len([]rune(local)); n > 20 || n < 3 {
		score += 0.2
	}
	if digitHeavy(local) {
		score += 0.3
	}
	return math.Min(score, 1.0)
}

// digitHeavy reports whether at least half of the local part is digits
func digitHeavy(local string) bool {
	if local == "" {
		return false
	}
	digits, total := 0, 0
	for _, r := range local {
		total++
		if unicode.IsDigit(r) {
			digits++
		}
	}
	return digits*2 >= total
}

func metadataMismatchScore(username, email string) float64 {
	u := strings.ToLower(username)
	l := strings.ToLower(localPart(email))
	if u == "" || l == "" {
		return 1.0
	}
	if strings.Contains(l, u) || strings.Contains(u, l) {
		return 0.0
	}
	if sharesRun(u, l, 4) {
		return 0.1
	}
	return 1.0
}

func sharesRun(a, b string, n int) bool {
	ra := []rune(a)
	for i := 0; i+n <= len(ra); i++ {
		if strings.Contains(b, string(ra[i:i+n])) {
			return true
		}
	}
	return false
}

func localPart(email string) string {
	if i := strings.LastIndex(email, "@"); i >= 0 {
		return email[:i]
	}
	return email
}
