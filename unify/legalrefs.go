package unify

import (
	"regexp"
	"strings"
)

// Reference patterns for Portuguese legal text. Matches are reported in
// the order the patterns are listed so extraction is deterministic.
// Decreto-Lei must precede Lei: each match's span is claimed before the
// next pattern runs, which keeps the Lei pattern from also firing on
// the tail of a Decreto-Lei citation.
var referencePatterns = []*regexp.Regexp{
	// Artigo 48.º, Artigo 48, Art. 48.º
	regexp.MustCompile(`(?i)\bArt(?:igo|\.)\s*\d+\.?\s*º?(?:-[A-Z])?`),
	// Decreto-Lei n.º 114/94
	regexp.MustCompile(`(?i)\bDecreto-Lei\s+n\.?º?\s*\d+(?:-[A-Z])?/\d{2,4}`),
	// Lei n.º 72/2013
	regexp.MustCompile(`(?i)\bLei\s+n\.?º?\s*\d+(?:-[A-Z])?/\d{2,4}`),
	// Portaria n.º 1334-F/2010
	regexp.MustCompile(`(?i)\bPortaria\s+n\.?º?\s*\d+(?:-[A-Z])?/\d{2,4}`),
	// Código da Estrada
	regexp.MustCompile(`(?i)\bCódigo\s+da\s+Estrada\b`),
}

// ExtractLegalReferences pulls statute citations out of free text,
// normalised and deduplicated, preserving first-seen order.
func ExtractLegalReferences(text string) []string {
	var refs []string
	seen := make(map[string]bool)
	working := []byte(text)
	for _, p := range referencePatterns {
		for _, loc := range p.FindAllIndex(working, -1) {
			norm := normalizeReference(string(working[loc[0]:loc[1]]))
			if !seen[norm] {
				seen[norm] = true
				refs = append(refs, norm)
			}
			// Claim the span so later patterns cannot match inside it.
			for i := loc[0]; i < loc[1]; i++ {
				working[i] = ' '
			}
		}
	}
	return refs
}

var articleNumber = regexp.MustCompile(`\d+(?:-[A-Z])?`)

func normalizeReference(ref string) string {
	ref = strings.Join(strings.Fields(ref), " ")
	lower := strings.ToLower(ref)
	switch {
	case strings.HasPrefix(lower, "art"):
		// Art. 48 and Artigo 48.º are the same citation.
		if n := articleNumber.FindString(ref); n != "" {
			return "Artigo " + n + ".º"
		}
		return ref
	case strings.HasPrefix(lower, "código"):
		return "Código da Estrada"
	default:
		return ref
	}
}

// categoryKeywords maps citation categories to the terms that signal
// them. Checked in fixed order so classification is deterministic when
// a text mentions several topics.
var categoryKeywords = []struct {
	category string
	terms    []string
}{
	{"alcoolemia", []string{"álcool", "alcoolemia", "taxa de álcool", "etilómetro"}},
	{"velocidade", []string{"velocidade", "radar", "excesso de velocidade", "limite de velocidade"}},
	{"estacionamento", []string{"estacionamento", "estacionar", "zona azul", "parquímetro", "lugar de estacionamento"}},
	{"sinalizacao", []string{"sinalização", "sinal de trânsito", "semáforo", "sinal vertical"}},
	{"documentacao", []string{"carta de condução", "documento único", "seguro obrigatório", "inspeção periódica"}},
}

// ClassifyCategory assigns a citation category from keyword evidence,
// or "outros" when nothing matches.
func ClassifyCategory(text string) string {
	lower := strings.ToLower(text)
	for _, ck := range categoryKeywords {
		for _, term := range ck.terms {
			if strings.Contains(lower, term) {
				return ck.category
			}
		}
	}
	return "outros"
}
