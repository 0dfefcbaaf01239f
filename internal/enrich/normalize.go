package enrich

import (
	"strings"
	"unicode"
)

// streetAbbreviations expands common Brazilian street-type abbreviations,
// keyed by the lowercased token without its trailing dot.
var streetAbbreviations = map[string]string{
	"r":     "Rua",
	"av":    "Avenida",
	"avda":  "Avenida",
	"al":    "Alameda",
	"trav":  "Travessa",
	"tv":    "Travessa",
	"pc":    "Praça",
	"pç":    "Praça",
	"praca": "Praça",
	"rod":   "Rodovia",
	"est":   "Estrada",
	"lgo":   "Largo",
	"conj":  "Conjunto",
}

// lowercaseParticles stay lowercase in title-cased addresses, except as the
// first word.
var lowercaseParticles = map[string]bool{
	"de": true, "da": true, "do": true, "das": true, "dos": true,
	"e": true, "a": true, "o": true,
}

// NormalizeAddress collapses whitespace, expands street-type abbreviations,
// and title-cases the result with Portuguese particles kept lowercase.
// Empty input stays empty.
func NormalizeAddress(s string) string {
	words := strings.Fields(s)
	if len(words) == 0 {
		return ""
	}

	out := make([]string, 0, len(words))
	for i, word := range words {
		token := strings.ToLower(strings.TrimSuffix(word, "."))
		if expanded, ok := streetAbbreviations[token]; ok {
			out = append(out, expanded)
			continue
		}
		if i > 0 && lowercaseParticles[token] {
			out = append(out, token)
			continue
		}
		out = append(out, titleWord(word))
	}
	return strings.Join(out, " ")
}

// titleWord uppercases the first rune and lowercases the rest.
func titleWord(w string) string {
	runes := []rune(strings.ToLower(w))
	if len(runes) == 0 {
		return w
	}
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}
