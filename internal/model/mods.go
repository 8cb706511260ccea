package model

import (
	"fmt"
	"sort"
	"strings"
)

// modVocabulary is the fixed set of two-letter mod acronyms the upstream API
// emits. Membership is checked on parse; anything else is a data error.
var modVocabulary = map[string]struct{}{
	"NF": {}, "EZ": {}, "TD": {}, "HD": {}, "HR": {}, "SD": {}, "DT": {},
	"RX": {}, "HT": {}, "NC": {}, "FL": {}, "AT": {}, "SO": {}, "AP": {},
	"PF": {}, "4K": {}, "5K": {}, "6K": {}, "7K": {}, "8K": {}, "FI": {},
	"RD": {}, "CN": {}, "TP": {}, "9K": {}, "CO": {}, "1K": {}, "2K": {},
	"3K": {}, "V2": {}, "MR": {},
}

// Mods is an unordered set of mod acronyms. The zero value is "no mod".
type Mods map[string]struct{}

// ParseMods builds a mod set from a list of acronyms as returned by the
// upstream score objects. Codes are upper-cased; unknown codes are rejected.
func ParseMods(codes []string) (Mods, error) {
	if len(codes) == 0 {
		return Mods{}, nil
	}
	m := make(Mods, len(codes))
	for _, c := range codes {
		c = strings.ToUpper(strings.TrimSpace(c))
		if _, ok := modVocabulary[c]; !ok {
			return nil, fmt.Errorf("model: unknown mod code %q", c)
		}
		m[c] = struct{}{}
	}
	return m, nil
}

// ParseModsString parses a canonical (or any concatenated two-letter) mod
// string back into a set. ParseModsString(m.String()) round-trips.
func ParseModsString(s string) (Mods, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return Mods{}, nil
	}
	if len(s)%2 != 0 {
		return nil, fmt.Errorf("model: odd-length mod string %q", s)
	}
	codes := make([]string, 0, len(s)/2)
	for i := 0; i < len(s); i += 2 {
		codes = append(codes, s[i:i+2])
	}
	return ParseMods(codes)
}

// String returns the canonical form: member codes upper-cased and joined in
// lexicographic order. Empty set yields "".
func (m Mods) String() string {
	if len(m) == 0 {
		return ""
	}
	codes := make([]string, 0, len(m))
	for c := range m {
		codes = append(codes, c)
	}
	sort.Strings(codes)
	return strings.Join(codes, "")
}

// Contains reports set membership of a single acronym.
func (m Mods) Contains(code string) bool {
	_, ok := m[strings.ToUpper(code)]
	return ok
}
