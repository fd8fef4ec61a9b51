package quotes

import "strings"

// defaultCorrections maps symbols the analysis service commonly gets wrong.
var defaultCorrections = map[string]string{
	"INFOSYS.NS":   "INFY.NS",
	"HDFC.NS":      "HDFCBANK.NS",
	"L&T.NS":       "LT.NS",
	"TATAMOTOR.NS": "TATAMOTORS.NS",
	"AIRTEL.NS":    "BHARTIARTL.NS",
	"SBI.NS":       "SBIN.NS",
	"GOLD":         "GC=F",
	"SILVER":       "SI=F",
	"CRUDE":        "CL=F",
	"CRUDEOIL":     "CL=F",
	"BRENT":        "BZ=F",
	"NIFTY":        "^NSEI",
	"NIFTY50":      "^NSEI",
	"SENSEX":       "^BSESN",
}

// Symbols normalises ticker symbols and expands exchange alternates.
type Symbols struct {
	corrections map[string]string
	suffixes    []string
}

// NewSymbols merges overrides over the built-in correction table.
func NewSymbols(overrides map[string]string, suffixes []string) *Symbols {
	corrections := make(map[string]string, len(defaultCorrections)+len(overrides))
	for k, v := range defaultCorrections {
		corrections[k] = v
	}
	for k, v := range overrides {
		corrections[strings.ToUpper(strings.TrimSpace(k))] = strings.ToUpper(strings.TrimSpace(v))
	}
	norm := make([]string, 0, len(suffixes))
	for _, s := range suffixes {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		if !strings.HasPrefix(s, ".") {
			s = "." + s
		}
		norm = append(norm, s)
	}
	return &Symbols{corrections: corrections, suffixes: norm}
}

// Normalize cleans a raw symbol and applies the correction table.
func (s *Symbols) Normalize(raw string) string {
	sym := strings.ToUpper(strings.TrimSpace(raw))
	sym = strings.TrimPrefix(sym, "$")
	switch {
	case strings.HasPrefix(sym, "NSE:"):
		sym = strings.TrimPrefix(sym, "NSE:") + ".NS"
	case strings.HasPrefix(sym, "BSE:"):
		sym = strings.TrimPrefix(sym, "BSE:") + ".BO"
	}
	if fixed, ok := s.corrections[sym]; ok {
		return fixed
	}
	return sym
}

// Base strips a known exchange suffix.
func (s *Symbols) Base(sym string) string {
	upper := strings.ToUpper(sym)
	for _, sfx := range s.suffixes {
		if strings.HasSuffix(upper, sfx) {
			return sym[:len(sym)-len(sfx)]
		}
	}
	return sym
}

// Candidates returns the normalised symbol followed by its alternate-exchange variants.
func (s *Symbols) Candidates(raw string) []string {
	sym := s.Normalize(raw)
	if sym == "" {
		return nil
	}
	out := []string{sym}
	// indices, futures and FX pairs have no exchange variants
	if strings.ContainsAny(sym, "^=") {
		return out
	}
	base := s.Base(sym)
	for _, sfx := range s.suffixes {
		alt := base + sfx
		if alt != sym {
			out = append(out, alt)
		}
	}
	return out
}
