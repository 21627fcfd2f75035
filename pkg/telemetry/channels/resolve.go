package channels

// DetectionResult describes which catalog channels a set of columns carries.
type DetectionResult struct {
	// MatchedRequired maps a required channel to the column label that satisfied it.
	MatchedRequired map[string]string `json:"matched_required"`
	// MatchedOptional maps an optional channel to the column label that satisfied it.
	MatchedOptional map[string]string `json:"matched_optional"`
	// MissingRequired lists required channels with no matching column, in catalog order.
	MissingRequired []string `json:"missing_required"`
	// Capabilities lists unlocked capability labels in evaluation order.
	Capabilities []string `json:"capabilities"`
}

// OK reports whether every required channel was found.
func (r DetectionResult) OK() bool {
	return len(r.MissingRequired) == 0
}

// Has reports whether the named channel matched in either half.
func (r DetectionResult) Has(channel string) bool {
	if _, ok := r.MatchedRequired[channel]; ok {
		return true
	}
	_, ok := r.MatchedOptional[channel]
	return ok
}

// Resolve matches column labels against the catalog.
//
// For each channel the first column equal to any alias under ASCII case
// folding wins. Required and optional halves are resolved independently, so
// one column may satisfy a channel in each half. Resolve never mutates
// columns and never fails: an empty header reports every required channel
// missing.
func Resolve(columns []string, catalog Catalog) DetectionResult {
	folded := make([]string, len(columns))
	for i, col := range columns {
		folded[i] = foldASCII(col)
	}

	res := DetectionResult{
		MatchedRequired: make(map[string]string, len(catalog.Required)),
		MatchedOptional: make(map[string]string),
		MissingRequired: []string{},
		Capabilities:    []string{},
	}

	for _, spec := range catalog.Required {
		if idx := firstMatch(folded, spec.Aliases); idx >= 0 {
			res.MatchedRequired[spec.Name] = columns[idx]
			continue
		}
		res.MissingRequired = append(res.MissingRequired, spec.Name)
	}
	for _, spec := range catalog.Optional {
		if idx := firstMatch(folded, spec.Aliases); idx >= 0 {
			res.MatchedOptional[spec.Name] = columns[idx]
		}
	}

	// Without every required channel no capability is available.
	if len(res.MissingRequired) > 0 {
		return res
	}
	res.Capabilities = append(res.Capabilities, catalog.baseCapability())
	for _, rule := range catalog.Capabilities {
		if allMatched(res.MatchedOptional, rule.Requires) {
			res.Capabilities = append(res.Capabilities, rule.Label)
		}
	}
	return res
}

func firstMatch(folded []string, aliases []string) int {
	for i, col := range folded {
		for _, a := range aliases {
			if col == foldASCII(a) {
				return i
			}
		}
	}
	return -1
}

func allMatched(matched map[string]string, required []string) bool {
	if len(required) == 0 {
		return false
	}
	for _, name := range required {
		if _, ok := matched[name]; !ok {
			return false
		}
	}
	return true
}

// foldASCII lowercases ASCII letters only; other bytes pass through unchanged.
func foldASCII(s string) string {
	for i := 0; i < len(s); i++ {
		if c := s[i]; 'A' <= c && c <= 'Z' {
			b := []byte(s)
			for j := i; j < len(b); j++ {
				if 'A' <= b[j] && b[j] <= 'Z' {
					b[j] += 'a' - 'A'
				}
			}
			return string(b)
		}
	}
	return s
}
