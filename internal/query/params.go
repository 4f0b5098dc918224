package query

import "strings"

// ParamDescriptor is the output of the parameter extractor:
// the unique `@name` placeholders in first-appearance order, plus every
// position each one occurs at (a name may repeat).
type ParamDescriptor struct {
	Parameters  []string
	Occurrences map[string][]int
}

// ExtractParams scans sql, tokenizing string literals and comments so an
// `@` inside either is never mistaken for a placeholder, and collects
// every `@name` occurrence. Matching is case-insensitive on the name
// but the first-seen casing is what's reported.
func ExtractParams(sql string) (*ParamDescriptor, error) {
	lx := newLexer(sql)
	desc := &ParamDescriptor{Occurrences: make(map[string][]int)}
	seen := make(map[string]string) // lowercased -> first-seen casing

	for {
		tok, err := lx.nextToken()
		if err != nil {
			return nil, err
		}
		if tok.Typ == tEOF {
			break
		}
		if tok.Typ != tParam {
			continue
		}
		key := strings.ToLower(tok.Val)
		canonical, ok := seen[key]
		if !ok {
			seen[key] = tok.Val
			canonical = tok.Val
			desc.Parameters = append(desc.Parameters, canonical)
		}
		desc.Occurrences[canonical] = append(desc.Occurrences[canonical], tok.Pos)
	}
	return desc, nil
}
