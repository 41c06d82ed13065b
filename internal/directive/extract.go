package directive

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/tidwall/jsonc"
)

var (
	fencedBlock = regexp.MustCompile("(?s)```json\\s*(\\{.*?\\})\\s*```")
	looseObject = regexp.MustCompile(`\{[^{}]*"type"[^{}]*\}`)
)

// Candidate is an extracted, still untyped directive object.
type Candidate struct {
	Type string
	Raw  json.RawMessage
}

// Extract scans text for embedded directives and returns them in the order they
// appear. Fenced ```json blocks are read first; a top-level "actions" array is
// flattened. Loose brace-delimited objects containing "type" are only considered
// when no fenced block produced a candidate. Unparsable fragments are ignored.
func Extract(text string) []Candidate {
	var out []Candidate
	for _, m := range fencedBlock.FindAllStringSubmatch(text, -1) {
		obj, ok := decodeObject(m[1])
		if !ok {
			continue
		}
		if raw, ok := obj["actions"]; ok {
			var actions []json.RawMessage
			if err := json.Unmarshal(raw, &actions); err == nil {
				for _, a := range actions {
					if c, ok := candidateOf(a); ok {
						out = append(out, c)
					}
				}
				continue
			}
		}
		if _, ok := obj["type"]; ok {
			out = append(out, Candidate{Type: typeOf(obj), Raw: json.RawMessage(normalize(m[1]))})
		}
	}
	if len(out) > 0 {
		return out
	}
	for _, m := range looseObject.FindAllString(text, -1) {
		if c, ok := candidateOf(json.RawMessage(normalize(m))); ok {
			out = append(out, c)
		}
	}
	return out
}

// StripFenced removes fenced ```json blocks from text and trims the remainder.
func StripFenced(text string) string {
	return strings.TrimSpace(fencedBlock.ReplaceAllString(text, ""))
}

func normalize(s string) []byte {
	return jsonc.ToJSON([]byte(s))
}

func decodeObject(s string) (map[string]json.RawMessage, bool) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(normalize(s), &obj); err != nil || obj == nil {
		return nil, false
	}
	return obj, true
}

// candidateOf accepts only JSON objects; arrays, scalars and null are dropped.
func candidateOf(raw json.RawMessage) (Candidate, bool) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil || obj == nil {
		return Candidate{}, false
	}
	return Candidate{Type: typeOf(obj), Raw: raw}, true
}

func typeOf(obj map[string]json.RawMessage) string {
	var t string
	if raw, ok := obj["type"]; ok {
		_ = json.Unmarshal(raw, &t)
	}
	return t
}
