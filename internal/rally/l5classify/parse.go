package l5classify

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// modelReply is the object the external model must return.
type modelReply struct {
	Label        string   `json:"label"`
	Confidence   float64  `json:"confidence"`
	ContactFrame *float64 `json:"contact_frame"`
	Reason       string   `json:"reason"`
}

var replyKeys = []string{"label", "confidence", "contact_frame", "reason"}

var (
	labelRe        = regexp.MustCompile(`"label"\s*:\s*"([^"]*)"`)
	confidenceRe   = regexp.MustCompile(`"confidence"\s*:\s*"?(-?[0-9]*\.?[0-9]+(?:[eE][-+]?[0-9]+)?)`)
	contactFrameRe = regexp.MustCompile(`"contact_frame"\s*:\s*(null|-?[0-9]+)`)
	reasonRe       = regexp.MustCompile(`"reason"\s*:\s*"((?:[^"\\]|\\.)*)"`)
)

// ParseReply turns the model's raw text into a Result. The last JSON
// object is used when it carries all four keys and no label follows it.
// Otherwise each field is recovered from its last occurrence in the
// text, since models sometimes emit a draft answer before the final one.
// A reply without a recognisable label is an error.
func ParseReply(raw string) (Result, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return Result{}, ErrEmptyResponse
	}

	if objs := jsonObjects(text); len(objs) > 0 {
		last := objs[len(objs)-1]
		if !labelFollows(text, last.end) {
			if r, ok := parseComplete(text[last.start:last.end]); ok {
				return r, nil
			}
		}
	}
	return recoverFields(text)
}

func parseComplete(obj string) (Result, bool) {
	var keys map[string]json.RawMessage
	if err := json.Unmarshal([]byte(obj), &keys); err != nil {
		return Result{}, false
	}
	for _, k := range replyKeys {
		if _, ok := keys[k]; !ok {
			return Result{}, false
		}
	}
	var reply modelReply
	if err := json.Unmarshal([]byte(obj), &reply); err != nil {
		return Result{}, false
	}
	label, ok := ParseLabel(reply.Label)
	if !ok {
		return Result{}, false
	}
	r := Result{
		Label:      label,
		Confidence: clampConfidence(reply.Confidence),
		Reason:     reply.Reason,
	}
	if reply.ContactFrame != nil {
		cf := int(*reply.ContactFrame)
		r.ContactFrame = &cf
	}
	return r, true
}

func recoverFields(text string) (Result, error) {
	m := lastMatch(labelRe, text)
	if m == "" {
		return Result{}, fmt.Errorf("no label in model reply")
	}
	label, ok := ParseLabel(m)
	if !ok {
		return Result{}, fmt.Errorf("unrecognised label %q in model reply", m)
	}
	r := Result{Label: label}
	if c := lastMatch(confidenceRe, text); c != "" {
		if v, err := strconv.ParseFloat(c, 64); err == nil {
			r.Confidence = clampConfidence(v)
		}
	}
	if cf := lastMatch(contactFrameRe, text); cf != "" && cf != "null" {
		if v, err := strconv.Atoi(cf); err == nil {
			r.ContactFrame = &v
		}
	}
	if reason := lastMatch(reasonRe, text); reason != "" {
		if unq, err := strconv.Unquote(`"` + reason + `"`); err == nil {
			reason = unq
		}
		r.Reason = reason
	}
	return r, nil
}

// labelFollows reports whether a label key starts at or after offset.
func labelFollows(text string, offset int) bool {
	locs := labelRe.FindAllStringIndex(text, -1)
	return len(locs) > 0 && locs[len(locs)-1][0] >= offset
}

func lastMatch(re *regexp.Regexp, text string) string {
	all := re.FindAllStringSubmatch(text, -1)
	if len(all) == 0 {
		return ""
	}
	return all[len(all)-1][1]
}

type span struct{ start, end int }

// jsonObjects returns the bounds of every top-level brace-balanced
// substring of text, ignoring braces inside string literals.
func jsonObjects(text string) []span {
	var out []span
	depth, start := 0, -1
	inString, escaped := false, false
	for i := 0; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			if depth > 0 {
				inString = true
			}
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth > 0 {
				depth--
				if depth == 0 {
					out = append(out, span{start, i + 1})
				}
			}
		}
	}
	return out
}
