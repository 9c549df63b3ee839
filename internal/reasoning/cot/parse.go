package cot

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/kubilitics/kubilitics-reasoner/internal/llm"
)

// ErrUnparsable is returned when an oracle response holds no usable step.
var ErrUnparsable = errors.New("unparsable step output")

// Draft is one candidate step as proposed by the oracle.
type Draft struct {
	Description string  `json:"description"`
	Reasoning   string  `json:"reasoning"`
	Output      any     `json:"output"`
	Confidence  float64 `json:"confidence"`
	Final       bool    `json:"final"`
}

type rawDraft struct {
	Description string          `json:"description"`
	Step        string          `json:"step"`
	Reasoning   string          `json:"reasoning"`
	Rationale   string          `json:"rationale"`
	Output      any             `json:"output"`
	Result      any             `json:"result"`
	Answer      any             `json:"answer"`
	Confidence  json.RawMessage `json:"confidence"`
	Final       any             `json:"final"`
	IsFinal     any             `json:"is_final"`
}

func (r rawDraft) draft() (Draft, error) {
	d := Draft{
		Description: firstNonEmpty(r.Description, r.Step),
		Reasoning:   firstNonEmpty(r.Reasoning, r.Rationale),
		Output:      firstNonNil(r.Output, r.Result, r.Answer),
		Final:       truthy(r.Final) || truthy(r.IsFinal),
	}
	if d.Output == nil {
		return Draft{}, fmt.Errorf("%w: no output", ErrUnparsable)
	}
	if s, ok := d.Output.(string); ok && strings.TrimSpace(s) == "" {
		return Draft{}, fmt.Errorf("%w: empty output", ErrUnparsable)
	}
	d.Confidence = parseConfidence(strings.Trim(string(r.Confidence), `"`))
	if d.Description == "" {
		d.Description = "Reasoning step"
	}
	return d, nil
}

// ParseDraft parses one step from a JSON object or, failing that, from
// "Key: value" lines.
func ParseDraft(response string) (Draft, error) {
	if block, ok := llm.ExtractJSON(response); ok {
		var raw rawDraft
		if err := json.Unmarshal([]byte(block), &raw); err == nil {
			return raw.draft()
		}
		var list []rawDraft
		if err := json.Unmarshal([]byte(block), &list); err == nil && len(list) > 0 {
			return list[0].draft()
		}
	}
	return parseLines(response)
}

// ParseDrafts parses up to n steps from a JSON array. A single object is
// accepted as a one-element list.
func ParseDrafts(response string, n int) ([]Draft, error) {
	block, ok := llm.ExtractJSON(response)
	if !ok {
		d, err := parseLines(response)
		if err != nil {
			return nil, err
		}
		return []Draft{d}, nil
	}
	var list []rawDraft
	if err := json.Unmarshal([]byte(block), &list); err != nil {
		var one rawDraft
		if err := json.Unmarshal([]byte(block), &one); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnparsable, err)
		}
		list = []rawDraft{one}
	}
	var out []Draft
	for _, r := range list {
		if len(out) == n && n > 0 {
			break
		}
		d, err := r.draft()
		if err != nil {
			continue
		}
		out = append(out, d)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: no usable alternatives", ErrUnparsable)
	}
	return out, nil
}

var reLine = regexp.MustCompile(`(?im)^\s*[*_#-]*\s*(description|step|reasoning|rationale|output|result|final answer|answer|confidence|final)\s*[*_]*\s*[:=]\s*(.+?)\s*$`)

func parseLines(response string) (Draft, error) {
	var d Draft
	for _, m := range reLine.FindAllStringSubmatch(response, -1) {
		key, val := strings.ToLower(m[1]), strings.Trim(m[2], "* ")
		switch key {
		case "description", "step":
			if d.Description == "" {
				d.Description = val
			}
		case "reasoning", "rationale":
			d.Reasoning = val
		case "output", "result", "answer":
			d.Output = val
		case "final answer":
			d.Output, d.Final = val, true
		case "confidence":
			d.Confidence = parseConfidence(val)
		case "final":
			d.Final = truthy(val)
		}
	}
	if d.Output == nil {
		return Draft{}, fmt.Errorf("%w: no output line", ErrUnparsable)
	}
	if d.Description == "" {
		d.Description = "Reasoning step"
	}
	return d, nil
}

// parseConfidence accepts 0..1, percentages and "85%"; unknown means 0.5.
func parseConfidence(s string) float64 {
	s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "%"))
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v < 0 {
		return 0.5
	}
	if v > 1 {
		v /= 100
	}
	if v > 1 {
		return 1
	}
	return v
}

func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		b, _ := strconv.ParseBool(strings.ToLower(strings.TrimSpace(t)))
		return b || strings.EqualFold(strings.TrimSpace(t), "yes")
	}
	return false
}

func firstNonEmpty(xs ...string) string {
	for _, x := range xs {
		if strings.TrimSpace(x) != "" {
			return strings.TrimSpace(x)
		}
	}
	return ""
}

func firstNonNil(xs ...any) any {
	for _, x := range xs {
		if x != nil {
			return x
		}
	}
	return nil
}
