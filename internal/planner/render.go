package planner

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ErrMalformedPlan is returned by Parse for lines that do not follow the
// rendered step format.
var ErrMalformedPlan = errors.New("malformed plan text")

const (
	planHeader     = "Investigation Plan:"
	fallbackHeader = "Fallback Steps (if main steps fail):"
)

// Render formats a plan as text:
//
//	Investigation Plan:
//	Target: Pod <namespace>/<pod>, Volume Path: <path>
//	Generated Steps: <N> main steps, <M> fallback steps
//
//	Step <n>: <description> | Tool: <op>(<k>=<v>, ...) | Expected: <outcome>
//
//	Fallback Steps (if main steps fail):
//	Step F<n>: <description> | Tool: <op>(<k>=<v>, ...) | Expected: <outcome> | Trigger: <trigger>
//
// The fallback section is omitted when the plan has no fallback steps.
func Render(p *Plan) string {
	var b strings.Builder
	b.WriteString(planHeader + "\n")
	fmt.Fprintf(&b, "Target: Pod %s/%s, Volume Path: %s\n", p.Namespace, p.Pod, p.VolumePath)
	fmt.Fprintf(&b, "Generated Steps: %d main steps, %d fallback steps\n", len(p.Steps), len(p.Fallbacks))

	b.WriteString("\n")
	for _, s := range p.Steps {
		b.WriteString(renderStep(s))
		b.WriteString("\n")
	}

	if len(p.Fallbacks) > 0 {
		b.WriteString("\n" + fallbackHeader + "\n")
		for _, s := range p.Fallbacks {
			b.WriteString(renderStep(s))
			b.WriteString("\n")
		}
	}
	return b.String()
}

func renderStep(s Step) string {
	line := fmt.Sprintf("Step %s: %s | Tool: %s(%s) | Expected: %s",
		s.Label(), s.Description, s.Operation, FormatArgs(s.Arguments), s.ExpectedOutcome)
	if s.Fallback {
		line += " | Trigger: " + s.Trigger
	}
	return line
}

// FormatArgs renders arguments as "k=v" pairs sorted by key. Strings are
// Go-quoted, bools are true/false, integers decimal and floats use %g.
func FormatArgs(args map[string]any) string {
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+formatValue(args[k]))
	}
	return strings.Join(parts, ", ")
}

func formatValue(v any) string {
	switch val := v.(type) {
	case string:
		return strconv.Quote(val)
	case bool:
		return strconv.FormatBool(val)
	case int:
		return strconv.Itoa(val)
	case int32:
		return strconv.FormatInt(int64(val), 10)
	case int64:
		return strconv.FormatInt(val, 10)
	case float32:
		return strconv.FormatFloat(float64(val), 'g', -1, 32)
	case float64:
		return strconv.FormatFloat(val, 'g', -1, 64)
	default:
		return strconv.Quote(fmt.Sprint(val))
	}
}

// Parse reads the steps back out of rendered plan text. Header lines and
// blank lines are skipped. Priority and Category are not part of the text
// and stay empty.
func Parse(text string) ([]Step, error) {
	var steps []Step
	for i, line := range strings.Split(text, "\n") {
		line = strings.TrimRight(line, "\r")
		if !strings.HasPrefix(line, "Step ") {
			continue
		}
		s, err := parseStep(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", i+1, err)
		}
		steps = append(steps, s)
	}
	return steps, nil
}

func parseStep(line string) (Step, error) {
	var s Step

	label, rest, ok := strings.Cut(strings.TrimPrefix(line, "Step "), ": ")
	if !ok {
		return s, fmt.Errorf("%w: missing step label", ErrMalformedPlan)
	}
	if n, found := strings.CutPrefix(label, "F"); found {
		s.Fallback = true
		label = n
	}
	num, err := strconv.Atoi(label)
	if err != nil {
		return s, fmt.Errorf("%w: bad step number %q", ErrMalformedPlan, label)
	}
	s.Number = num

	desc, rest, ok := strings.Cut(rest, " | Tool: ")
	if !ok {
		return s, fmt.Errorf("%w: missing tool", ErrMalformedPlan)
	}
	s.Description = desc

	op, rest, ok := strings.Cut(rest, "(")
	if !ok {
		return s, fmt.Errorf("%w: missing argument list", ErrMalformedPlan)
	}
	s.Operation = op

	args, rest, err := parseArgs(rest)
	if err != nil {
		return s, err
	}
	s.Arguments = args

	expected, ok := strings.CutPrefix(rest, " | Expected: ")
	if !ok {
		return s, fmt.Errorf("%w: missing expected outcome", ErrMalformedPlan)
	}
	if s.Fallback {
		if idx := strings.LastIndex(expected, " | Trigger: "); idx >= 0 {
			s.Trigger = expected[idx+len(" | Trigger: "):]
			expected = expected[:idx]
		}
	}
	s.ExpectedOutcome = expected
	return s, nil
}

// parseArgs consumes "k=v, k=v)" and returns the arguments and the text
// after the closing parenthesis.
func parseArgs(s string) (map[string]any, string, error) {
	args := map[string]any{}
	for {
		if rest, ok := strings.CutPrefix(s, ")"); ok {
			return args, rest, nil
		}
		if len(args) > 0 {
			rest, ok := strings.CutPrefix(s, ", ")
			if !ok {
				return nil, "", fmt.Errorf("%w: expected ', ' between arguments", ErrMalformedPlan)
			}
			s = rest
		}

		key, rest, ok := strings.Cut(s, "=")
		if !ok || key == "" {
			return nil, "", fmt.Errorf("%w: bad argument near %q", ErrMalformedPlan, s)
		}

		var raw string
		if strings.HasPrefix(rest, `"`) {
			quoted, err := strconv.QuotedPrefix(rest)
			if err != nil {
				return nil, "", fmt.Errorf("%w: bad string argument %q", ErrMalformedPlan, key)
			}
			val, _ := strconv.Unquote(quoted)
			args[key] = val
			s = rest[len(quoted):]
			continue
		}

		end := strings.IndexAny(rest, ",)")
		if end < 0 {
			return nil, "", fmt.Errorf("%w: unterminated argument list", ErrMalformedPlan)
		}
		raw, s = rest[:end], rest[end:]
		val, err := parseScalar(raw)
		if err != nil {
			return nil, "", fmt.Errorf("%w: argument %q: %v", ErrMalformedPlan, key, err)
		}
		args[key] = val
	}
}

func parseScalar(raw string) (any, error) {
	if b, err := strconv.ParseBool(raw); err == nil && (raw == "true" || raw == "false") {
		return b, nil
	}
	if i, err := strconv.Atoi(raw); err == nil {
		return i, nil
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return f, nil
	}
	return nil, fmt.Errorf("unrecognized value %q", raw)
}
