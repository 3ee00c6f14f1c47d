package expressions

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// refPattern matches ${{ expression }} references in prompt templates.
var refPattern = regexp.MustCompile(`\$\{\{\s*(.+?)\s*\}\}`)

// Interpolator resolves ${{...}} references in prompt templates against
// the run's shared state. Each reference body is an expr-lang expression,
// so templates can reshape state values inline:
//
//	Summarise the findings on ${{ topic }} using ${{ join(search_terms, ", ") }}.
type Interpolator struct {
	engine *ExprEngine
}

// NewInterpolator creates an Interpolator with a fresh expression engine.
func NewInterpolator() *Interpolator {
	return &Interpolator{engine: NewExprEngine()}
}

// Render resolves every ${{...}} reference in the template against scope.
// Strings interpolate verbatim; numbers and booleans via strconv; lists
// and maps as compact JSON. An unresolvable reference fails the render
// rather than leaving a hole in the prompt.
func (interp *Interpolator) Render(template string, scope map[string]any) (string, error) {
	var renderErr error
	out := refPattern.ReplaceAllStringFunc(template, func(match string) string {
		if renderErr != nil {
			return match
		}
		expression := strings.TrimSpace(refPattern.FindStringSubmatch(match)[1])
		val, err := interp.engine.Evaluate(expression, scope)
		if err != nil {
			renderErr = err
			return match
		}
		s, err := stringify(val)
		if err != nil {
			renderErr = err
			return match
		}
		return s
	})
	if renderErr != nil {
		return "", renderErr
	}
	return out, nil
}

func stringify(val any) (string, error) {
	switch v := val.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	case bool:
		return strconv.FormatBool(v), nil
	case int:
		return strconv.Itoa(v), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("stringify %T: %w", val, err)
		}
		return string(b), nil
	}
}
