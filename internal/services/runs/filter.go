package runsvc

import (
	"encoding/json"
	"strings"

	"github.com/google/cel-go/cel"
)

// eventFilter wraps a compiled CEL program evaluated once per delivered
// event. When disabled (empty expression), Eval always returns true.
type eventFilter struct {
	prog    cel.Program
	enabled bool
}

func newEventFilter(expr string) (eventFilter, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return eventFilter{enabled: false}, nil
	}
	env, err := cel.NewEnv(
		cel.Variable("type", cel.StringType),
		cel.Variable("sequence", cel.IntType),
		cel.Variable("ts_ms", cel.IntType),
		cel.Variable("text", cel.StringType),
		// Parsed JSON payload for field-level filtering.
		cel.Variable("json", cel.DynType),
	)
	if err != nil {
		return eventFilter{}, err
	}
	ast, iss := env.Parse(expr)
	if iss != nil && iss.Err() != nil {
		return eventFilter{}, iss.Err()
	}
	checked, iss2 := env.Check(ast)
	if iss2 != nil && iss2.Err() != nil {
		return eventFilter{}, iss2.Err()
	}
	prog, err := env.Program(checked)
	if err != nil {
		return eventFilter{}, err
	}
	return eventFilter{prog: prog, enabled: true}, nil
}

// Eval evaluates the expression against one event. Evaluation errors drop the
// event rather than failing the stream.
func (f eventFilter) Eval(sequence uint64, tsMs int64, eventType string, payload []byte) bool {
	if !f.enabled {
		return true
	}
	var jsonObj any
	_ = json.Unmarshal(payload, &jsonObj)
	out, _, err := f.prog.Eval(map[string]any{
		"type":     eventType,
		"sequence": int64(sequence),
		"ts_ms":    tsMs,
		"text":     string(payload),
		"json":     jsonObj,
	})
	if err != nil {
		return false
	}
	b, ok := out.Value().(bool)
	return ok && b
}
