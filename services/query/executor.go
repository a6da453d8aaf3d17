// Package query evaluates analysis expressions against a session table.
//
// Expressions use a small, side-effect free language: the table is bound to
// df, methods of dataset.Table and dataset.Series are callable, and print
// writes to a captured console. There are no statements, loops, imports or I/O,
// and the parsed program size is capped.
package query

import (
	"fmt"
	"strconv"
	"strings"

	"fraudchat/services/dataset"

	"github.com/expr-lang/expr"
)

// NoOutput is returned when an expression yields nothing and prints nothing.
const NoOutput = "Command executed successfully but produced no visible output."

const (
	CategoryCompile = "compile"
	CategoryRuntime = "runtime"
)

const defaultMaxNodes = 2000

// ExecutionError describes why an expression could not be evaluated.
type ExecutionError struct {
	Category string
	Err      error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("Execution error (%s): %v", e.Category, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

type Executor struct {
	maxNodes uint
}

func NewExecutor() *Executor {
	return &Executor{maxNodes: defaultMaxNodes}
}

// Execute evaluates code with table bound to df and returns the text to show.
// It never panics; failures come back as the ExecutionError message.
func (e *Executor) Execute(table *dataset.Table, code string) (out string) {
	if table == nil {
		return (&ExecutionError{Category: CategoryRuntime, Err: fmt.Errorf("no table loaded")}).Error()
	}

	code = strings.TrimSpace(code)
	if code == "" {
		return (&ExecutionError{Category: CategoryCompile, Err: fmt.Errorf("empty expression")}).Error()
	}

	var console strings.Builder
	env := map[string]any{"df": table}

	program, err := expr.Compile(code,
		expr.Env(env),
		expr.MaxNodes(e.maxNodes),
		expr.Function("print", func(params ...any) (any, error) {
			fmt.Fprintln(&console, params...)
			return nil, nil
		}),
	)
	if err != nil {
		return (&ExecutionError{Category: CategoryCompile, Err: err}).Error()
	}

	defer func() {
		if r := recover(); r != nil {
			out = (&ExecutionError{Category: CategoryRuntime, Err: fmt.Errorf("%v", r)}).Error()
		}
	}()

	result, err := expr.Run(program, env)
	if err != nil {
		return (&ExecutionError{Category: CategoryRuntime, Err: err}).Error()
	}

	return selectOutput(result, console.String())
}

// selectOutput applies the display precedence: tabular result, then console
// output, then the plain result, then NoOutput.
func selectOutput(result any, console string) string {
	switch v := result.(type) {
	case *dataset.Table:
		if v != nil {
			return v.String()
		}
		result = nil
	case *dataset.Series:
		if v != nil {
			return v.String()
		}
		result = nil
	}

	if printed := strings.TrimSpace(console); printed != "" {
		return printed
	}

	if result != nil {
		return formatScalar(result)
	}

	return NoOutput
}

func formatScalar(v any) string {
	switch x := v.(type) {
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case string:
		return x
	}
	return fmt.Sprint(v)
}
