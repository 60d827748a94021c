package main

import (
	"fmt"
	"strings"

	"github.com/danmuck/mikrolink/internal/protocol/reply"
	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// rowFilter keeps the rows a compiled -where expression accepts.
type rowFilter struct {
	source  string
	program *vm.Program
}

func compileFilter(where string) (*rowFilter, error) {
	where = strings.TrimSpace(where)
	if where == "" {
		return nil, nil
	}
	program, err := expr.Compile(where, expr.AllowUndefinedVariables())
	if err != nil {
		return nil, fmt.Errorf("compile -where %q: %w", where, err)
	}
	return &rowFilter{source: where, program: program}, nil
}

// Apply returns the matching rows. A nil filter keeps everything.
func (f *rowFilter) Apply(rows []reply.Row) ([]reply.Row, error) {
	if f == nil {
		return rows, nil
	}
	out := make([]reply.Row, 0, len(rows))
	for _, row := range rows {
		res, err := expr.Run(f.program, rowEnv(row))
		if err != nil {
			return nil, fmt.Errorf("evaluate -where %q: %w", f.source, err)
		}
		keep, ok := res.(bool)
		if !ok {
			return nil, fmt.Errorf("evaluate -where %q: result is %T, not bool", f.source, res)
		}
		if keep {
			out = append(out, row)
		}
	}
	return out, nil
}

// rowEnv exposes attributes as identifiers: ".id" -> id, "mac-address" -> mac_address.
func rowEnv(row reply.Row) map[string]any {
	env := make(map[string]any, len(row)+1)
	raw := make(map[string]any, len(row))
	for k, v := range row {
		raw[k] = v
		env[identifier(k)] = v
	}
	env["row"] = raw
	return env
}

func identifier(key string) string {
	key = strings.TrimLeft(key, ".")
	return strings.NewReplacer("-", "_", ".", "_").Replace(key)
}
