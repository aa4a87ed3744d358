package sandbox

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dop251/goja"

	"github.com/queryportal/queryportal/internal/errdefs"
)

// runJavaScript executes a script in a fresh goja VM. The VM's global object
// carries only what the host adds: console, print, sleep and the database
// handle. eval and the Function constructor are nulled out on top of the
// static deny-list. The interrupt fires on the wall-clock deadline even when
// the script is busy in a CPU-bound loop.
func (r *Runtime) runJavaScript(ctx context.Context, req *Request, buf *outputBuffer) (any, error) {
	runCtx, cancel := context.WithTimeout(ctx, req.Timeout)
	defer cancel()
	deadline, _ := runCtx.Deadline()

	vm := goja.New()

	if err := vm.GlobalObject().Set("eval", goja.Undefined()); err != nil {
		return nil, errdefs.Process(err, "failed to prepare sandbox globals")
	}
	if err := vm.GlobalObject().Set("Function", goja.Undefined()); err != nil {
		return nil, errdefs.Process(err, "failed to prepare sandbox globals")
	}

	console := vm.NewObject()
	logAt := func(level string) func(args ...any) {
		return func(args ...any) {
			buf.add(level, joinArgs(args))
		}
	}
	_ = console.Set("log", logAt("info"))
	_ = console.Set("info", logAt("info"))
	_ = console.Set("warn", logAt("warn"))
	_ = console.Set("error", logAt("error"))
	_ = vm.Set("console", console)
	_ = vm.Set("print", logAt("info"))

	// Timers are bounded to the remaining budget; sleeping past the
	// deadline just wakes up into the interrupt.
	_ = vm.Set("sleep", func(ms int64) {
		d := time.Duration(ms) * time.Millisecond
		if remaining := time.Until(deadline); d > remaining {
			d = remaining
		}
		if d > 0 {
			select {
			case <-time.After(d):
			case <-runCtx.Done():
			}
		}
	})

	if req.Handle != nil {
		db := vm.NewObject()
		_ = db.Set("query", func(content string) (map[string]any, error) {
			res, err := req.Handle.Query(runCtx, content)
			if err != nil {
				buf.add("error", fmt.Sprintf("query failed: %v", err))
				return nil, err
			}
			buf.add("query", fmt.Sprintf("query returned %d rows in %s", len(res.Rows), res.Duration.Round(time.Millisecond)))
			return map[string]any{
				"rows":      res.Rows,
				"rowCount":  res.RowsAffected,
				"columns":   res.Columns,
				"truncated": res.Truncated,
			}, nil
		})
		_ = db.Set("execute", func(content string) (int64, error) {
			res, err := req.Handle.Query(runCtx, content)
			if err != nil {
				buf.add("error", fmt.Sprintf("execute failed: %v", err))
				return 0, err
			}
			buf.add("query", fmt.Sprintf("execute affected %d rows in %s", res.RowsAffected, res.Duration.Round(time.Millisecond)))
			return res.RowsAffected, nil
		})
		_ = vm.Set("db", db)
	}

	stop := context.AfterFunc(runCtx, func() {
		vm.Interrupt("deadline exceeded")
	})
	defer stop()

	value, err := vm.RunString(req.Content)
	if err != nil {
		var interrupted *goja.InterruptedError
		if errors.As(err, &interrupted) {
			return nil, errdefs.Timeout("script exceeded the %s deadline", req.Timeout)
		}
		var exception *goja.Exception
		if errors.As(err, &exception) {
			return nil, errdefs.Process(nil, "script threw: %s", exception.Error())
		}
		return nil, errdefs.Process(err, "script failed")
	}

	if value == nil || goja.IsUndefined(value) || goja.IsNull(value) {
		return nil, nil
	}
	return value.Export(), nil
}

func joinArgs(args []any) string {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = fmt.Sprint(a)
	}
	return strings.Join(parts, " ")
}
