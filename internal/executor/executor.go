// Package executor runs trigger handler artifacts. Handlers are JavaScript
// files exposing a handle_event entry point, executed in-process on goja.
package executor

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dop251/goja"

	"githook-runner/internal/common/errors"
	"githook-runner/internal/common/logging"
)

// noOutput is recorded when a handler completes without returning a value.
const noOutput = "no output"

// DefaultTimeout bounds a single handler invocation.
const DefaultTimeout = 30 * time.Second

// Executor runs one handler artifact against one event and returns the
// handler's output. Implementations must not share state between
// invocations.
type Executor interface {
	Execute(ctx context.Context, codefilePath string, payload json.RawMessage, eventType string, action *string) (string, error)
}

// GojaExecutor is the in-process implementation. Each invocation gets a
// fresh runtime and a private copy of the artifact, so a handler can never
// observe another invocation or mutate the original file.
type GojaExecutor struct {
	timeout time.Duration
	logger  logging.Logger
}

func NewGojaExecutor(timeout time.Duration, logger logging.Logger) *GojaExecutor {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &GojaExecutor{
		timeout: timeout,
		logger:  logger.WithFields(logging.Field{Key: "component", Value: "executor"}),
	}
}

func (e *GojaExecutor) Execute(ctx context.Context, codefilePath string, payload json.RawMessage, eventType string, action *string) (string, error) {
	code, err := e.loadArtifact(codefilePath)
	if err != nil {
		return "", err
	}

	vm := goja.New()

	timer := time.AfterFunc(e.timeout, func() {
		vm.Interrupt("handler timed out")
	})
	defer timer.Stop()

	if _, err := vm.RunScript(filepath.Base(codefilePath), code); err != nil {
		return "", classifyRuntimeError(err, "handler script failed to load")
	}

	entry, ok := goja.AssertFunction(vm.Get("handle_event"))
	if !ok {
		return "", errors.ExecutionError("handler does not define handle_event", nil).
			WithCode("entry_point_missing").
			WithContext("codefile_path", codefilePath)
	}

	var payloadValue interface{}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &payloadValue); err != nil {
			return "", errors.ExecutionError("event payload is not valid JSON", err)
		}
	}

	actionValue := goja.Null()
	if action != nil {
		actionValue = vm.ToValue(*action)
	}

	result, err := entry(goja.Undefined(), vm.ToValue(payloadValue), vm.ToValue(eventType), actionValue)
	if err != nil {
		return "", classifyRuntimeError(err, "handler raised an error")
	}

	// Control has returned to Go, so goja has drained the microtask queue;
	// any promise the handler returned is as settled as it will ever get.
	if promise, ok := result.Export().(*goja.Promise); ok {
		switch promise.State() {
		case goja.PromiseStateFulfilled:
			result = promise.Result()
		case goja.PromiseStateRejected:
			return "", errors.ExecutionError(
				fmt.Sprintf("handler promise rejected: %s", promise.Result().String()), nil).
				WithCode("handler_failed")
		default:
			return "", errors.ExecutionError("handler promise never settled", nil).
				WithCode("handler_failed")
		}
	}

	return coerceOutput(result)
}

// loadArtifact copies the handler file to a transient location and returns
// its contents from the copy.
func (e *GojaExecutor) loadArtifact(codefilePath string) (string, error) {
	original, err := os.ReadFile(codefilePath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", errors.ExecutionError("handler artifact not found", err).
				WithCode("handler_not_found").
				WithContext("codefile_path", codefilePath)
		}
		return "", errors.ExecutionError("failed to read handler artifact", err).
			WithContext("codefile_path", codefilePath)
	}

	tmp, err := os.CreateTemp("", "handler-*.js")
	if err != nil {
		return "", errors.InternalError("failed to stage handler artifact", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(original); err != nil {
		tmp.Close()
		return "", errors.InternalError("failed to stage handler artifact", err)
	}
	if err := tmp.Close(); err != nil {
		return "", errors.InternalError("failed to stage handler artifact", err)
	}

	staged, err := os.ReadFile(tmp.Name())
	if err != nil {
		return "", errors.InternalError("failed to stage handler artifact", err)
	}

	return string(staged), nil
}

func classifyRuntimeError(err error, msg string) *errors.AppError {
	var interrupted *goja.InterruptedError
	if stderrors.As(err, &interrupted) {
		return errors.ExecutionError("handler timed out", err).WithCode("timeout")
	}

	var exception *goja.Exception
	if stderrors.As(err, &exception) {
		return errors.ExecutionError(fmt.Sprintf("%s: %s", msg, exception.Value().String()), err).
			WithCode("handler_failed")
	}

	return errors.ExecutionError(msg, err).WithCode("handler_failed")
}

func coerceOutput(result goja.Value) (string, error) {
	if result == nil || goja.IsUndefined(result) || goja.IsNull(result) {
		return noOutput, nil
	}

	exported := result.Export()
	switch v := exported.(type) {
	case nil:
		return noOutput, nil
	case string:
		return v, nil
	default:
		encoded, err := json.Marshal(exported)
		if err != nil {
			return "", errors.ExecutionError("handler returned an unserializable value", err)
		}
		return string(encoded), nil
	}
}
