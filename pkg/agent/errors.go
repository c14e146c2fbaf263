package agent

import (
	"context"
	"errors"
	"fmt"

	"gptbridge/pkg/tools"
)

// Error kinds returned by Engine.Run. Callers match them with errors.Is.
var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrUnknownTool     = errors.New("unknown tool")
	ErrExecutionFailed = errors.New("agent execution failed")
	ErrTimeout         = errors.New("timeout")
)

// Kind returns a short machine-readable name for err.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidArgument):
		return "InvalidArgument"
	case errors.Is(err, ErrUnknownTool):
		return "UnknownTool"
	case errors.Is(err, ErrTimeout):
		return "Timeout"
	default:
		return "AgentExecutionFailed"
	}
}

func invalidArgument(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

func unknownTool(name string) error {
	return fmt.Errorf("%w: %s", ErrUnknownTool, name)
}

// normalize folds any upstream failure into one of the error kinds.
func normalize(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrInvalidArgument), errors.Is(err, ErrUnknownTool),
		errors.Is(err, ErrTimeout), errors.Is(err, ErrExecutionFailed):
		return err
	case errors.Is(err, tools.ErrUnknownTool):
		return fmt.Errorf("%w: %v", ErrUnknownTool, err)
	case errors.Is(err, tools.ErrInvalidArguments):
		return fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	default:
		return fmt.Errorf("%w: %v", ErrExecutionFailed, err)
	}
}
