package aggregation

import (
	"errors"
	"fmt"
)

// ErrEvaluation is the sentinel every EvaluationError matches with errors.Is
var ErrEvaluation = errors.New("evaluation error")

// EvaluationError reports an expression applied to operands it cannot
// handle, such as division by zero or $floor of a string
type EvaluationError struct {
	Operator string
	Reason   string
}

func evalErrorf(op, format string, args ...interface{}) *EvaluationError {
	return &EvaluationError{Operator: op, Reason: fmt.Sprintf(format, args...)}
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Operator, e.Reason)
}

// Is makes errors.Is(err, ErrEvaluation) hold for every EvaluationError
func (e *EvaluationError) Is(target error) bool {
	return target == ErrEvaluation
}
