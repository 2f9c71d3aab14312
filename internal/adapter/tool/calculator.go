package tool

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/Knetic/govaluate"
	"go.opentelemetry.io/otel/trace"
)

var calcReplacer = strings.NewReplacer(
	"×", "*",
	"÷", "/",
	"（", "(",
	"）", ")",
	"^", "**",
	"=", "",
	"？", "",
	"?", "",
)

var calcConstants = map[string]any{
	"pi": math.Pi,
	"PI": math.Pi,
}

var calcFunctions = map[string]govaluate.ExpressionFunction{
	"sqrt":  unary(math.Sqrt),
	"abs":   unary(math.Abs),
	"floor": unary(math.Floor),
	"ceil":  unary(math.Ceil),
	"round": unary(math.Round),
	"ln":    unary(math.Log),
	"log":   unary(math.Log10),
	"sin":   unary(math.Sin),
	"cos":   unary(math.Cos),
	"tan":   unary(math.Tan),
	"pow": func(args ...any) (any, error) {
		if len(args) != 2 {
			return nil, errors.New("pow takes two arguments")
		}
		x, ok1 := args[0].(float64)
		y, ok2 := args[1].(float64)
		if !ok1 || !ok2 {
			return nil, errors.New("pow takes numbers")
		}
		return math.Pow(x, y), nil
	},
}

func unary(fn func(float64) float64) govaluate.ExpressionFunction {
	return func(args ...any) (any, error) {
		if len(args) != 1 {
			return nil, fmt.Errorf("want one argument, got %d", len(args))
		}
		x, ok := args[0].(float64)
		if !ok {
			return nil, fmt.Errorf("want a number, got %T", args[0])
		}
		return fn(x), nil
	}
}

func (e *Executor) calculate(_ context.Context, _ trace.Span, input string) (any, error) {
	expr := strings.TrimSpace(calcReplacer.Replace(input))
	if expr == "" {
		return nil, Fail("Calculator input is required", nil)
	}
	value, err := evaluate(expr)
	if err != nil {
		return nil, Fail("Invalid expression", err)
	}
	return value, nil
}

func evaluate(expr string) (string, error) {
	parsed, err := govaluate.NewEvaluableExpressionWithFunctions(expr, calcFunctions)
	if err != nil {
		return "", err
	}
	result, err := parsed.Evaluate(calcConstants)
	if err != nil {
		return "", err
	}
	switch v := result.(type) {
	case float64:
		return formatNumber(v)
	case bool:
		return strconv.FormatBool(v), nil
	default:
		return "", fmt.Errorf("unsupported result %T", result)
	}
}

// formatNumber prints v in plain decimal notation without trailing zeros,
// rounding away binary noise beyond fifteen significant digits.
func formatNumber(v float64) (string, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return "", fmt.Errorf("result is not a finite number")
	}
	rounded, err := strconv.ParseFloat(strconv.FormatFloat(v, 'g', 15, 64), 64)
	if err != nil {
		return "", err
	}
	if rounded == 0 {
		rounded = 0 // drop negative zero
	}
	return strconv.FormatFloat(rounded, 'f', -1, 64), nil
}
