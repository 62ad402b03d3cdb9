// Package work implements the CPU-bound work engine: a pure computation that
// turns an operation name plus parameters into a result, or fails.
package work

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"strings"

	"github.com/queueworks/workd/internal/core"
)

// Operations lists the operation names the engine understands.
var Operations = []string{"hash", "prime", "matrix", "transform"}

// KnownOperation reports whether op is one of the engine's operations.
func KnownOperation(op string) bool {
	for _, known := range Operations {
		if op == known {
			return true
		}
	}
	return false
}

// Engine executes work requests. All operation loops poll the context so an
// execution can be aborted when its time budget expires.
type Engine struct{}

// NewEngine creates the work engine.
func NewEngine() *Engine {
	return &Engine{}
}

// ctxCheckInterval is how many loop iterations pass between context polls.
const ctxCheckInterval = 100

// Execute runs the requested operation. Complexity scales the amount of work
// (1 = fast, 10 = slow). An unknown operation is an execution fault.
func (e *Engine) Execute(ctx context.Context, req core.WorkRequest) (map[string]any, error) {
	iterations := req.Complexity * 200

	switch req.Operation {
	case "hash":
		input := stringParam(req.Data, "input", "default")
		return hashOp(ctx, input, iterations)
	case "prime":
		n := intParam(req.Data, "n", 100)
		return primeOp(ctx, n, req.Complexity)
	case "matrix":
		size := intParam(req.Data, "size", 10*req.Complexity)
		return matrixOp(ctx, size, req.Complexity)
	case "transform":
		items := listParam(req.Data, "items")
		return transformOp(ctx, items, iterations)
	default:
		return nil, fmt.Errorf("unknown operation: %s", req.Operation)
	}
}

// hashOp applies SHA-256 iteratively to its own output.
func hashOp(ctx context.Context, input string, iterations int) (map[string]any, error) {
	data := []byte(input)
	for i := 0; i < iterations; i++ {
		sum := sha256.Sum256(data)
		data = sum[:]
		if i%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
	}
	return map[string]any{
		"output":     hex.EncodeToString(data),
		"iterations": iterations,
		"operation":  "hash",
	}, nil
}

// primeOp scans for the nth prime, bounded by n*complexity candidate checks.
func primeOp(ctx context.Context, n, complexity int) (map[string]any, error) {
	isPrime := func(num int) bool {
		if num < 2 {
			return false
		}
		for i := 2; i*i <= num; i++ {
			if num%i == 0 {
				return false
			}
		}
		return true
	}

	count := 0
	prime := 2
	maxChecks := n * complexity

	for num, checks := 2, 0; count < n && checks < maxChecks; num, checks = num+1, checks+1 {
		if isPrime(num) {
			prime = num
			count++
		}
		if checks%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
	}

	return map[string]any{
		"prime":     prime,
		"position":  count,
		"operation": "prime",
	}, nil
}

// matrixOp repeatedly multiply-accumulates two small generated matrices.
func matrixOp(ctx context.Context, size, complexity int) (map[string]any, error) {
	dim := size
	if dim > 50 {
		dim = 50
	}
	if dim < 1 {
		dim = 1
	}

	a := make([][]int, dim)
	b := make([][]int, dim)
	for i := 0; i < dim; i++ {
		a[i] = make([]int, dim)
		b[i] = make([]int, dim)
		for j := 0; j < dim; j++ {
			a[i][j] = i + j
			b[i][j] = i * j
		}
	}

	iterations := complexity * 100
	var resultSum int64
	for it := 0; it < iterations; it++ {
		for i := 0; i < dim; i++ {
			for j := 0; j < dim; j++ {
				resultSum += int64(a[i][j] * b[j][i%dim])
			}
		}
		if it%10 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
	}

	return map[string]any{
		"result_sum": resultSum,
		"size":       size,
		"iterations": iterations,
		"operation":  "matrix",
	}, nil
}

// transformOp repeatedly squares numeric items and upper-cases everything else.
func transformOp(ctx context.Context, items []any, iterations int) (map[string]any, error) {
	result := make([]any, len(items))
	copy(result, items)

	for it := 0; it < iterations; it++ {
		for i, v := range result {
			switch n := v.(type) {
			case float64:
				sq := n * n
				if math.IsInf(sq, 0) || math.IsNaN(sq) {
					// Inf is not JSON-encodable; saturate instead.
					sq = math.MaxFloat64
				}
				result[i] = sq
			case int:
				result[i] = n * n
			default:
				result[i] = strings.ToUpper(fmt.Sprint(v))
			}
		}
		if it%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
	}

	head := result
	if len(head) > 10 {
		head = head[:10]
	}
	return map[string]any{
		"transformed": head,
		"count":       len(result),
		"iterations":  iterations,
		"operation":   "transform",
	}, nil
}

func stringParam(data map[string]any, key, fallback string) string {
	if v, ok := data[key].(string); ok {
		return v
	}
	return fallback
}

func intParam(data map[string]any, key string, fallback int) int {
	switch v := data[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return fallback
	}
}

func listParam(data map[string]any, key string) []any {
	if v, ok := data[key].([]any); ok {
		return v
	}
	items := make([]any, 10)
	for i := range items {
		items[i] = float64(i)
	}
	return items
}
