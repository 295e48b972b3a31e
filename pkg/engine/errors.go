package engine

import (
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Evaluation failures are returned as errors, never as a false decision:
// "access denied" and "could not determine access" must stay distinguishable
// for callers. The evaluator always fails closed.

var ErrDepthExceeded = status.New(codes.ResourceExhausted, "evaluation exceeded the configured recursion depth").Err()
var ErrDeadlineExceeded = status.New(codes.DeadlineExceeded, "evaluation deadline exceeded").Err()
var ErrRelationNotFound = status.New(codes.NotFound, "relation is not defined for the object type in the active model").Err()
var ErrTypeNotFound = status.New(codes.NotFound, "object type is not defined in the active model").Err()
var ErrBatchTooLarge = status.New(codes.InvalidArgument, "batch size exceeds the configured maximum").Err()
