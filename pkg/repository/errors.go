package repository

import (
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var ErrNotFound = status.New(codes.NotFound, "requested record does not exist").Err()
var ErrAlreadyExists = status.New(codes.AlreadyExists, "tuple already exists").Err()
var ErrTupleNotFound = status.New(codes.NotFound, "tuple to delete does not exist").Err()
var ErrNoActiveModel = status.New(codes.FailedPrecondition, "model has no active version").Err()
var ErrModelVersionExists = status.New(codes.AlreadyExists, "model version already exists").Err()
var ErrPageTokenDecode = status.New(codes.InvalidArgument, "page token decode error").Err()
var ErrConsistencyTokenDecode = status.New(codes.InvalidArgument, "consistency token decode error").Err()
