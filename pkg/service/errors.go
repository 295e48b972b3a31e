package service

import (
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var (
	// ErrCompileFailed is returned when a submitted model source does not compile.
	ErrCompileFailed = status.Error(codes.InvalidArgument, "model source failed to compile")
	// ErrUnknownType is returned when a tuple references a type the active model does not declare.
	ErrUnknownType = status.Error(codes.InvalidArgument, "tuple references a type not declared by the active model")
	// ErrUnknownRelation is returned when a tuple references a relation the active model does not declare.
	ErrUnknownRelation = status.Error(codes.InvalidArgument, "tuple references a relation not declared by the active model")
	// ErrEmptyWrite is returned when a write request carries neither adds nor deletes.
	ErrEmptyWrite = status.Error(codes.InvalidArgument, "write request contains no tuples")
)
