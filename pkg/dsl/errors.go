package dsl

import "fmt"

// CompileError is a single compilation failure with its source position.
// Compilation never partially succeeds: any CompileError discards the model.
type CompileError struct {
	Line    int    `json:"line"`
	Col     int    `json:"col"`
	Message string `json:"message"`
}

func (e CompileError) Error() string {
	return fmt.Sprintf("%d:%d: %s", e.Line, e.Col, e.Message)
}

func errorf(line, col int, format string, args ...any) CompileError {
	return CompileError{Line: line, Col: col, Message: fmt.Sprintf(format, args...)}
}
