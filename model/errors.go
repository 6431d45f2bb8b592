//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package model

import (
	"fmt"
	"net/http"
)

const rateLimitHint = "See https://google.github.io/adk-docs/agents/models/#error-code-429-resource_exhausted " +
	"for how to configure retries and quota for this model."

// Error is a failure reported by a model provider.
type Error struct {
	// StatusCode is the HTTP status, 0 when unknown.
	StatusCode int
	// Code is the provider error code, e.g. "RESOURCE_EXHAUSTED".
	Code    string
	Message string
	Err     error
}

// NewError wraps a provider failure. A 429 status gets a pointer to the
// quota documentation appended to its message.
func NewError(status int, code, msg string, err error) *Error {
	if status == http.StatusTooManyRequests {
		msg = msg + "\n\n" + rateLimitHint
	}
	return &Error{StatusCode: status, Code: code, Message: msg, Err: err}
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("model error %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("model error %s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// ErrorCode returns the provider code, or ErrorCodeModel when it is unknown.
func (e *Error) ErrorCode() string {
	if e.Code != "" {
		return e.Code
	}
	return ErrorCodeModel
}

// Retryable reports whether the failure is a rate limit or a server error.
func (e *Error) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= http.StatusInternalServerError
}
