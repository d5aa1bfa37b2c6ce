// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package fetcher

import (
	"errors"
	"net/http"
	"testing"
)

func TestStatusError_IsRetryable(t *testing.T) {
	for code, want := range map[int]bool{
		http.StatusRequestTimeout:               true,
		http.StatusTooManyRequests:              true,
		http.StatusInternalServerError:          true,
		http.StatusNotImplemented:               true,
		http.StatusServiceUnavailable:           true,
		http.StatusHTTPVersionNotSupported:      true,
		http.StatusInsufficientStorage:          true,
		http.StatusBadRequest:                   false,
		http.StatusUnauthorized:                 false,
		http.StatusNotFound:                     false,
		http.StatusRequestedRangeNotSatisfiable: false,
	} {
		e := &StatusError{StatusCode: code, Status: http.StatusText(code), URL: "http://example.org/x"}
		if got := e.IsRetryable(); got != want {
			t.Errorf("%d: IsRetryable = %v, want %v", code, got, want)
		}
		if got := retryable(e); got != want {
			t.Errorf("%d: retryable = %v, want %v", code, got, want)
		}
	}
}

func TestStatusError_Is(t *testing.T) {
	if !errors.Is(&StatusError{StatusCode: http.StatusForbidden}, ErrUnauthorized) {
		t.Error("403 should match ErrUnauthorized")
	}
	if !errors.Is(&StatusError{StatusCode: http.StatusGone}, ErrNotFound) {
		t.Error("410 should match ErrNotFound")
	}
	if errors.Is(&StatusError{StatusCode: http.StatusBadGateway}, ErrNotFound) {
		t.Error("502 should not match ErrNotFound")
	}
}
