package apierrors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestLookupKnownCodes(t *testing.T) {
	cases := []struct {
		code    string
		numeric int
		status  int
	}{
		{CodeAuthMissing, 4010, http.StatusUnauthorized},
		{CodeAuthInvalid, 4011, http.StatusUnauthorized},
		{CodeFileTooLarge, 4201, http.StatusBadRequest},
		{CodeBatchLimitExceeded, 4202, http.StatusBadRequest},
		{CodeFormatUnsupported, 4203, http.StatusBadRequest},
		{CodeTaskFailed, 5001, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		s := Lookup(tc.code)
		if s.Numeric != tc.numeric || s.HTTPStatus != tc.status {
			t.Fatalf("Lookup(%s) = numeric %d status %d, want %d/%d", tc.code, s.Numeric, s.HTTPStatus, tc.numeric, tc.status)
		}
		if s.MessageZH == "" || s.MessageEN == "" {
			t.Fatalf("Lookup(%s) missing bilingual messages", tc.code)
		}
	}
}

func TestLookupUnknownDegradesToTaskFailed(t *testing.T) {
	s := Lookup("ERR_NOT_A_REAL_CODE")
	if s.Code != CodeTaskFailed {
		t.Fatalf("unknown code resolved to %s, want %s", s.Code, CodeTaskFailed)
	}
}

func TestFromWrapsPlainErrors(t *testing.T) {
	ae := From(fmt.Errorf("boom"))
	if ae.Spec.Code != CodeTaskFailed {
		t.Fatalf("plain error mapped to %s, want %s", ae.Spec.Code, CodeTaskFailed)
	}
	if ae.Detail != "boom" {
		t.Fatalf("detail = %q, want boom", ae.Detail)
	}
}

func TestFromPreservesAPIErrors(t *testing.T) {
	orig := New(CodeFileTooLarge, "file.bin is 200MB")
	wrapped := fmt.Errorf("validate: %w", orig)
	ae := From(wrapped)
	if ae.Spec.Code != CodeFileTooLarge {
		t.Fatalf("wrapped error mapped to %s, want %s", ae.Spec.Code, CodeFileTooLarge)
	}
	if !errors.As(wrapped, new(*APIError)) {
		t.Fatalf("errors.As failed to find APIError")
	}
}

func TestBodyShape(t *testing.T) {
	b := New(CodeBatchLimitExceeded, "11 files").Body()
	if b.Code != 4202 || b.ErrorCode != CodeBatchLimitExceeded || b.Detail != "11 files" {
		t.Fatalf("unexpected body: %+v", b)
	}
}
