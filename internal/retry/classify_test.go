package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
	"testing"

	"github.com/vietddude/resilink/internal/core/domain"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		expect domain.ErrorClass
	}{
		{"500", &StatusError{Code: 500}, domain.ClassTransient},
		{"503 wrapped", fmt.Errorf("replay: %w", &StatusError{Code: 503}), domain.ClassTransient},
		{"429", &StatusError{Code: 429}, domain.ClassTransient},
		{"408", &StatusError{Code: 408}, domain.ClassTransient},
		{"400", &StatusError{Code: 400}, domain.ClassPermanent},
		{"404", &StatusError{Code: 404}, domain.ClassPermanent},
		{"conn reset", fmt.Errorf("read: %w", syscall.ECONNRESET), domain.ClassTransient},
		{"conn refused", &net.OpError{Op: "dial", Err: syscall.ECONNREFUSED}, domain.ClassTransient},
		{"eof", io.EOF, domain.ClassTransient},
		{"circuit open", ErrCircuitOpen, domain.ClassTransient},
		{"canceled", context.Canceled, domain.ClassPermanent},
		{"plain", errors.New("bad payload"), domain.ClassPermanent},
		{"marked permanent 503", Permanent(&StatusError{Code: 503}), domain.ClassPermanent},
		{"marked transient", Transient(errors.New("flaky")), domain.ClassTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.expect {
				t.Errorf("Classify(%v) = %v, want %v", tt.err, got, tt.expect)
			}
		})
	}
}

func TestPredicates(t *testing.T) {
	tests := []struct {
		code   int
		write  bool
		upload bool
	}{
		{500, true, true},
		{502, true, true},
		{429, true, true},
		{408, false, true},
		{400, false, false},
		{401, false, false},
		{409, false, false},
	}

	for _, tt := range tests {
		err := &StatusError{Code: tt.code}
		if got := WriteSpec.Retryable(err); got != tt.write {
			t.Errorf("WriteSpec.Retryable(%d) = %v, want %v", tt.code, got, tt.write)
		}
		if got := UploadSpec.Retryable(err); got != tt.upload {
			t.Errorf("UploadSpec.Retryable(%d) = %v, want %v", tt.code, got, tt.upload)
		}
	}
}

func TestStatusErrorIs(t *testing.T) {
	if !errors.Is(&StatusError{Code: 503}, domain.ErrTransient) {
		t.Error("503 should match ErrTransient")
	}
	if !errors.Is(&StatusError{Code: 403}, domain.ErrPermanent) {
		t.Error("403 should match ErrPermanent")
	}
}

func TestSpecFor(t *testing.T) {
	if SpecFor(domain.ClassRead).MaxAttempts != ReadSpec.MaxAttempts {
		t.Error("read class should map to ReadSpec")
	}
	if SpecFor(domain.ClassUpload).MaxDelay != UploadSpec.MaxDelay {
		t.Error("upload class should map to UploadSpec")
	}
	if SpecFor("").BaseDelay != WriteSpec.BaseDelay {
		t.Error("unknown class should map to WriteSpec")
	}

	overrides := Specs{domain.ClassWrite: WriteSpec.WithMaxAttempts(9)}
	if overrides.For(domain.ClassWrite).MaxAttempts != 9 {
		t.Error("override not applied")
	}
	if WriteSpec.MaxAttempts != 3 {
		t.Error("WithMaxAttempts mutated the shared spec")
	}
}
