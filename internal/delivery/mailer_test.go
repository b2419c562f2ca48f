package delivery

import (
	"errors"
	"testing"

	mail "github.com/wneessen/go-mail"
)

func TestClassifySendErr(t *testing.T) {
	t.Parallel()

	// An SMTP-level rejection that the server did not flag as temporary is
	// permanent: retrying a hard 5xx just burns the attempt budget.
	err := classifySendErr(&mail.SendError{Reason: mail.ErrSMTPMailFrom})
	var se *SendError
	if !errors.As(err, &se) {
		t.Fatalf("classifySendErr returned %T, want *SendError", err)
	}
	if !se.Permanent {
		t.Fatalf("hard SMTP rejection classified as transient")
	}

	// Dial and handshake failures carry no SMTP status and are retried.
	err = classifySendErr(errors.New("dial tcp 10.0.0.1:587: connection refused"))
	if !errors.As(err, &se) {
		t.Fatalf("classifySendErr returned %T, want *SendError", err)
	}
	if se.Permanent {
		t.Fatalf("transport failure classified as permanent")
	}
}
