package mq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassify(t *testing.T) {
	var syntax *json.SyntaxError
	decodeErr := json.Unmarshal([]byte("{"), &struct{}{})
	assert.True(t, errors.As(decodeErr, &syntax))

	cases := []struct {
		name      string
		err       error
		retryable bool
		reason    string
	}{
		{"nil", nil, false, ""},
		{"permanent", fmt.Errorf("bad date: %w", ErrPermanent), false, "permanent"},
		{"decode", fmt.Errorf("decode: %w", decodeErr), false, "decode_error"},
		{"canceled", context.Canceled, false, "canceled"},
		{"deadline", fmt.Errorf("apply: %w", context.DeadlineExceeded), true, "timeout"},
		{"network timeout", timeoutErr{}, true, "network_timeout"},
		{"unique violation", &pgconn.PgError{Code: "23505"}, false, "constraint_violation"},
		{"serialization", &pgconn.PgError{Code: "40001"}, true, "db_error"},
		{"other", errors.New("boom"), true, "unknown"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			retryable, reason := Classify(tc.err)
			assert.Equal(t, tc.retryable, retryable)
			assert.Equal(t, tc.reason, reason)
		})
	}
}
