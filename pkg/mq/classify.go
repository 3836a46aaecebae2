package mq

import (
	"context"
	"encoding/json"
	"errors"
	"net"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Classify decides whether a failed delivery is worth one more attempt and
// names the failure for logs and metrics.
func Classify(err error) (retryable bool, reason string) {
	if err == nil {
		return false, ""
	}

	var (
		syntaxErr *json.SyntaxError
		typeErr   *json.UnmarshalTypeError
		netErr    net.Error
		pgErr     *pgconn.PgError
	)
	switch {
	case errors.Is(err, ErrPermanent):
		return false, "permanent"
	case errors.As(err, &syntaxErr), errors.As(err, &typeErr):
		return false, "decode_error"
	case errors.Is(err, context.Canceled):
		return false, "canceled"
	case errors.Is(err, pgx.ErrNoRows):
		return false, "not_found"
	case errors.Is(err, context.DeadlineExceeded):
		return true, "timeout"
	case errors.As(err, &netErr):
		if netErr.Timeout() {
			return true, "network_timeout"
		}
		return true, "network_error"
	case errors.As(err, &pgErr):
		// 23xxx 约束冲突重试也不会成功
		if len(pgErr.Code) == 5 && pgErr.Code[:2] == "23" {
			return false, "constraint_violation"
		}
		return true, "db_error"
	}
	return true, "unknown"
}
