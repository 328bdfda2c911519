// Package predictor classifies worker rejections as transient or
// deterministic. Retryable verdicts let the control plane requeue a
// failed execution without the calling SDK ever seeing the error.
//
// Classification is fail-closed: when the payload cannot be parsed or
// the classifier is unreachable, the rejection stands and the job goes
// terminal. A wrong "not retryable" costs one retry; a wrong
// "retryable" re-executes a job that deterministically fails until its
// attempts run out.
package predictor

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
)

// Verdict is the classifier's judgement of one rejection.
type Verdict struct {
	Retryable bool   `json:"retryable"`
	Reason    string `json:"reason,omitempty"`
}

// Client classifies a structured error by name and message.
type Client interface {
	Classify(ctx context.Context, errName, errMessage string) (Verdict, error)
}

// Cache stores verdicts keyed by error content so identical failures
// across jobs are classified once.
type Cache interface {
	// GetVerdict returns the cached verdict for a key, with ok=false on
	// a miss.
	GetVerdict(ctx context.Context, key string) (Verdict, bool, error)

	// PutVerdict stores a verdict. Best effort: callers ignore failures.
	PutVerdict(ctx context.Context, key string, v Verdict) error
}

// rejection is the error shape workers embed in rejection result
// payloads.
type rejection struct {
	Name    string `json:"name"`
	Message string `json:"message"`
}

// Service ties the classifier client to its verdict cache.
type Service struct {
	client Client
	cache  Cache
	logger *slog.Logger
}

// NewService creates a classification service. cache may be nil to
// classify every rejection.
func NewService(client Client, cache Cache, logger *slog.Logger) *Service {
	return &Service{client: client, cache: cache, logger: logger}
}

// Classify judges a rejection result payload. It never returns an
// error: any failure along the way yields a non-retryable verdict with
// the reason recorded.
func (s *Service) Classify(ctx context.Context, result []byte) Verdict {
	var rej rejection
	if err := json.Unmarshal(result, &rej); err != nil || rej.Message == "" {
		return Verdict{Retryable: false, Reason: "unclassifiable result payload"}
	}

	key := verdictKey(rej.Name, rej.Message)

	if s.cache != nil {
		v, ok, err := s.cache.GetVerdict(ctx, key)
		if err != nil {
			s.logger.Warn("verdict cache read failed", slog.String("error", err.Error()))
		} else if ok {
			return v
		}
	}

	v, err := s.client.Classify(ctx, rej.Name, rej.Message)
	if err != nil {
		s.logger.Warn("classifier unavailable",
			slog.String("error_name", rej.Name),
			slog.String("error", err.Error()),
		)
		return Verdict{Retryable: false, Reason: "classifier unavailable"}
	}

	if s.cache != nil {
		if err := s.cache.PutVerdict(ctx, key, v); err != nil {
			s.logger.Warn("verdict cache write failed", slog.String("error", err.Error()))
		}
	}
	return v
}

// verdictKey hashes the error content so the cache key stays bounded
// regardless of message length.
func verdictKey(name, message string) string {
	sum := sha256.Sum256([]byte(name + "\x00" + message))
	return hex.EncodeToString(sum[:])
}
