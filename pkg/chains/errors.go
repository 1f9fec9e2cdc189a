package chains

import (
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
)

// HTTP status codes match as whole words only
var (
	rateLimitStatus = regexp.MustCompile(`\b429\b`)
	serverStatus    = regexp.MustCompile(`\b50[0234]\b`)
)

// ErrorKind classifies a chain failure where it happens so callers never
// have to re-derive intent from error text
type ErrorKind string

const (
	KindNetwork           ErrorKind = "network"
	KindRateLimited       ErrorKind = "rate_limited"
	KindNotFound          ErrorKind = "not_found"
	KindRejected          ErrorKind = "rejected"
	KindTimeout           ErrorKind = "timeout"
	KindExpired           ErrorKind = "expired"
	KindInsufficientFunds ErrorKind = "insufficient_funds"
	KindUnknown           ErrorKind = "unknown"
)

// Retryable reports whether trying another endpoint can change the outcome
func (k ErrorKind) Retryable() bool {
	switch k {
	case KindRejected, KindInsufficientFunds:
		return false
	default:
		return true
	}
}

// ChainError represents an RPC-related error tagged with its kind
type ChainError struct {
	Kind     ErrorKind
	Method   string
	Endpoint string
	Err      error
}

func (e *ChainError) Error() string {
	if e.Endpoint == "" {
		return fmt.Sprintf("%s %s: %v", e.Method, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s %s on %s: %v", e.Method, e.Kind, e.Endpoint, e.Err)
}

func (e *ChainError) Unwrap() error {
	return e.Err
}

// ErrNotFound is wrapped by chain errors for missing transactions or signatures
var ErrNotFound = errors.New("not found")

// KindOf returns the kind carried by err, or KindUnknown
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var chainErr *ChainError
	if errors.As(err, &chainErr) {
		return chainErr.Kind
	}
	return ClassifyMessage(err)
}

// Wrap tags err with a kind, classifying it when it is not already tagged
func Wrap(method, endpoint string, err error) error {
	if err == nil {
		return nil
	}
	var chainErr *ChainError
	if errors.As(err, &chainErr) {
		return err
	}
	return &ChainError{
		Kind:     ClassifyMessage(err),
		Method:   method,
		Endpoint: endpoint,
		Err:      err,
	}
}

// ClassifyMessage derives a kind from an untyped error. It is only used at the
// adapter boundary, where third-party clients hand back plain errors.
func ClassifyMessage(err error) ErrorKind {
	if err == nil {
		return ""
	}
	if errors.Is(err, ErrNotFound) {
		return KindNotFound
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return KindNetwork
	}

	errStr := strings.ToLower(err.Error())

	switch {
	case strings.Contains(errStr, "user rejected") ||
		strings.Contains(errStr, "rejected the request") ||
		strings.Contains(errStr, "declined"):
		return KindRejected
	case rateLimitStatus.MatchString(errStr) ||
		strings.Contains(errStr, "too many requests") ||
		strings.Contains(errStr, "rate limit"):
		return KindRateLimited
	case strings.Contains(errStr, "insufficient funds") ||
		strings.Contains(errStr, "insufficient lamports"):
		return KindInsufficientFunds
	case strings.Contains(errStr, "blockhash not found") ||
		strings.Contains(errStr, "block height exceeded"):
		return KindExpired
	case strings.Contains(errStr, "not found"):
		return KindNotFound
	case strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "timed out"):
		return KindTimeout
	case strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "network is unreachable") ||
		strings.Contains(errStr, "no such host") ||
		strings.Contains(errStr, "unexpected eof") ||
		serverStatus.MatchString(errStr):
		return KindNetwork
	}
	return KindUnknown
}
