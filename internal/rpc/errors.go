// Package rpc exposes the stream proxy and execution engine gRPC services.
// The generated-stub layer is a hand-rolled service descriptor over a JSON
// codec; message shapes live in types.go.
package rpc

import (
	"errors"
	"net/http"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/ccheney/cream-sub002/internal/broker"
	"github.com/ccheney/cream-sub002/internal/domain"
	"github.com/ccheney/cream-sub002/internal/engine"
)

// ErrorCode is the stable error enum exposed to callers on both surfaces.
type ErrorCode string

const (
	CodeInvalidRequest        ErrorCode = "INVALID_REQUEST"
	CodeInvalidInstrument     ErrorCode = "INVALID_INSTRUMENT"
	CodeInvalidOrderParams    ErrorCode = "INVALID_ORDER_PARAMS"
	CodeInvalidEnvironment    ErrorCode = "INVALID_ENVIRONMENT"
	CodeNotionalLimit         ErrorCode = "NOTIONAL_LIMIT_EXCEEDED"
	CodeEquityLimit           ErrorCode = "EQUITY_LIMIT_EXCEEDED"
	CodePortfolioLimit        ErrorCode = "PORTFOLIO_LIMIT_EXCEEDED"
	CodeMissingStopLoss       ErrorCode = "MISSING_STOP_LOSS"
	CodePlanNotApproved       ErrorCode = "PLAN_NOT_APPROVED"
	CodeMarketClosed          ErrorCode = "MARKET_CLOSED"
	CodeOrderRejected         ErrorCode = "ORDER_REJECTED"
	CodeInsufficientMargin    ErrorCode = "INSUFFICIENT_MARGIN"
	CodeRateLimited           ErrorCode = "RATE_LIMITED"
	CodeOrderNotFound         ErrorCode = "ORDER_NOT_FOUND"
	CodeInstrumentNotFound    ErrorCode = "INSTRUMENT_NOT_FOUND"
	CodeInternalError         ErrorCode = "INTERNAL_ERROR"
	CodeBrokerAPIError        ErrorCode = "BROKER_API_ERROR"
)

// ErrorBody is the JSON error detail carried in the status message and the
// HTTP mirror: typed code, domain tag, and key-value metadata.
type ErrorBody struct {
	Code     ErrorCode         `json:"code"`
	Domain   string            `json:"domain"`
	Message  string            `json:"message"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// grpcCodeFor maps the typed enum to its transport code.
func grpcCodeFor(code ErrorCode) codes.Code {
	switch code {
	case CodeInvalidRequest, CodeInvalidInstrument, CodeInvalidOrderParams, CodeInvalidEnvironment:
		return codes.InvalidArgument
	case CodeMissingStopLoss, CodePlanNotApproved, CodeMarketClosed, CodeInsufficientMargin:
		return codes.FailedPrecondition
	case CodeNotionalLimit, CodeEquityLimit, CodePortfolioLimit, CodeRateLimited:
		return codes.ResourceExhausted
	case CodeOrderNotFound, CodeInstrumentNotFound:
		return codes.NotFound
	case CodeOrderRejected:
		return codes.Aborted
	case CodeBrokerAPIError:
		return codes.Unavailable
	default:
		return codes.Internal
	}
}

// HTTPStatusFor mirrors gRPC codes onto HTTP statuses for the JSON surface.
func HTTPStatusFor(c codes.Code) int {
	switch c {
	case codes.InvalidArgument:
		return http.StatusBadRequest
	case codes.FailedPrecondition, codes.Aborted:
		return http.StatusPreconditionFailed
	case codes.NotFound:
		return http.StatusNotFound
	case codes.ResourceExhausted:
		return http.StatusTooManyRequests
	case codes.Unavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// StatusError builds the rich status for a typed code.
func StatusError(code ErrorCode, domainTag, msg string, md map[string]string) error {
	return status.Error(grpcCodeFor(code), encodeErrorBody(ErrorBody{
		Code:     code,
		Domain:   domainTag,
		Message:  msg,
		Metadata: md,
	}))
}

// MapError converts subsystem errors to rich statuses. Aggregate invariant
// violations are programmer errors: they surface as Internal, and the
// process keeps running.
func MapError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok && status.Code(err) != codes.Unknown {
		return err
	}

	var (
		envMismatch *broker.EnvironmentMismatchError
		rateLimited *broker.RateLimitedError
		apiErr      *broker.APIError
		invariant   *domain.InvariantViolationError
		transition  *domain.IllegalTransitionError
	)

	switch {
	case errors.As(err, &envMismatch):
		return StatusError(CodeInvalidEnvironment, "broker", err.Error(), map[string]string{
			"expected": string(envMismatch.Expected),
			"actual":   string(envMismatch.Actual),
		})
	case errors.As(err, &rateLimited):
		return StatusError(CodeRateLimited, "broker", err.Error(), nil)
	case errors.Is(err, broker.ErrOrderNotFound), errors.Is(err, domain.ErrOrderNotFound):
		return StatusError(CodeOrderNotFound, "orders", err.Error(), nil)
	case errors.Is(err, broker.ErrOrderRejected):
		return StatusError(CodeOrderRejected, "broker", err.Error(), nil)
	case errors.Is(err, broker.ErrAuthenticationFailed):
		return StatusError(CodeBrokerAPIError, "broker", err.Error(), nil)
	case errors.As(err, &apiErr):
		return StatusError(CodeBrokerAPIError, "broker", err.Error(), map[string]string{
			"broker_code": itoa(apiErr.Code),
		})
	case errors.Is(err, engine.ErrPlanNotApproved):
		return StatusError(CodePlanNotApproved, "risk", err.Error(), nil)
	case errors.As(err, &invariant):
		return StatusError(CodeInternalError, "orders", err.Error(), map[string]string{
			"aggregate": invariant.Aggregate,
		})
	case errors.As(err, &transition):
		return StatusError(CodeInternalError, "orders", err.Error(), nil)
	default:
		return StatusError(CodeInternalError, "engine", err.Error(), nil)
	}
}
