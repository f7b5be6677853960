package broker

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
)

// Sentinel errors returned by brokers and the Gateway. Callers classify them
// with errors.Is.
var (
	// ErrUnavailable means a read could not be served: network failure,
	// brokerage outage or exhausted rate-limit retries.
	ErrUnavailable = errors.New("broker unavailable")

	// ErrRateLimited is a 429 from the brokerage. The Gateway retries it.
	ErrRateLimited = errors.New("broker rate limited")

	// ErrNotTradable means the asset is unknown or flagged non-tradable.
	ErrNotTradable = errors.New("symbol not tradable")

	// ErrMarketClosed is returned by brokers that refuse an order outside
	// the regular session.
	ErrMarketClosed = errors.New("market closed")

	// ErrLiquidationFailed means positions remained after every close
	// attempt.
	ErrLiquidationFailed = errors.New("could not close all positions")
)

// classifyAlpacaError maps an SDK error onto the sentinels above while keeping
// the original error in the chain.
func classifyAlpacaError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var apiErr *alpaca.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusTooManyRequests:
			return fmt.Errorf("%s: %w: %w", op, ErrRateLimited, err)
		case apiErr.StatusCode >= 500:
			return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
		default:
			// Rejections (403 insufficient buying power, 422 invalid
			// order) are final.
			return fmt.Errorf("%s: %w", op, err)
		}
	}
	return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
}

// retryable reports whether a failed read is worth another attempt.
func retryable(err error) bool {
	return errors.Is(err, ErrUnavailable) || errors.Is(err, ErrRateLimited)
}

func isNotFound(err error) bool {
	var apiErr *alpaca.APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}
