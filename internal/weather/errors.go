package weather

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/pvcast/pvcast/internal/provider/resilience"
)

// ClassifyError maps a transport failure to a *SourceError for the source.
func ClassifyError(source string, err error) *SourceError {
	if err == nil {
		return nil
	}

	var serr *SourceError
	if errors.As(err, &serr) {
		return serr
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return NewSourceError(source, KindTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return NewSourceError(source, KindTimeout, err)
	}

	var status *resilience.StatusError
	if errors.As(err, &status) {
		switch status.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return NewSourceError(source, KindAuth, err)
		case http.StatusTooManyRequests:
			return NewSourceError(source, KindRateLimited, err)
		case http.StatusRequestTimeout, http.StatusGatewayTimeout:
			return NewSourceError(source, KindTimeout, err)
		}
	}

	return NewSourceError(source, KindUnavailable, err)
}
