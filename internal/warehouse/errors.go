package warehouse

import (
	"context"
	"errors"
	"net"
	"net/http"

	"google.golang.org/api/googleapi"

	"bq2pg/internal/etlerr"
)

// classify maps a BigQuery client error onto the pipeline error taxonomy
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return etlerr.TransientSource(op, err)
	}

	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		for _, item := range gerr.Errors {
			switch item.Reason {
			case "quotaExceeded", "rateLimitExceeded", "backendError", "internalError", "jobBackendError", "jobInternalError":
				return etlerr.TransientSource(op, err)
			case "accessDenied", "notFound", "invalid", "invalidQuery", "billingNotEnabled", "responseTooLarge":
				return etlerr.Configuration(op, err)
			}
		}

		switch {
		case gerr.Code == http.StatusTooManyRequests || gerr.Code >= 500:
			return etlerr.TransientSource(op, err)
		case gerr.Code == http.StatusUnauthorized,
			gerr.Code == http.StatusForbidden,
			gerr.Code == http.StatusNotFound,
			gerr.Code == http.StatusBadRequest:
			return etlerr.Configuration(op, err)
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return etlerr.TransientSource(op, err)
	}

	return etlerr.New(etlerr.KindUnknown, op, err)
}
