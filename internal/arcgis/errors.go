// Package arcgis implements the client side of the remote geospatial
// query service: a retrying fetch layer and a paged query adapter that
// shapes raw features into typed parcel rows.
package arcgis

import (
	"errors"
	"fmt"
)

// HTTPError is a non-2xx transport-level response
type HTTPError struct {
	StatusCode int
	URL        string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.URL)
}

// ServiceError is an application-level error embedded in a 200 response
// (the query service reports failures inside successful HTTP responses)
type ServiceError struct {
	Code    int
	Message string
}

func (e *ServiceError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("service error %d", e.Code)
	}
	return fmt.Sprintf("service error %d: %s", e.Code, e.Message)
}

// IsTransient reports whether an error is eligible for automatic retry:
// HTTP 429 or any 5xx, at either the transport or the service level.
func IsTransient(err error) bool {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode == 429 || httpErr.StatusCode >= 500
	}

	var svcErr *ServiceError
	if errors.As(err, &svcErr) {
		return svcErr.Code == 429 || svcErr.Code >= 500
	}

	return false
}
