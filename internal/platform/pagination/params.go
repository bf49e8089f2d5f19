package pagination

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/storefront/api/internal/domain"
)

// Listing defaults shared by handlers and repositories.
const (
	DefaultPageSize    = 20
	DefaultMaxPageSize = 100
)

// Query parameter names.
const (
	PageSizeParam  = "pageSize"
	PageTokenParam = "pageToken"
)

var (
	ErrInvalidPageSize  = errors.New("pagination: invalid pageSize")
	ErrInvalidPageToken = errors.New("pagination: invalid pageToken")
)

// Limits bounds the page size of one listing. Zero values fall back to the package defaults.
type Limits struct {
	Default int
	Max     int
}

func (l Limits) normalized() Limits {
	if l.Max <= 0 {
		l.Max = DefaultMaxPageSize
	}
	if l.Default <= 0 {
		l.Default = DefaultPageSize
	}
	l.Default = min(l.Default, l.Max)
	return l
}

// Clamp maps a requested size into [1, Max], treating non-positive sizes as the default.
func (l Limits) Clamp(size int) int {
	l = l.normalized()
	if size <= 0 {
		return l.Default
	}
	return min(size, l.Max)
}

// FromRequest reads pageSize and pageToken from the request query.
func FromRequest(r *http.Request, limits Limits) (domain.Pagination, error) {
	if r == nil {
		return domain.Pagination{}, errors.New("pagination: nil request")
	}
	return FromQuery(r.URL.Query(), limits)
}

// FromQuery validates the page token eagerly so a malformed token fails before any storage call.
func FromQuery(values url.Values, limits Limits) (domain.Pagination, error) {
	page := domain.Pagination{PageSize: limits.Clamp(0)}

	if raw := strings.TrimSpace(values.Get(PageSizeParam)); raw != "" {
		size, err := strconv.Atoi(raw)
		switch {
		case err != nil:
			return domain.Pagination{}, fmt.Errorf("%w: %q is not an integer", ErrInvalidPageSize, raw)
		case size <= 0:
			return domain.Pagination{}, fmt.Errorf("%w: must be positive", ErrInvalidPageSize)
		}
		page.PageSize = limits.Clamp(size)
	}

	if token := strings.TrimSpace(values.Get(PageTokenParam)); token != "" {
		if _, err := DecodeToken(token); err != nil {
			return domain.Pagination{}, err
		}
		page.PageToken = token
	}
	return page, nil
}
