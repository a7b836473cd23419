package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/utils"

	"github.com/vincitamore/BONERBOTS-OPEN-SOURCE-PUBLIC-v1.0-sub002/internal/settings"
	"github.com/vincitamore/BONERBOTS-OPEN-SOURCE-PUBLIC-v1.0-sub002/internal/storage"
	"github.com/vincitamore/BONERBOTS-OPEN-SOURCE-PUBLIC-v1.0-sub002/internal/vault"
)

const (
	defaultLimit = 50
	maxLimit     = 200
)

// fieldError is one element of a 400 validation response.
type fieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// validationError aggregates per-field violations of one request.
type validationError struct {
	fields []fieldError
}

func (e *validationError) Error() string {
	if len(e.fields) == 0 {
		return "validation failed"
	}
	return fmt.Sprintf("validation failed: %s %s", e.fields[0].Field, e.fields[0].Message)
}

func (e *validationError) add(field, message string) {
	e.fields = append(e.fields, fieldError{Field: field, Message: message})
}

func (e *validationError) ok() bool { return len(e.fields) == 0 }

var (
	errUnauthorized = errors.New("unauthorized")
	errForbidden    = errors.New("forbidden")
)

// fail maps domain errors onto HTTP statuses.
func fail(c *app.RequestContext, err error) {
	var ve *validationError
	switch {
	case errors.As(err, &ve):
		c.JSON(http.StatusBadRequest, utils.H{"error": "validation failed", "details": ve.fields})
	case errors.Is(err, settings.ErrUnknownKey), errors.Is(err, settings.ErrInvalidValue):
		c.JSON(http.StatusBadRequest, utils.H{"error": err.Error()})
	case errors.Is(err, errUnauthorized):
		c.JSON(http.StatusUnauthorized, utils.H{"error": "unauthorized"})
	case errors.Is(err, errForbidden):
		c.JSON(http.StatusForbidden, utils.H{"error": "forbidden"})
	case storage.IsNotFound(err):
		c.JSON(http.StatusNotFound, utils.H{"error": "not found"})
	case errors.Is(err, storage.ErrConflict), errors.Is(err, storage.ErrIntegrity):
		c.JSON(http.StatusConflict, utils.H{"error": err.Error()})
	case vault.IsDecryptError(err):
		c.JSON(http.StatusConflict, utils.H{"error": "stored credential could not be decrypted"})
	default:
		c.JSON(http.StatusInternalServerError, utils.H{"error": "internal error"})
	}
}

// bindJSON decodes the request body into dst.
func bindJSON(c *app.RequestContext, dst any) error {
	body, err := c.Body()
	if err != nil {
		ve := &validationError{}
		ve.add("body", "unreadable request body")
		return ve
	}
	if len(body) == 0 {
		ve := &validationError{}
		ve.add("body", "request body is required")
		return ve
	}
	if err := json.Unmarshal(body, dst); err != nil {
		ve := &validationError{}
		ve.add("body", "invalid JSON")
		return ve
	}
	return nil
}

// pagination reads limit/offset query params with clamping.
func pagination(c *app.RequestContext) (limit, offset int) {
	limit = defaultLimit
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	if raw := c.Query("offset"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}

// paginated writes the standard list envelope.
func paginated(c *app.RequestContext, data any, total, limit, offset int, filters utils.H) {
	if filters == nil {
		filters = utils.H{}
	}
	c.JSON(http.StatusOK, utils.H{
		"data": data,
		"pagination": utils.H{
			"total":   total,
			"limit":   limit,
			"offset":  offset,
			"hasMore": offset+limit < total,
		},
		"filters": filters,
	})
}
