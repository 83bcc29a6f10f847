package router

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/vyrodovalexey/localrest/internal/observability"
	"github.com/vyrodovalexey/localrest/internal/util"
)

const bearerPrefix = "Bearer "

// Auth failure reasons used in metrics.
const (
	reasonMissing     = "missing"
	reasonInvalid     = "invalid"
	reasonRateLimited = "rate_limited"
)

var (
	errMissingToken = fmt.Errorf("%w: missing bearer token", util.ErrUnauthorized)
	errInvalidToken = fmt.Errorf("%w: invalid bearer token", util.ErrUnauthorized)
	errRateLimited  = fmt.Errorf("%w: too many failed authentication attempts", util.ErrUnauthorized)
)

// authenticate checks that the request carries the current API key.
func (r *Router) authenticate(c *gin.Context) error {
	header := c.GetHeader(r.source.AuthorizationHeaderName())
	if header == "" {
		return errMissingToken
	}

	key := r.source.APIKey()
	if key == "" {
		return errInvalidToken
	}

	token, ok := bearerToken(header)
	if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(key)) != 1 {
		return errInvalidToken
	}
	return nil
}

// bearerToken extracts the token from "Bearer <token>".
func bearerToken(value string) (string, bool) {
	if len(value) <= len(bearerPrefix) || !strings.EqualFold(value[:len(bearerPrefix)], bearerPrefix) {
		return "", false
	}
	return strings.TrimSpace(value[len(bearerPrefix):]), true
}

// requireAuth rejects requests without a valid bearer token. Clients that
// keep failing are throttled with 429 until their failure budget refills.
func (r *Router) requireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		client := c.ClientIP()

		if r.limiter.Blocked(client) {
			r.reject(c, http.StatusTooManyRequests, reasonRateLimited, errRateLimited)
			return
		}

		err := r.authenticate(c)
		if err == nil {
			c.Next()
			return
		}

		reason := reasonInvalid
		if errors.Is(err, errMissingToken) {
			reason = reasonMissing
		}

		if !r.limiter.RecordFailure(client) {
			r.reject(c, http.StatusTooManyRequests, reasonRateLimited, errRateLimited)
			return
		}

		r.reject(c, http.StatusUnauthorized, reason, err)
	}
}

func (r *Router) reject(c *gin.Context, status int, reason string, err error) {
	r.metrics.RecordAuthFailure(reason)
	r.logger.Debug("request rejected",
		observability.String("reason", reason),
		observability.String("path", c.Request.URL.Path),
		observability.String("clientIP", c.ClientIP()),
		observability.Error(err),
	)

	message := "authentication required"
	if status == http.StatusUnauthorized {
		c.Header("WWW-Authenticate", `Bearer realm="`+ServiceName+`"`)
	} else {
		message = "too many failed authentication attempts"
	}

	c.AbortWithStatusJSON(status, gin.H{
		"errorCode": status,
		"message":   message,
	})
}
