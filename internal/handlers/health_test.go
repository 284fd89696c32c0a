package handlers

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

type pingFunc func(ctx context.Context) error

func (f pingFunc) PingContext(ctx context.Context) error { return f(ctx) }

func TestReadiness(t *testing.T) {
	up := Readiness(pingFunc(func(context.Context) error { return nil }))
	rec := serve(up, http.MethodGet, "/health/ready", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ready"}`, rec.Body.String())

	down := Readiness(pingFunc(func(context.Context) error { return assert.AnError }))
	assert.Equal(t, http.StatusServiceUnavailable, serve(down, http.MethodGet, "/health/ready", "").Code)
}
