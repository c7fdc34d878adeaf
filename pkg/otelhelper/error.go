package otelhelper

import (
	"github.com/dukex/flowgate/pkg/models"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ErrorCodeKey holds the machine readable code of the error that failed a span.
const ErrorCodeKey = "flowgate.error.code"

// SetError records err on span, marks it failed and tags it with the domain error code.
func SetError(span trace.Span, err error, attrs ...attribute.KeyValue) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	span.SetAttributes(attribute.String(ErrorCodeKey, models.ErrorCode(err)))
	span.AddEvent("error_occurred", trace.WithAttributes(
		attrs...,
	))
}
