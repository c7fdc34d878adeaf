package web

import (
	"errors"
	"log/slog"

	"github.com/dukex/flowgate/pkg/models"
	"github.com/dukex/flowgate/pkg/services"
	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/moogar0880/problems"
)

// CorrelationIDHeader carries the id that ties a 500 response to its log line.
const CorrelationIDHeader = "X-Correlation-ID"

// Problem types of errors raised by the transport itself.
const (
	typeValidation   = "VALIDATION_ERROR"
	typeConflict     = "CONFLICT"
	typeUnauthorized = "UNAUTHORIZED"
)

func problem(c fiber.Ctx, status int, kind, detail string) error {
	p := problems.NewStatusProblem(status).
		WithInstance(c.Path()).
		WithType(kind).
		WithDetail(detail)

	return c.Status(status).JSON(p)
}

func badRequest(c fiber.Ctx, detail string) error {
	return problem(c, fiber.StatusBadRequest, typeValidation, detail)
}

func unauthorized(c fiber.Ctx, detail string) error {
	return problem(c, fiber.StatusUnauthorized, typeUnauthorized, detail)
}

func forbidden(c fiber.Ctx, detail string) error {
	return problem(c, fiber.StatusForbidden, models.CodePermissionDenied, detail)
}

func internalError(c fiber.Ctx, logger *slog.Logger, err error) error {
	correlationID := c.Get(CorrelationIDHeader)
	if correlationID == "" {
		correlationID = uuid.NewString()
	}

	logger.ErrorContext(c.Context(), "Unexpected error handling request",
		"path", c.Path(),
		"method", c.Method(),
		"correlation_id", correlationID,
		"error", err)

	c.Set(CorrelationIDHeader, correlationID)

	return problem(c, fiber.StatusInternalServerError, models.CodeInternal,
		"an unexpected error occurred, correlation id "+correlationID)
}

// handleError maps domain and service errors to problem responses.
func handleError(c fiber.Ctx, logger *slog.Logger, err error) error {
	var serviceErr *services.ServiceError

	switch {
	case errors.Is(err, models.ErrInvalidStateTransition):
		return problem(c, fiber.StatusBadRequest, models.CodeInvalidStateTransition, models.Detail(err))

	case errors.Is(err, models.ErrPermissionDenied):
		return forbidden(c, models.Detail(err))

	case errors.Is(err, models.ErrResourceNotFound):
		return problem(c, fiber.StatusNotFound, models.CodeResourceNotFound, models.Detail(err))

	case errors.Is(err, models.ErrWorkflowEngine):
		return problem(c, fiber.StatusBadRequest, models.CodeWorkflowEngine, models.Detail(err))

	case services.IsValidationError(err):
		detail := err.Error()
		if errors.As(err, &serviceErr) && serviceErr.Message != "" {
			detail = serviceErr.Message
		}

		return badRequest(c, detail)

	case services.IsConflictError(err):
		return problem(c, fiber.StatusConflict, typeConflict, err.Error())

	default:
		return internalError(c, logger, err)
	}
}
