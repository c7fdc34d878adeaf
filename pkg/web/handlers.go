// Package web provides HTTP handlers and REST API endpoints for workflow templates and requests.
package web

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/dukex/flowgate/pkg/models"
	"github.com/dukex/flowgate/pkg/persistence"
	"github.com/dukex/flowgate/pkg/services"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

// ActorIDHeader identifies the authenticated actor. Authentication itself happens upstream.
const ActorIDHeader = "X-Actor-ID"

const actorLocalKey = "actor"

type APIHandlers struct {
	workflowService *services.Workflow
	requestService  *services.Requests
	actors          persistence.ActorRepository
	validator       *validator.Validate
	logger          *slog.Logger
}

func NewAPIHandlers(
	workflowService *services.Workflow,
	requestService *services.Requests,
	actors persistence.ActorRepository,
	validator *validator.Validate,
	logger *slog.Logger,
) *APIHandlers {
	return &APIHandlers{
		workflowService: workflowService,
		requestService:  requestService,
		actors:          actors,
		validator:       validator,
		logger:          logger.With("module", "web"),
	}
}

// RequireActor resolves the X-Actor-ID header and stores the actor for later handlers.
// Unknown actors get 401, deactivated ones 403.
func (h *APIHandlers) RequireActor(c fiber.Ctx) error {
	id := c.Get(ActorIDHeader)
	if id == "" {
		return unauthorized(c, "missing "+ActorIDHeader+" header")
	}

	actor, err := h.actors.ByID(c.Context(), id)
	if err != nil {
		if persistence.IsNotFound(err) {
			return unauthorized(c, "unknown actor")
		}

		return internalError(c, h.logger, err)
	}

	if !actor.Active {
		return forbidden(c, "actor is inactive")
	}

	c.Locals(actorLocalKey, actor)

	return c.Next()
}

func actorFrom(c fiber.Ctx) *models.Actor {
	actor, _ := c.Locals(actorLocalKey).(*models.Actor)

	return actor
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	repositoryCheck, ok := h.workflowService.HealthCheck(c.Context())

	status := "unhealthy"
	message := "Flowgate API is unhealthy"
	httpStatus := http.StatusInternalServerError

	if ok {
		status = "healthy"
		message = "Flowgate API is healthy"
		httpStatus = http.StatusOK
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  status,
		"message": message,
		"checkers": fiber.Map{
			"repository": repositoryCheck,
		},
		"timestamp": time.Now().UTC(),
	})
}

func (h *APIHandlers) CreateWorkflow(c fiber.Ctx) error {
	var def services.TemplateDefinition

	if err := c.Bind().JSON(&def); err != nil {
		return badRequest(c, "Invalid request body: "+err.Error())
	}

	template, err := h.workflowService.CreateTemplate(c.Context(), actorFrom(c), def)
	if err != nil {
		return handleError(c, h.logger, err)
	}

	return c.Status(fiber.StatusCreated).JSON(template)
}

func (h *APIHandlers) GetWorkflows(c fiber.Ctx) error {
	limit, err := queryInt(c, "limit")
	if err != nil {
		return badRequest(c, "Invalid query parameters: "+err.Error())
	}

	offset, err := queryInt(c, "offset")
	if err != nil {
		return badRequest(c, "Invalid query parameters: "+err.Error())
	}

	templates, err := h.workflowService.Templates(c.Context(), limit, offset)
	if err != nil {
		return handleError(c, h.logger, err)
	}

	if limit == 0 {
		limit = services.DefaultPageSize
	}

	return c.JSON(ListTemplatesResponse{Templates: templates, Limit: limit, Offset: offset})
}

func queryInt(c fiber.Ctx, key string) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return 0, nil
	}

	return strconv.Atoi(raw)
}

func (h *APIHandlers) GetWorkflow(c fiber.Ctx) error {
	template, err := h.workflowService.Template(c.Context(), c.Params("id"))
	if err != nil {
		return handleError(c, h.logger, err)
	}

	return c.JSON(template)
}

func (h *APIHandlers) DeleteWorkflow(c fiber.Ctx) error {
	err := h.workflowService.DeleteTemplate(c.Context(), actorFrom(c), c.Params("id"))
	if err != nil {
		return handleError(c, h.logger, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) StartRequest(c fiber.Ctx) error {
	var req StartRequestRequest

	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid request body: "+err.Error())
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, "Validation failed: "+err.Error())
	}

	request, err := h.requestService.Start(c.Context(), actorFrom(c), req.TemplateID, req.Data)
	if err != nil {
		return handleError(c, h.logger, err)
	}

	return c.Status(fiber.StatusCreated).JSON(request)
}

func (h *APIHandlers) GetRequest(c fiber.Ctx) error {
	request, err := h.requestService.Request(c.Context(), c.Params("id"))
	if err != nil {
		return handleError(c, h.logger, err)
	}

	return c.JSON(request)
}

func (h *APIHandlers) GetRequestHistory(c fiber.Ctx) error {
	history, err := h.requestService.History(c.Context(), c.Params("id"))
	if err != nil {
		return handleError(c, h.logger, err)
	}

	return c.JSON(history)
}

func (h *APIHandlers) GetRequestAudit(c fiber.Ctx) error {
	entries, err := h.requestService.AuditTrail(c.Context(), c.Params("id"))
	if err != nil {
		return handleError(c, h.logger, err)
	}

	return c.JSON(entries)
}

func (h *APIHandlers) ProcessStep(c fiber.Ctx) error {
	var req ProcessStepRequest

	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid request body: "+err.Error())
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, "Validation failed: "+err.Error())
	}

	request, err := h.requestService.Process(c.Context(), actorFrom(c), c.Params("id"), req.Outcome, req.Context)
	if err != nil {
		return handleError(c, h.logger, err)
	}

	return c.JSON(request)
}

func (h *APIHandlers) Decide(c fiber.Ctx) error {
	var req DecisionRequest

	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid request body: "+err.Error())
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, "Validation failed: "+err.Error())
	}

	request, err := h.requestService.Decide(c.Context(), actorFrom(c), c.Params("id"), req.Action, req.Comment)
	if err != nil {
		return handleError(c, h.logger, err)
	}

	return c.JSON(request)
}

// Register mounts every route on app. Template and request routes require an actor.
func (h *APIHandlers) Register(app *fiber.App) {
	app.Get("/health", h.HealthCheck)

	w := app.Group("/workflows", h.RequireActor)
	w.Get("/", h.GetWorkflows)
	w.Post("/", h.CreateWorkflow)
	w.Get("/:id", h.GetWorkflow)
	w.Delete("/:id", h.DeleteWorkflow)

	r := app.Group("/requests", h.RequireActor)
	r.Post("/", h.StartRequest)
	r.Get("/:id", h.GetRequest)
	r.Get("/:id/history", h.GetRequestHistory)
	r.Get("/:id/audit", h.GetRequestAudit)
	r.Post("/:id/process", h.ProcessStep)
	r.Post("/:id/decision", h.Decide)
}
