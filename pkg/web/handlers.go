// Package web provides HTTP handlers and REST API endpoints for flow management.
package web

import (
	"net/http"
	"strconv"
	"time"

	"github.com/dukex/nurture/pkg/eventbus"
	"github.com/dukex/nurture/pkg/events"
	"github.com/dukex/nurture/pkg/exchange"
	"github.com/dukex/nurture/pkg/graph"
	"github.com/dukex/nurture/pkg/models"
	"github.com/dukex/nurture/pkg/services"
	"github.com/dukex/nurture/pkg/stats"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

type APIHandlers struct {
	flowService       *services.Flow
	publishingService *services.Publishing
	enrollmentService *services.Enrollment
	memberService     *services.Member
	stats             *stats.Aggregator
	eventBus          eventbus.EventBus
	validator         *validator.Validate
}

// NewAPIHandlers wires the handlers. eventBus may be nil, stats rebuilds then
// run inline.
func NewAPIHandlers(
	flowService *services.Flow,
	publishingService *services.Publishing,
	enrollmentService *services.Enrollment,
	memberService *services.Member,
	aggregator *stats.Aggregator,
	eventBus eventbus.EventBus,
	validator *validator.Validate,
) *APIHandlers {
	return &APIHandlers{
		flowService:       flowService,
		publishingService: publishingService,
		enrollmentService: enrollmentService,
		memberService:     memberService,
		stats:             aggregator,
		eventBus:          eventBus,
		validator:         validator,
	}
}

// RegisterRoutes mounts every endpoint on router.
func (h *APIHandlers) RegisterRoutes(router fiber.Router) {
	router.Get("/health", h.HealthCheck)

	f := router.Group("/flows")
	f.Get("/", h.GetFlows)
	f.Post("/", h.CreateFlow)
	f.Post("/validate", h.ValidateFlow)
	f.Post("/import", h.ImportFlow)
	f.Get("/:id", h.GetFlow)
	f.Put("/:id", h.SaveFlow)
	f.Put("/:id/draft", h.UpdateDraft)
	f.Post("/:id/publish", h.PublishFlow)
	f.Post("/:id/save-as", h.SaveFlowAs)
	f.Post("/:id/prune", h.PruneVersions)
	f.Get("/:id/export", h.ExportFlow)
	f.Get("/:id/versions/:version", h.GetVersion)
	f.Post("/:id/enrollments", h.Enroll)
	f.Get("/:id/stats", h.GetStats)
	f.Post("/:id/stats/rebuild", h.RebuildStats)

	e := router.Group("/enrollments")
	e.Get("/:id", h.GetEnrollment)
	e.Post("/:id/cancel", h.CancelEnrollment)

	router.Post("/provider/events", h.RecordProviderEvents)

	m := router.Group("/members")
	m.Put("/:id", h.SaveMember)
	m.Post("/:id/interactions", h.AddInteraction)
}

func missingOwner(c fiber.Ctx) error {
	return badRequest(c, OwnerHeader+" header is required")
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	repositoryCheck, repOk := h.flowService.HealthCheck(c.Context())

	status := "unhealthy"
	message := "Nurture API is unhealthy"
	httpStatus := http.StatusInternalServerError

	if repOk {
		status = "healthy"
		message = "Nurture API is healthy"
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

func (h *APIHandlers) GetFlows(c fiber.Ctx) error {
	ownerID := c.Get(OwnerHeader)
	if ownerID == "" {
		return missingOwner(c)
	}

	if q := c.Query("owner_id"); q != "" && q != ownerID {
		return handleServiceError(c, services.ErrNotOwner)
	}

	flows, err := h.flowService.List(c.Context(), ownerID)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{
		"flows":       flows,
		"total_count": len(flows),
	})
}

func (h *APIHandlers) CreateFlow(c fiber.Ctx) error {
	ownerID := c.Get(OwnerHeader)
	if ownerID == "" {
		return missingOwner(c)
	}

	var req CreateFlowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	created, err := h.flowService.Create(c.Context(), ownerID, services.CreateFlowRequest{
		Name:       req.Name,
		IsTemplate: req.IsTemplate,
		Graph:      req.Graph,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(created)
}

func (h *APIHandlers) GetFlow(c fiber.Ctx) error {
	ownerID := c.Get(OwnerHeader)
	if ownerID == "" {
		return missingOwner(c)
	}

	flow, err := h.flowService.Get(c.Context(), ownerID, c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(flow)
}

func (h *APIHandlers) UpdateDraft(c fiber.Ctx) error {
	ownerID := c.Get(OwnerHeader)
	if ownerID == "" {
		return missingOwner(c)
	}

	var req UpdateDraftRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	draft, err := h.flowService.UpdateDraft(c.Context(), ownerID, c.Params("id"), req.Revision, req.Graph)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(draft)
}

func (h *APIHandlers) PublishFlow(c fiber.Ctx) error {
	ownerID := c.Get(OwnerHeader)
	if ownerID == "" {
		return missingOwner(c)
	}

	published, err := h.publishingService.Publish(c.Context(), ownerID, c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(published)
}

func (h *APIHandlers) SaveFlow(c fiber.Ctx) error {
	ownerID := c.Get(OwnerHeader)
	if ownerID == "" {
		return missingOwner(c)
	}

	var req SaveFlowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	published, err := h.publishingService.Save(c.Context(), ownerID, c.Params("id"), req.Graph)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(published)
}

func (h *APIHandlers) SaveFlowAs(c fiber.Ctx) error {
	ownerID := c.Get(OwnerHeader)
	if ownerID == "" {
		return missingOwner(c)
	}

	var req SaveAsRequest
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return badRequest(c, "Invalid JSON format")
		}
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	published, err := h.publishingService.SaveAs(c.Context(), ownerID, c.Params("id"), services.SaveAsRequest{
		Name:  req.Name,
		Graph: req.Graph,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(published)
}

func (h *APIHandlers) PruneVersions(c fiber.Ctx) error {
	ownerID := c.Get(OwnerHeader)
	if ownerID == "" {
		return missingOwner(c)
	}

	deleted, err := h.publishingService.PruneVersions(c.Context(), ownerID, c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"deleted_versions": deleted})
}

func (h *APIHandlers) ValidateFlow(c fiber.Ctx) error {
	var g models.Graph
	if err := c.Bind().JSON(&g); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	problems := h.flowService.Validate(g)
	if problems == nil {
		problems = graph.Errors{}
	}

	return c.JSON(ValidateFlowResponse{Valid: len(problems) == 0, Problems: problems})
}

func (h *APIHandlers) ExportFlow(c fiber.Ctx) error {
	ownerID := c.Get(OwnerHeader)
	if ownerID == "" {
		return missingOwner(c)
	}

	format, err := exchange.ParseFormat(c.Query("format"))
	if err != nil {
		return handleServiceError(c, err)
	}

	doc, err := h.flowService.Export(c.Context(), ownerID, c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	data, err := exchange.Encode(doc, format)
	if err != nil {
		return internalError(c, err)
	}

	contentType := fiber.MIMEApplicationJSON
	if format == exchange.FormatYAML {
		contentType = "application/yaml"
	}

	c.Set(fiber.HeaderContentType, contentType)

	return c.Send(data)
}

func (h *APIHandlers) ImportFlow(c fiber.Ctx) error {
	ownerID := c.Get(OwnerHeader)
	if ownerID == "" {
		return missingOwner(c)
	}

	body := c.Body()
	if len(body) == 0 {
		return badRequest(c, "Request body is required")
	}

	format := exchange.DetectFormat(body)
	if q := c.Query("format"); q != "" {
		parsed, err := exchange.ParseFormat(q)
		if err != nil {
			return handleServiceError(c, err)
		}

		format = parsed
	}

	regenerate := false
	if s := c.Query("regenerate_ids"); s != "" {
		parsed, err := strconv.ParseBool(s)
		if err != nil {
			return badRequest(c, "Invalid regenerate_ids: "+err.Error())
		}

		regenerate = parsed
	}

	imported, err := h.flowService.Import(c.Context(), ownerID, body, format, regenerate)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(imported)
}

func (h *APIHandlers) GetVersion(c fiber.Ctx) error {
	ownerID := c.Get(OwnerHeader)
	if ownerID == "" {
		return missingOwner(c)
	}

	version, err := strconv.Atoi(c.Params("version"))
	if err != nil || version < 1 {
		return badRequest(c, "Version must be a positive integer")
	}

	def, err := h.flowService.Version(c.Context(), ownerID, c.Params("id"), version)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(def)
}

func (h *APIHandlers) Enroll(c fiber.Ctx) error {
	ownerID := c.Get(OwnerHeader)
	if ownerID == "" {
		return missingOwner(c)
	}

	var req EnrollRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	enrollment, err := h.enrollmentService.Enroll(c.Context(), ownerID, c.Params("id"), req.MemberID)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(enrollment)
}

func (h *APIHandlers) GetEnrollment(c fiber.Ctx) error {
	ownerID := c.Get(OwnerHeader)
	if ownerID == "" {
		return missingOwner(c)
	}

	enrollment, err := h.enrollmentService.Get(c.Context(), ownerID, c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(enrollment)
}

func (h *APIHandlers) CancelEnrollment(c fiber.Ctx) error {
	ownerID := c.Get(OwnerHeader)
	if ownerID == "" {
		return missingOwner(c)
	}

	enrollment, err := h.enrollmentService.Cancel(c.Context(), ownerID, c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(enrollment)
}

func (h *APIHandlers) GetStats(c fiber.Ctx) error {
	ownerID := c.Get(OwnerHeader)
	if ownerID == "" {
		return missingOwner(c)
	}

	flowID := c.Params("id")

	if _, err := h.flowService.Get(c.Context(), ownerID, flowID); err != nil {
		return handleServiceError(c, err)
	}

	result, err := h.stats.Query(c.Context(), flowID)
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(result)
}

func (h *APIHandlers) RebuildStats(c fiber.Ctx) error {
	ownerID := c.Get(OwnerHeader)
	if ownerID == "" {
		return missingOwner(c)
	}

	flowID := c.Params("id")

	if _, err := h.flowService.Get(c.Context(), ownerID, flowID); err != nil {
		return handleServiceError(c, err)
	}

	if h.eventBus != nil {
		request := events.StatsRebuildRequested{
			BaseEvent: events.BaseEvent{
				ID:        h.eventBus.GenerateID(),
				Type:      events.StatsRebuildRequestedEvent,
				Timestamp: time.Now().UTC(),
				FlowID:    flowID,
			},
			RequestedBy: ownerID,
		}

		if err := h.eventBus.Publish(c.Context(), flowID, request); err != nil {
			return internalError(c, err)
		}

		return c.Status(fiber.StatusAccepted).JSON(StatsRebuildResponse{FlowID: flowID, Queued: true})
	}

	replayed, err := h.stats.Rebuild(c.Context(), flowID)
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(StatsRebuildResponse{FlowID: flowID, Replayed: replayed})
}

func (h *APIHandlers) RecordProviderEvents(c fiber.Ctx) error {
	var req ProviderEventsRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	recorded, err := h.enrollmentService.RecordProviderEvents(c.Context(), req.Events)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"received": len(req.Events),
		"recorded": recorded,
	})
}

func (h *APIHandlers) SaveMember(c fiber.Ctx) error {
	ownerID := c.Get(OwnerHeader)
	if ownerID == "" {
		return missingOwner(c)
	}

	var req SaveMemberRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	member, err := h.memberService.Save(c.Context(), ownerID, &models.Member{
		ID:     c.Params("id"),
		Email:  req.Email,
		Tags:   req.Tags,
		Fields: req.Fields,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(member)
}

func (h *APIHandlers) AddInteraction(c fiber.Ctx) error {
	ownerID := c.Get(OwnerHeader)
	if ownerID == "" {
		return missingOwner(c)
	}

	var req AddInteractionRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	interaction := &models.Interaction{
		Kind:       req.Kind,
		Ref:        req.Ref,
		Properties: req.Properties,
	}
	if req.At != nil {
		interaction.At = req.At.UTC()
	}

	created, err := h.memberService.AddInteraction(c.Context(), ownerID, c.Params("id"), interaction)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(created)
}
