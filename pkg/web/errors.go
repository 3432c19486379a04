package web

import (
	"errors"

	"github.com/dukex/nurture/pkg/exchange"
	"github.com/dukex/nurture/pkg/graph"
	"github.com/dukex/nurture/pkg/persistence"
	"github.com/dukex/nurture/pkg/services"
	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"
)

func badRequest(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(400).
		WithInstance(c.Path()).
		WithType("validation_error").
		WithDetail(detail)

	return c.Status(fiber.StatusBadRequest).JSON(problem)
}

func internalError(c fiber.Ctx, err error) error {
	problem := problems.NewStatusProblem(500).
		WithInstance(c.Path()).
		WithType("internal_error").
		WithError(err)

	return c.Status(fiber.StatusInternalServerError).JSON(problem)
}

// graphProblem is a 400 problem naming the graph rule that failed.
type graphProblem struct {
	*problems.Problem

	Kind   graph.ErrorKind `json:"kind"`
	NodeID string          `json:"node_id,omitempty"`
}

func invalidGraph(c fiber.Ctx, ge *graph.GraphError) error {
	problem := problems.NewStatusProblem(400).
		WithInstance(c.Path()).
		WithType("invalid_graph").
		WithDetail(ge.Error())

	return c.Status(fiber.StatusBadRequest).JSON(graphProblem{Problem: problem, Kind: ge.Kind, NodeID: ge.NodeID})
}

func notFoundProblem(c fiber.Ctx, kind, detail string) error {
	problem := problems.NewStatusProblem(404).
		WithInstance(c.Path()).
		WithType(kind).
		WithDetail(detail)

	return c.Status(fiber.StatusNotFound).JSON(problem)
}

// handleServiceError provides typed error handling for service layer errors.
func handleServiceError(c fiber.Ctx, err error) error {
	switch {
	case services.IsValidationError(err):
		if ge, ok := graph.AsGraphError(err); ok {
			return invalidGraph(c, ge)
		}

		return badRequest(c, err.Error())

	case exchangeError(err):
		return badRequest(c, err.Error())

	case services.IsForbiddenError(err):
		problem := problems.NewStatusProblem(403).
			WithInstance(c.Path()).
			WithType("forbidden").
			WithDetail(err.Error())

		return c.Status(fiber.StatusForbidden).JSON(problem)

	case persistence.IsConflict(err):
		problem := problems.NewStatusProblem(409).
			WithInstance(c.Path()).
			WithType("conflict").
			WithDetail(err.Error())

		return c.Status(fiber.StatusConflict).JSON(problem)

	case persistence.IsFlowNotFound(err), persistence.IsDraftNotFound(err):
		return notFoundProblem(c, "flow_not_found", "flow not found")

	case persistence.IsVersionNotFound(err):
		return notFoundProblem(c, "version_not_found", "flow version not found")

	case persistence.IsEnrollmentNotFound(err):
		return notFoundProblem(c, "enrollment_not_found", "enrollment not found")

	case persistence.IsMemberNotFound(err):
		return notFoundProblem(c, "member_not_found", "member not found")

	default:
		return internalError(c, err)
	}
}

func exchangeError(err error) bool {
	return errors.Is(err, exchange.ErrUnsupportedFormat) || errors.Is(err, exchange.ErrInvalidDocument)
}
