// Package api exposes the telemetry core over a read-only HTTP API.
package api

import (
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/orchestra-mcp/pulse/src/types"
	"github.com/orchestra-mcp/pulse/src/view"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Reader is the read side of the telemetry service.
type Reader interface {
	Entities() []string
	Snapshot(id string) (types.Snapshot, bool)
	Series(id string) ([]types.Point, bool)
	Fleet() types.AggregateStats
	Status() types.Status
	StatusLog() []types.StatusEvent
}

// Handler serves the telemetry routes.
type Handler struct {
	svc     Reader
	version string
}

// New creates a handler over svc.
func New(svc Reader, version string) *Handler {
	return &Handler{svc: svc, version: version}
}

// RegisterRoutes registers the telemetry routes on group.
func (h *Handler) RegisterRoutes(group fiber.Router) {
	t := group.Group("/telemetry")
	t.Get("/info", h.handleInfo)
	t.Get("/status", h.handleStatus)
	t.Get("/entities", h.handleEntities)
	t.Get("/entities/:id", h.handleEntity)
	t.Get("/fleet", h.handleFleet)
}

// RegisterMetrics serves the Prometheus registry at /metrics.
func RegisterMetrics(group fiber.Router, gatherer prometheus.Gatherer) {
	group.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
}

func (h *Handler) handleInfo(c fiber.Ctx) error {
	st := h.svc.Status()
	return c.JSON(fiber.Map{
		"service":  "pulse",
		"version":  h.version,
		"state":    st.State,
		"entities": len(h.svc.Entities()),
	})
}

func (h *Handler) handleStatus(c fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status": h.svc.Status(),
		"recent": h.svc.StatusLog(),
	})
}

type entitySummary struct {
	ID            string    `json:"id"`
	Fields        int       `json:"fields"`
	LastSequence  *int64    `json:"last_sequence,omitempty"`
	LastTimestamp time.Time `json:"last_timestamp"`
}

func (h *Handler) handleEntities(c fiber.Ctx) error {
	ids := h.svc.Entities()
	out := make([]entitySummary, 0, len(ids))
	for _, id := range ids {
		snap, ok := h.svc.Snapshot(id)
		if !ok {
			continue
		}
		out = append(out, entitySummary{
			ID:            id,
			Fields:        len(snap.Fields),
			LastSequence:  snap.LastSequence,
			LastTimestamp: snap.LastTimestamp,
		})
	}
	return c.JSON(fiber.Map{"entities": out})
}

func (h *Handler) handleEntity(c fiber.Ctx) error {
	id := c.Params("id")
	snap, ok := h.svc.Snapshot(id)
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error":   "not_found",
			"message": "entity " + id + " is not watched",
		})
	}
	series, _ := h.svc.Series(id)
	return c.JSON(fiber.Map{
		"snapshot": view.Normalize(snap),
		"series":   series,
	})
}

func (h *Handler) handleFleet(c fiber.Ctx) error {
	return c.JSON(h.svc.Fleet())
}
