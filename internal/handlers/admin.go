package handlers

import (
	"encoding/json"

	"github.com/gofiber/fiber/v2"
	"github.com/soltixdb/gridcat/internal/models"
)

func badRequest(c *fiber.Ctx, code, message string) error {
	return c.Status(fiber.StatusBadRequest).JSON(models.ErrorResponse{
		Error: models.ErrorDetail{
			Code:    code,
			Message: message,
			Path:    c.Path(),
		},
	})
}

// ListDatasetStatus handles GET /admin/datasets
func (h *Handler) ListDatasetStatus(c *fiber.Ctx) error {
	all := h.catalog.GetAllDatasets()
	resp := models.DatasetStatusListResponse{
		Datasets:   make([]models.DatasetStatusResponse, 0, len(all)),
		LastUpdate: timePtr(h.catalog.LastUpdateTime()),
	}
	for _, ds := range all {
		resp.Datasets = append(resp.Datasets, statusResponse(ds))
	}
	return c.JSON(resp)
}

// GetDatasetStatus handles GET /admin/datasets/:id
func (h *Handler) GetDatasetStatus(c *fiber.Ctx) error {
	ds, err := h.catalog.GetDatasetByID(c.Params("id"))
	if err != nil {
		return fail(err)
	}
	return c.JSON(statusResponse(ds))
}

// CreateDataset handles POST /admin/datasets
func (h *Handler) CreateDataset(c *fiber.Ctx) error {
	var req models.CreateDatasetRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "INVALID_REQUEST", "Invalid request body: "+err.Error())
	}
	if req.ID == "" || req.Location == "" {
		return badRequest(c, "INVALID_REQUEST", "id and location are required")
	}

	ds, err := h.catalog.AddDataset(c.UserContext(), req.Definition())
	if err != nil {
		return fail(err)
	}
	return c.Status(fiber.StatusCreated).JSON(statusResponse(ds))
}

// DeleteDataset handles DELETE /admin/datasets/:id
func (h *Handler) DeleteDataset(c *fiber.Ctx) error {
	if err := h.catalog.RemoveDataset(c.UserContext(), c.Params("id")); err != nil {
		return fail(err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// RenameDataset handles PUT /admin/datasets/:id/id
func (h *Handler) RenameDataset(c *fiber.Ctx) error {
	var req models.RenameDatasetRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "INVALID_REQUEST", "Invalid request body: "+err.Error())
	}

	if err := h.catalog.ChangeDatasetID(c.UserContext(), c.Params("id"), req.ID); err != nil {
		return fail(err)
	}
	ds, err := h.catalog.GetDatasetByID(req.ID)
	if err != nil {
		return fail(err)
	}
	return c.JSON(statusResponse(ds))
}

// RefreshDataset handles POST /admin/datasets/:id/refresh. With
// ?broadcast=true the request is also sent to every node sharing the queue.
func (h *Handler) RefreshDataset(c *fiber.Ctx) error {
	id := c.Params("id")
	if err := h.catalog.ForceRefresh(id); err != nil {
		return fail(err)
	}

	if c.QueryBool("broadcast") && h.publisher != nil {
		data, err := json.Marshal(models.RefreshTrigger{DatasetID: id})
		if err != nil {
			return err
		}
		if err := h.publisher.Publish(c.UserContext(), h.subjects.Trigger(), data); err != nil {
			h.logger.WithContext(c.UserContext()).Warn("Failed to broadcast refresh trigger", "dataset_id", id, "error", err)
			return fiber.NewError(fiber.StatusBadGateway, "refresh scheduled locally, broadcast failed")
		}
	}
	return c.SendStatus(fiber.StatusAccepted)
}

// SetDisabled handles PUT /admin/datasets/:id/disabled
func (h *Handler) SetDisabled(c *fiber.Ctx) error {
	var req models.SetDisabledRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "INVALID_REQUEST", "Invalid request body: "+err.Error())
	}
	if err := h.catalog.SetDisabled(c.UserContext(), c.Params("id"), req.Disabled); err != nil {
		return fail(err)
	}
	return h.GetDatasetStatus(c)
}

// SetLocation handles PUT /admin/datasets/:id/location
func (h *Handler) SetLocation(c *fiber.Ctx) error {
	var req models.SetLocationRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "INVALID_REQUEST", "Invalid request body: "+err.Error())
	}
	if err := h.catalog.SetLocation(c.UserContext(), c.Params("id"), req.Location); err != nil {
		return fail(err)
	}
	return h.GetDatasetStatus(c)
}

// SetInterval handles PUT /admin/datasets/:id/interval
func (h *Handler) SetInterval(c *fiber.Ctx) error {
	var req models.SetIntervalRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "INVALID_REQUEST", "Invalid request body: "+err.Error())
	}
	if err := h.catalog.SetUpdateInterval(c.UserContext(), c.Params("id"), req.UpdateInterval); err != nil {
		return fail(err)
	}
	return h.GetDatasetStatus(c)
}

// GetProgress handles GET /admin/datasets/:id/progress
func (h *Handler) GetProgress(c *fiber.Ctx) error {
	ds, err := h.catalog.GetDatasetByID(c.Params("id"))
	if err != nil {
		return fail(err)
	}
	return c.JSON(models.ProgressResponse{
		DatasetID: ds.ID(),
		State:     ds.State().String(),
		Progress:  ds.LoadingProgress(),
	})
}

// SetTitle handles PUT /admin/datasets/:id/title
func (h *Handler) SetTitle(c *fiber.Ctx) error {
	var req models.SetTitleRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "INVALID_REQUEST", "Invalid request body: "+err.Error())
	}
	if err := h.catalog.SetTitle(c.UserContext(), c.Params("id"), req.Title); err != nil {
		return fail(err)
	}
	return h.GetDatasetStatus(c)
}
