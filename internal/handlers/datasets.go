package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/soltixdb/gridcat/internal/models"
	"github.com/soltixdb/gridcat/internal/scanner"
)

// ListDatasets handles GET /v1/datasets
func (h *Handler) ListDatasets(c *fiber.Ctx) error {
	all := h.catalog.GetAllDatasets()
	resp := models.DatasetListResponse{Datasets: make([]models.DatasetResponse, 0, len(all))}
	for _, ds := range all {
		if ds.Disabled() {
			continue
		}
		resp.Datasets = append(resp.Datasets, datasetResponse(ds))
	}
	return c.JSON(resp)
}

// GetDataset handles GET /v1/datasets/:id
func (h *Handler) GetDataset(c *fiber.Ctx) error {
	ds, err := h.publicDataset(c)
	if err != nil {
		return err
	}
	return c.JSON(datasetResponse(ds))
}

// ListLayers handles GET /v1/datasets/:id/layers
func (h *Handler) ListLayers(c *fiber.Ctx) error {
	ds, err := h.publicDataset(c)
	if err != nil {
		return err
	}

	layers := ds.Layers()
	resp := models.LayerListResponse{DatasetID: ds.ID(), Layers: make([]models.LayerResponse, 0, len(layers))}
	for _, l := range layers {
		lr := models.LayerResponse{
			ID:        l.ID(),
			Title:     l.Title(),
			Units:     l.Units(),
			Timesteps: l.Timeline().Len(),
		}
		if first, ok := l.Timeline().First(); ok {
			lr.First = timePtr(first.Time())
		}
		if last, ok := l.Timeline().Last(); ok {
			lr.Last = timePtr(last.Time())
		}
		resp.Layers = append(resp.Layers, lr)
	}
	return c.JSON(resp)
}

// GetTimes handles GET /v1/datasets/:id/layers/:layer/times
func (h *Handler) GetTimes(c *fiber.Ctx) error {
	ds, err := h.publicDataset(c)
	if err != nil {
		return err
	}
	layer, err := ds.Layer(c.Params("layer"))
	if err != nil {
		return fail(err)
	}

	times := make([]time.Time, 0, layer.Timeline().Len())
	for t := range layer.TimeValues() {
		times = append(times, t.UTC())
	}
	return c.JSON(models.TimesResponse{DatasetID: ds.ID(), LayerID: layer.ID(), Times: times})
}

// Locate handles GET /v1/datasets/:id/layers/:layer/locate?time=RFC3339.
// Without a time the latest timestep is returned.
func (h *Handler) Locate(c *fiber.Ctx) error {
	ds, err := h.publicDataset(c)
	if err != nil {
		return err
	}
	if !ds.Definition().Queryable {
		return fiber.NewError(fiber.StatusForbidden, "dataset is not queryable: "+ds.ID())
	}
	layer, err := ds.Layer(c.Params("layer"))
	if err != nil {
		return fail(err)
	}

	var at time.Time
	if raw := c.Query("time"); raw != "" {
		at, err = time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid time, expected RFC3339: "+raw)
		}
	}

	file, index, err := layer.FindFileAndIndexForTime(at)
	if err != nil {
		return fail(err)
	}

	resp := models.LocateResponse{DatasetID: ds.ID(), LayerID: layer.ID(), File: scanner.Redact(file), Index: index}
	if layer.HasTimeAxis() {
		if at.IsZero() {
			last, _ := layer.Timeline().Last()
			at = last.Time()
		}
		resp.Time = at.UTC().Format(time.RFC3339Nano)
	}
	return c.JSON(resp)
}
