package handlers

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/soltixdb/gridcat/internal/catalog"
	"github.com/soltixdb/gridcat/internal/dataset"
	"github.com/soltixdb/gridcat/internal/logging"
	"github.com/soltixdb/gridcat/internal/models"
	"github.com/soltixdb/gridcat/internal/queue"
	"github.com/soltixdb/gridcat/internal/scanner"
)

// Handler contains all HTTP handlers
type Handler struct {
	logger    *logging.Logger
	catalog   *catalog.Catalog
	publisher queue.Publisher
	subjects  queue.Subjects
	version   string
}

// New creates a new handler instance. publisher may be nil, in which case
// refresh requests only reach the local catalog.
func New(logger *logging.Logger, cat *catalog.Catalog, publisher queue.Publisher, subjects queue.Subjects, version string) *Handler {
	return &Handler{
		logger:    logging.OrGlobal(logger),
		catalog:   cat,
		publisher: publisher,
		subjects:  subjects,
		version:   version,
	}
}

// fail converts a domain error into the fiber error the error handler renders
func fail(err error) error {
	switch {
	case errors.Is(err, catalog.ErrNotFound),
		errors.Is(err, dataset.ErrLayerNotFound),
		errors.Is(err, dataset.ErrTimeNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, catalog.ErrDuplicateID):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	case errors.Is(err, catalog.ErrInvalidID),
		errors.Is(err, dataset.ErrInvalidDefinition),
		errors.Is(err, scanner.ErrNotAbsolute),
		errors.Is(err, scanner.ErrUnknownScanner):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	default:
		return err
	}
}

// publicDataset looks up a dataset that is visible on the public API
func (h *Handler) publicDataset(c *fiber.Ctx) (*dataset.Dataset, error) {
	ds, err := h.catalog.GetDatasetByID(c.Params("id"))
	if err != nil {
		return nil, fail(err)
	}
	if ds.Disabled() {
		return nil, fiber.NewError(fiber.StatusNotFound, "dataset not found: "+ds.ID())
	}
	return ds, nil
}

func datasetResponse(ds *dataset.Dataset) models.DatasetResponse {
	def := ds.Definition()
	layers := ds.Layers()
	ids := make([]string, len(layers))
	for i, l := range layers {
		ids[i] = l.ID()
	}
	return models.DatasetResponse{
		ID:        def.ID,
		Title:     ds.Title(),
		Ready:     ds.IsReady(),
		Loading:   ds.IsLoading(),
		Queryable: def.Queryable,
		Copyright: ds.Copyright(),
		MoreInfo:  def.MoreInfo,
		Layers:    ids,
	}
}

func statusResponse(ds *dataset.Dataset) models.DatasetStatusResponse {
	st := ds.Status()
	resp := models.DatasetStatusResponse{
		DatasetResponse:   datasetResponse(ds),
		Location:          scanner.Redact(st.Definition.Location),
		Scanner:           st.Definition.Scanner,
		State:             st.State.String(),
		Disabled:          st.Definition.Disabled,
		UpdateInterval:    st.Definition.UpdateInterval,
		ConsecutiveErrors: st.ConsecutiveErrors,
		LastSuccess:       timePtr(st.LastSuccess),
		LastFailure:       timePtr(st.LastFailure),
		NextAttempt:       timePtr(st.NextAttempt),
	}
	if st.Err != nil {
		resp.Error = st.Err.Error()
		resp.ErrorKind = string(dataset.Classify(st.Err))
	}
	return resp
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
