package fixture

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/animus-labs/diagflow/internal/platform/httpserver"
	"github.com/animus-labs/diagflow/internal/workflow"
	"github.com/animus-labs/diagflow/internal/workflow/executor"
	"github.com/animus-labs/diagflow/internal/workflow/schema"
)

const maxRequestBytes = 1 << 20

// API serves catalog steps as POST /{process}/{step...}.
type API struct {
	logger    *slog.Logger
	catalog   *Catalog
	validator *schema.Validator
	baseURL   string
}

func NewAPI(logger *slog.Logger, catalog *Catalog, validator *schema.Validator, baseURL string) *API {
	return &API{
		logger:    logger,
		catalog:   catalog,
		validator: validator,
		baseURL:   strings.TrimRight(baseURL, "/"),
	}
}

func (api *API) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /{process}/{step...}", api.handleStep)
	mux.HandleFunc("GET /schemas/step-result.json", api.handleStepResultSchema)
}

func (api *API) handleStep(w http.ResponseWriter, r *http.Request) {
	process := strings.TrimSpace(r.PathValue("process"))
	path := "/" + strings.TrimSpace(r.PathValue("step"))

	step, ok := api.catalog.Lookup(process, path)
	if !ok {
		httpserver.WriteError(w, r, http.StatusNotFound, "step_not_found")
		return
	}

	input, err := readInput(r)
	if err != nil && step.Entry {
		httpserver.WriteError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}
	if step.Entry {
		if err := api.validator.ValidateStepRequest(input); err != nil {
			if errors.Is(err, schema.ErrInvalidRequest) {
				httpserver.WriteError(w, r, http.StatusBadRequest, "key_required")
				return
			}
			api.logger.Error("validate step request", "process", process, "step", path, "error", err)
			httpserver.WriteError(w, r, http.StatusInternalServerError, "internal_error")
			return
		}
	}

	requestID, _ := httpserver.RequestIDFromContext(r.Context())
	api.logger.Info("step request",
		"request_id", requestID,
		"process", process,
		"step", path,
		"key", input["key"],
		"workflow_run_id", r.Header.Get(executor.HeaderRunID),
	)

	httpserver.WriteJSON(w, http.StatusOK, step.Render(process, api.baseURL, input))
}

func (api *API) handleStepResultSchema(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/schema+json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(schema.StepResultDocument())
}

// readInput decodes the body as a JSON object. An empty body yields an empty
// input; anything else that is not an object is reported as an error together
// with an empty input.
func readInput(r *http.Request) (map[string]any, error) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes))
	if err != nil {
		return map[string]any{}, err
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return map[string]any{}, nil
	}
	var input map[string]any
	if err := workflow.DecodeJSON(raw, &input); err != nil {
		return map[string]any{}, err
	}
	if input == nil {
		return map[string]any{}, errors.New("body must be a JSON object")
	}
	return input, nil
}
