package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/mgci/internal/export"
	"github.com/sells-group/mgci/internal/mgci"
	"github.com/sells-group/mgci/internal/model"
	"github.com/sells-group/mgci/internal/store"
)

const maxBodyBytes = 1 << 20

type handlers struct {
	svc Service
}

type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// regionSummary is a catalog entry without its geometry.
type regionSummary struct {
	ID     string     `json:"id"`
	Name   string     `json:"name"`
	Level  int        `json:"level"`
	Parent string     `json:"parent,omitempty"`
	BBox   model.BBox `json:"bbox"`
}

func (h *handlers) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// listRegions returns the children of ?parent= or the catalog entries at
// ?level= (all levels when absent).
func (h *handlers) listRegions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	provider := h.svc.Regions()

	var (
		regions []model.Region
		err     error
	)
	if parent := r.URL.Query().Get("parent"); parent != "" {
		var p model.Region
		if p, err = provider.Resolve(ctx, parent); err == nil {
			regions, err = provider.Children(ctx, p)
		}
	} else {
		level := -1
		if s := r.URL.Query().Get("level"); s != "" {
			if level, err = strconv.Atoi(s); err != nil {
				writeError(w, &mgci.InvalidRequestError{Err: eris.Errorf("api: level %q is not a number", s)})
				return
			}
		}
		regions, err = provider.List(ctx, level)
	}
	if err != nil {
		writeError(w, err)
		return
	}

	out := make([]regionSummary, len(regions))
	for i, reg := range regions {
		out[i] = regionSummary{ID: reg.ID, Name: reg.Name, Level: reg.Level, Parent: reg.Parent, BBox: reg.BBox()}
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handlers) compute(w http.ResponseWriter, r *http.Request) {
	var req mgci.ComputeRequest
	if !decode(w, r, &req) {
		return
	}
	resp, err := h.svc.Compute(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	respond(w, r, resp, resp.Result)
}

func (h *handlers) series(w http.ResponseWriter, r *http.Request) {
	var req mgci.SeriesRequest
	if !decode(w, r, &req) {
		return
	}
	resp, err := h.svc.Series(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	respond(w, r, resp, resp.Series)
}

func (h *handlers) cluster(w http.ResponseWriter, r *http.Request) {
	var req mgci.ClusterRequest
	if !decode(w, r, &req) {
		return
	}
	resp, err := h.svc.Cluster(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	respond(w, r, resp, resp.Report)
}

func (h *handlers) listRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.RunFilter{
		Kind:   model.RunKind(q.Get("kind")),
		Status: model.RunStatus(q.Get("status")),
	}
	for name, dst := range map[string]*int{"limit": &filter.Limit, "offset": &filter.Offset} {
		if s := q.Get(name); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil || n < 0 {
				writeError(w, &mgci.InvalidRequestError{Err: eris.Errorf("api: %s %q is not a non-negative number", name, s)})
				return
			}
			*dst = n
		}
	}
	runs, err := h.svc.Runs(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	if runs == nil {
		runs = []model.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (h *handlers) getRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.svc.Run(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, &mgci.InvalidRequestError{Err: eris.Wrap(err, "api: invalid request body")})
		return false
	}
	return true
}

// respond writes the full JSON response, or only the result in the format
// named by ?format= (yaml, csv or xlsx).
func respond(w http.ResponseWriter, r *http.Request, full, result any) {
	name := r.URL.Query().Get("format")
	if name == "" || name == string(export.JSON) {
		writeJSON(w, http.StatusOK, full)
		return
	}
	f, err := export.ParseFormat(name)
	if err != nil {
		writeError(w, &mgci.InvalidRequestError{Err: err})
		return
	}
	w.Header().Set("Content-Type", contentTypes[f])
	w.WriteHeader(http.StatusOK)
	if err := export.Write(w, f, result); err != nil {
		zap.L().Error("api: export failed", zap.String("format", name), zap.Error(err))
	}
}

var contentTypes = map[export.Format]string{
	export.JSON: "application/json",
	export.YAML: "application/yaml",
	export.CSV:  "text/csv",
	export.XLSX: "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
}

// statusOf maps the error taxonomy to HTTP status codes.
func statusOf(err error) int {
	var inv *mgci.InvalidRequestError
	switch {
	case errors.As(err, &inv):
		return http.StatusBadRequest
	case eris.Is(err, model.ErrRegionNotFound), eris.Is(err, model.ErrRunNotFound):
		return http.StatusNotFound
	case eris.Is(err, model.ErrAggregationTooLarge):
		return http.StatusUnprocessableEntity
	case eris.Is(err, model.ErrRemoteUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, err error) {
	status := statusOf(err)
	if status == http.StatusInternalServerError {
		zap.L().Error("api: request failed", zap.Error(err))
	}
	kind := model.Kind(err)
	if kind == "error" {
		kind = ""
	}
	writeJSON(w, status, errorBody{Error: err.Error(), Kind: kind})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("api: encode response", zap.Error(err))
	}
}
