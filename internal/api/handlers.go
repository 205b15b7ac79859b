package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/IshaanNene/CartKeeper/internal/types"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": s.opts.Version,
		"store":   s.store.Name(),
	})
}

// handleExtract always answers 200 once the body is valid. Fetch and
// extraction failures come back as a degraded fallback draft.
func (s *Server) handleExtract(w http.ResponseWriter, r *http.Request) {
	var req types.ExtractRequest
	if err := s.decode(w, r, &req); err != nil {
		s.writeErr(w, err)
		return
	}

	if s.capture == nil {
		writeError(w, http.StatusServiceUnavailable, "extraction is not configured")
		return
	}

	res, err := s.capture.Capture(r.Context(), req.URL)
	var draft types.Draft
	switch {
	case err != nil:
		draft = s.capture.Fallback(req.URL, err.Error())
	case res.Skipped:
		draft = s.capture.Fallback(req.URL, "another extraction is in progress")
	default:
		draft = res.Draft
	}
	writeJSON(w, http.StatusOK, draft)
}

func (s *Server) handlePull(w http.ResponseWriter, r *http.Request) {
	owner, _ := OwnerFrom(r.Context())

	var since *time.Time
	if raw := r.URL.Query().Get("since"); raw != "" {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			s.writeErr(w, &types.ValidationError{Index: -1, Field: "since", Err: errors.New("must be an ISO 8601 timestamp")})
			return
		}
		since = &t
	}

	products, err := s.store.List(r.Context(), owner, since)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	removed, err := s.store.Removed(r.Context(), owner)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	if products == nil {
		products = []types.Product{}
	}

	writeJSON(w, http.StatusOK, types.PullResponse{
		Products:   products,
		Timestamp:  s.now(),
		Count:      len(products),
		Filtered:   since != nil,
		UserID:     owner,
		RemovedIDs: removed,
	})
}

func (s *Server) handleReplace(w http.ResponseWriter, r *http.Request) {
	owner, _ := OwnerFrom(r.Context())

	var req types.PushRequest
	if err := s.decode(w, r, &req); err != nil {
		s.writeErr(w, err)
		return
	}

	ids, err := s.store.Replace(r.Context(), owner, req.DeviceID, req.Products)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	if s.metrics != nil {
		s.metrics.ProductsStored.Add(int64(len(ids)))
	}

	s.logger.Info("products replaced", "owner", owner, "device", req.DeviceID, "synced", len(ids), "uploaded", len(req.Products))
	writeJSON(w, http.StatusOK, types.ReplaceResponse{
		Success:    true,
		Synced:     len(ids),
		ProductIDs: ids,
		Timestamp:  s.now(),
	})
}

func (s *Server) handleMerge(w http.ResponseWriter, r *http.Request) {
	owner, _ := OwnerFrom(r.Context())

	var req types.PushRequest
	if err := s.decode(w, r, &req); err != nil {
		s.writeErr(w, err)
		return
	}

	res, err := s.store.Merge(r.Context(), owner, req.DeviceID, req.Products)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	if s.metrics != nil {
		s.metrics.ProductsStored.Add(int64(res.Added))
	}

	s.logger.Info("products merged", "owner", owner, "device", req.DeviceID, "added", res.Added, "skipped", res.Skipped)
	writeJSON(w, http.StatusOK, types.MergeResponse{
		Success: true,
		Added:   res.Added,
		Skipped: res.Skipped,
		Total:   res.Total,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	owner, _ := OwnerFrom(r.Context())
	status, err := s.store.Status(r.Context(), owner)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	if status.DeviceBreakdown == nil {
		status.DeviceBreakdown = []types.DeviceCount{}
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleListArchived(w http.ResponseWriter, r *http.Request) {
	owner, _ := OwnerFrom(r.Context())
	archived, err := s.store.ListArchived(r.Context(), owner)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	if archived == nil {
		archived = []types.ArchivedProduct{}
	}
	writeJSON(w, http.StatusOK, archived)
}

func (s *Server) handleArchive(w http.ResponseWriter, r *http.Request) {
	owner, _ := OwnerFrom(r.Context())
	archived, err := s.store.Archive(r.Context(), owner, chi.URLParam(r, "id"))
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, archived)
}

func (s *Server) handleRestore(w http.ResponseWriter, r *http.Request) {
	owner, _ := OwnerFrom(r.Context())
	product, err := s.store.Restore(r.Context(), owner, chi.URLParam(r, "id"))
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, product)
}

func (s *Server) handlePurge(w http.ResponseWriter, r *http.Request) {
	owner, _ := OwnerFrom(r.Context())
	id := chi.URLParam(r, "id")
	if err := s.store.Purge(r.Context(), owner, id); err != nil {
		s.writeErr(w, err)
		return
	}
	s.logger.Info("product purged", "owner", owner, "id", id)
	w.WriteHeader(http.StatusNoContent)
}

// decode reads a JSON body into v and validates it.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return &types.ValidationError{Index: -1, Err: fmt.Errorf("invalid JSON body: %w", err)}
	}
	if err := s.validate.Struct(v); err != nil {
		return fromValidator(err)
	}
	return nil
}

// fromValidator converts the first validator failure into a
// ValidationError carrying the batch index, when there is one.
func fromValidator(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return &types.ValidationError{Index: -1, Err: err}
	}

	fe := verrs[0]
	msg := "failed " + fe.Tag()
	switch fe.Tag() {
	case "required":
		msg = "is required"
	case "url":
		msg = "must be a URL"
	}
	return &types.ValidationError{Index: batchIndex(fe.Namespace()), Field: fe.Field(), Err: errors.New(msg)}
}

// batchIndex pulls the slice index out of a namespace such as
// "PushRequest.products[3].title".
func batchIndex(namespace string) int {
	open := strings.IndexByte(namespace, '[')
	end := strings.IndexByte(namespace, ']')
	if open < 0 || end <= open {
		return -1
	}
	n, err := strconv.Atoi(namespace[open+1 : end])
	if err != nil {
		return -1
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, types.ErrorResponse{Error: msg})
}

// writeErr maps domain errors onto HTTP statuses.
func (s *Server) writeErr(w http.ResponseWriter, err error) {
	var ve *types.ValidationError
	switch {
	case errors.As(err, &ve):
		body := types.ErrorResponse{Error: "invalid request", Field: ve.Field}
		if ve.Err != nil {
			body.Error = ve.Err.Error()
		}
		if ve.Index >= 0 {
			idx := ve.Index
			body.Index = &idx
		}
		writeJSON(w, http.StatusBadRequest, body)
	case errors.Is(err, types.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, types.ErrPurged):
		writeError(w, http.StatusGone, err.Error())
	case errors.Is(err, types.ErrDuplicateURL):
		writeError(w, http.StatusConflict, err.Error())
	default:
		s.logger.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}
