package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"intake.org/internal/allocation"
	"intake.org/internal/auth"
	"intake.org/internal/obs"
)

type allocateRequest struct {
	CreatorRole string `json:"creator_role"`
}

type reassignRequest struct {
	ReceiverID   int64  `json:"receiver_id"`
	ActingUserID int64  `json:"acting_user_id"`
	Reason       string `json:"reason"`
}

type caseResponse struct {
	Case     allocation.Case     `json:"case"`
	Receiver allocation.Receiver `json:"receiver"`
}

type allocationResponse struct {
	Receiver allocation.Receiver         `json:"receiver"`
	Record   allocation.AllocationRecord `json:"record"`
}

type historyResponse struct {
	CaseID int64                         `json:"case_id"`
	Items  []allocation.AllocationRecord `json:"items"`
}

func (a *API) createCase(w http.ResponseWriter, r *http.Request) {
	var draft allocation.CaseDraft
	if err := decodeJSON(w, r, &draft); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	// An authenticated caller always creates as itself.
	if uid, ok := auth.UserIDFromContext(r.Context()); ok {
		draft.CreatorID = uid
	}

	c, rc, err := a.engine.AllocateOnCreate(r.Context(), draft)
	if err != nil {
		handleAllocationError(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/cases/"+strconv.FormatInt(c.ID, 10))
	writeJSON(w, http.StatusCreated, caseResponse{Case: c, Receiver: rc})
}

func (a *API) allocateCase(w http.ResponseWriter, r *http.Request) {
	id, ok := caseID(w, r)
	if !ok {
		return
	}
	var req allocateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if role, ok := auth.RoleFromContext(r.Context()); ok {
		req.CreatorRole = role
	}
	role, _ := allocation.ParseRole(req.CreatorRole)

	rc, rec, err := a.engine.Allocate(r.Context(), id, role)
	if err != nil {
		handleAllocationError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, allocationResponse{Receiver: rc, Record: rec})
}

func (a *API) reassignCase(w http.ResponseWriter, r *http.Request) {
	id, ok := caseID(w, r)
	if !ok {
		return
	}
	var req reassignRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if uid, ok := auth.UserIDFromContext(r.Context()); ok {
		req.ActingUserID = uid
	}

	rec, err := a.engine.ManualReassign(r.Context(), id, req.ReceiverID, req.ActingUserID, req.Reason)
	if err != nil {
		handleAllocationError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (a *API) caseHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := caseID(w, r)
	if !ok {
		return
	}
	items, err := a.engine.GetAllocationHistory(r.Context(), id)
	if err != nil {
		handleAllocationError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, historyResponse{CaseID: id, Items: items})
}

func (a *API) nextReceiver(w http.ResponseWriter, r *http.Request) {
	raw := strings.TrimSpace(r.URL.Query().Get("case_type"))
	if raw == "" {
		writeError(w, r, http.StatusBadRequest, "case_type query parameter is required")
		return
	}
	t, _ := allocation.ParseCaseType(raw)
	rc, err := a.engine.PreviewNext(r.Context(), t)
	if err != nil {
		handleAllocationError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"case_type": t,
		"receiver":  rc,
	})
}

func caseID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, r, http.StatusBadRequest, "case id must be a positive integer")
		return 0, false
	}
	return id, true
}

// decodeJSON reads a single JSON object. An empty body decodes to the zero value.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

func handleAllocationError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, allocation.ErrValidation):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, allocation.ErrAuthorization):
		writeError(w, r, http.StatusForbidden, err.Error())
	case errors.Is(err, allocation.ErrNoEligibleReceiver):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, allocation.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	default:
		obs.Logger().WithError(err).WithField("request_id", RequestIDFromContext(r.Context())).Error("allocation request failed")
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}
