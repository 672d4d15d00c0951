package service

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/InsulaLabs/hmacfs/db/engine"
	"github.com/InsulaLabs/hmacfs/pkg/models"
	"github.com/InsulaLabs/hmacfs/pkg/vfs"
)

const (
	errorTypeBadRequest       = "BAD_REQUEST"
	errorTypeMethodNotAllowed = "METHOD_NOT_ALLOWED"
	errorTypeInternal         = "INTERNAL_ERROR"
)

var statusByCode = map[string]int{
	vfs.CodeNotFound:          http.StatusNotFound,
	vfs.CodeNotAFile:          http.StatusConflict,
	vfs.CodeNotADirectory:     http.StatusConflict,
	vfs.CodeParentNotFound:    http.StatusNotFound,
	vfs.CodeAlreadyExists:     http.StatusConflict,
	vfs.CodeDirectoryNotEmpty: http.StatusConflict,
	vfs.CodeDecode:            http.StatusUnprocessableEntity,
	vfs.CodeEngine:            http.StatusInternalServerError,
}

func (s *Service) writeData(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	rsp := struct {
		Data any `json:"data"`
	}{Data: data}
	if err := json.NewEncoder(w).Encode(rsp); err != nil {
		s.logger.Error("Could not encode response", "error", err)
	}
}

func (s *Service) writeErrorResponse(w http.ResponseWriter, status int, errorType, message string) {
	s.writeErrorBody(w, status, models.ErrorResponse{ErrorType: errorType, Message: message})
}

func (s *Service) writeErrorBody(w http.ResponseWriter, status int, rsp models.ErrorResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(rsp); err != nil {
		s.logger.Error("Could not encode error response", "error", err)
	}
}

// writeFSError maps a FileSystem error onto its wire error type and status.
func (s *Service) writeFSError(w http.ResponseWriter, err error) {
	rsp := models.ErrorResponse{
		ErrorType: vfs.Code(err),
		Message:   err.Error(),
	}
	var pe *vfs.PathError
	if errors.As(err, &pe) {
		rsp.Op = pe.Op
		rsp.Path = pe.Path
	}

	status, ok := statusByCode[rsp.ErrorType]
	if !ok {
		rsp.ErrorType = errorTypeInternal
		status = http.StatusInternalServerError
	}
	if rsp.ErrorType == vfs.CodeEngine && engine.IsTransient(err) {
		status = http.StatusServiceUnavailable
		rsp.Retryable = true
	}

	if status >= http.StatusInternalServerError {
		s.logger.Error("File system operation failed", "op", rsp.Op, "path", rsp.Path, "error", err)
	} else {
		s.logger.Debug("File system operation rejected", "op", rsp.Op, "path", rsp.Path, "error_type", rsp.ErrorType)
	}
	s.writeErrorBody(w, status, rsp)
}

func (s *Service) requireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		w.Header().Set("Allow", method)
		s.writeErrorResponse(w, http.StatusMethodNotAllowed, errorTypeMethodNotAllowed, "Method not allowed")
		return false
	}
	return true
}

// decodeBody reads a JSON body into target, answering 400 on failure.
func (s *Service) decodeBody(w http.ResponseWriter, r *http.Request, target any) bool {
	defer r.Body.Close()
	bodyBytes, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBodySize))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeErrorResponse(w, http.StatusRequestEntityTooLarge, errorTypeBadRequest, "Request body is too large")
			return false
		}
		s.logger.Error("Could not read request body", "path", r.URL.Path, "error", err)
		s.writeErrorResponse(w, http.StatusBadRequest, errorTypeBadRequest, http.StatusText(http.StatusBadRequest))
		return false
	}
	if err := json.Unmarshal(bodyBytes, target); err != nil {
		s.writeErrorResponse(w, http.StatusBadRequest, errorTypeBadRequest, "Invalid JSON payload: "+err.Error())
		return false
	}
	return true
}

// pathParam returns the path query parameter, answering 400 when it is absent.
func (s *Service) pathParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	p := r.URL.Query().Get("path")
	if p == "" {
		s.writeErrorResponse(w, http.StatusBadRequest, errorTypeBadRequest, "Missing path parameter")
		return "", false
	}
	return p, true
}
