package service

import (
	"net/http"

	"github.com/InsulaLabs/hmacfs/pkg/models"
	"github.com/InsulaLabs/hmacfs/pkg/vfs"
)

/*
	Handlers that mutate the tree. Each one answers 200 with {"data": true}
	once the change is committed.
*/

func (s *Service) initHandler(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodPost) {
		return
	}
	if err := s.fs.Init(r.Context()); err != nil {
		s.writeFSError(w, err)
		return
	}
	s.writeData(w, true)
}

func (s *Service) writeHandler(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodPost) {
		return
	}

	var p models.WriteRequest
	if !s.decodeBody(w, r, &p) {
		return
	}
	if p.Path == "" {
		s.writeErrorResponse(w, http.StatusBadRequest, errorTypeBadRequest, "Missing path in write request payload")
		return
	}

	var opts []vfs.WriteOption
	if p.MimeType != "" {
		opts = append(opts, vfs.WithMimeType(p.MimeType))
	}

	var err error
	if p.Text != nil {
		err = s.fs.WriteText(r.Context(), p.Path, *p.Text, opts...)
	} else {
		err = s.fs.Write(r.Context(), p.Path, p.Content, opts...)
	}
	if err != nil {
		s.writeFSError(w, err)
		return
	}
	s.writeData(w, true)
}

func (s *Service) mkdirHandler(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodPost) {
		return
	}

	var p models.PathRequest
	if !s.decodeBody(w, r, &p) {
		return
	}
	if p.Path == "" {
		s.writeErrorResponse(w, http.StatusBadRequest, errorTypeBadRequest, "Missing path in mkdir request payload")
		return
	}

	if err := s.fs.Mkdir(r.Context(), p.Path); err != nil {
		s.writeFSError(w, err)
		return
	}
	s.writeData(w, true)
}

func (s *Service) removeHandler(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodPost) {
		return
	}

	var p models.RemoveRequest
	if !s.decodeBody(w, r, &p) {
		return
	}
	if p.Path == "" {
		s.writeErrorResponse(w, http.StatusBadRequest, errorTypeBadRequest, "Missing path in remove request payload")
		return
	}

	opts := vfs.RemoveOptions{Recursive: p.Recursive}.Options()
	if err := s.fs.Remove(r.Context(), p.Path, opts...); err != nil {
		s.writeFSError(w, err)
		return
	}
	s.writeData(w, true)
}
