package service

import (
	"net/http"
	"time"

	"github.com/InsulaLabs/hmacfs/pkg/models"
)

func (s *Service) statHandler(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodGet) {
		return
	}
	p, ok := s.pathParam(w, r)
	if !ok {
		return
	}

	stat, err := s.fs.Stat(r.Context(), p)
	if err != nil {
		s.writeFSError(w, err)
		return
	}
	s.writeData(w, stat)
}

func (s *Service) existsHandler(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodGet) {
		return
	}
	p, ok := s.pathParam(w, r)
	if !ok {
		return
	}

	exists, err := s.fs.Exists(r.Context(), p)
	if err != nil {
		s.writeFSError(w, err)
		return
	}
	s.writeData(w, exists)
}

// readHandler returns base64 content, or a string when text=true.
func (s *Service) readHandler(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodGet) {
		return
	}
	p, ok := s.pathParam(w, r)
	if !ok {
		return
	}

	if r.URL.Query().Get("text") == "true" {
		text, err := s.fs.ReadText(r.Context(), p)
		if err != nil {
			s.writeFSError(w, err)
			return
		}
		s.writeData(w, text)
		return
	}

	content, err := s.fs.Read(r.Context(), p)
	if err != nil {
		s.writeFSError(w, err)
		return
	}
	if content == nil {
		content = []byte{}
	}
	s.writeData(w, content)
}

func (s *Service) listHandler(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodGet) {
		return
	}
	p, ok := s.pathParam(w, r)
	if !ok {
		return
	}

	infos, err := s.fs.List(r.Context(), p)
	if err != nil {
		s.writeFSError(w, err)
		return
	}
	if infos == nil {
		infos = []models.FileInfo{}
	}
	s.writeData(w, infos)
}

func (s *Service) pingHandler(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodGet) {
		return
	}
	s.writeData(w, models.PingResponse{
		Status:    "ok",
		Uptime:    time.Since(s.startedAt).Round(time.Second).String(),
		Engine:    s.cfg.Engine.Type,
		Listeners: s.eventSessions.Size(),
	})
}
