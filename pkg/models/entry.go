package models

import (
	"bytes"
	"time"
)

// Kind tags an entry as a file or a directory.
type Kind string

const (
	KindFile      Kind = "file"
	KindDirectory Kind = "directory"
)

func (k Kind) Valid() bool {
	return k == KindFile || k == KindDirectory
}

func (k Kind) IsDir() bool {
	return k == KindDirectory
}

/*
	Entry is the only record the store persists. There is no nesting: a
	directory does not know its children, the tree is rebuilt on demand from
	the ParentPath back-reference and the secondary index the storage engine
	keeps over it.

	Path and ParentPath are always canonical (see pkg/vpath). ParentPath is
	empty only for the root.
*/
type Entry struct {
	Path       string    `json:"path"`
	Name       string    `json:"name"`
	Kind       Kind      `json:"type"`
	Content    []byte    `json:"content,omitempty"`
	MimeType   string    `json:"mime_type,omitempty"`
	Size       int64     `json:"size"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
	ParentPath string    `json:"parent_path,omitempty"`
}

// IsRoot reports whether the entry is the tree root.
func (e *Entry) IsRoot() bool {
	return e.ParentPath == "" && e.Path == "/"
}

// SetContent replaces the content and recomputes Size. Size is never set any
// other way.
func (e *Entry) SetContent(data []byte) {
	if e.Kind != KindFile {
		e.Content = nil
		e.Size = 0
		return
	}
	e.Content = bytes.Clone(data)
	if e.Content == nil {
		e.Content = []byte{}
	}
	e.Size = int64(len(e.Content))
}

// Clone returns a deep copy so callers can never alias stored bytes.
func (e *Entry) Clone() *Entry {
	if e == nil {
		return nil
	}
	c := *e
	c.Content = bytes.Clone(e.Content)
	return &c
}

// FileStat is the metadata view of an entry; it never carries content.
type FileStat struct {
	Name      string    `json:"name"`
	Kind      Kind      `json:"type"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	MimeType  string    `json:"mime_type,omitempty"`
}

func (s FileStat) IsDir() bool {
	return s.Kind.IsDir()
}

// FileInfo is a FileStat that also names where the entry lives. It is what
// directory listings return.
type FileInfo struct {
	Path string `json:"path"`
	FileStat
}

func (e *Entry) Stat() FileStat {
	return FileStat{
		Name:      e.Name,
		Kind:      e.Kind,
		Size:      e.Size,
		CreatedAt: e.CreatedAt,
		UpdatedAt: e.UpdatedAt,
		MimeType:  e.MimeType,
	}
}

func (e *Entry) Info() FileInfo {
	return FileInfo{
		Path:     e.Path,
		FileStat: e.Stat(),
	}
}
