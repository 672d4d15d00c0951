package vfs

// WriteOption is a functional option for Write and WriteText.
type WriteOption func(*WriteOptions)

// WriteOptions is exported so transports can carry the resolved options.
type WriteOptions struct {
	MimeType string `json:"mime_type,omitempty"`
}

// WithMimeType records an advisory MIME type on the file.
func WithMimeType(mimeType string) WriteOption {
	return func(o *WriteOptions) {
		o.MimeType = mimeType
	}
}

func ApplyWriteOptions(opts ...WriteOption) WriteOptions {
	var o WriteOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

// Options turns the resolved values back into functional options.
func (o WriteOptions) Options() []WriteOption {
	if o.MimeType == "" {
		return nil
	}
	return []WriteOption{WithMimeType(o.MimeType)}
}

// RemoveOption is a functional option for the Remove method.
type RemoveOption func(*RemoveOptions)

type RemoveOptions struct {
	Recursive bool `json:"recursive,omitempty"`
}

// WithRecursiveRemove enables recursive deletion of directories.
func WithRecursiveRemove() RemoveOption {
	return func(o *RemoveOptions) {
		o.Recursive = true
	}
}

func ApplyRemoveOptions(opts ...RemoveOption) RemoveOptions {
	var o RemoveOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

func (o RemoveOptions) Options() []RemoveOption {
	if !o.Recursive {
		return nil
	}
	return []RemoveOption{WithRecursiveRemove()}
}
