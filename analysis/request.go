package analysis

import (
	"io"
	"net/http"

	"github.com/chartflow-ai/chartflow/types"
)

// ImageMeta carries the uploader-reported metadata of a chart image.
type ImageMeta struct {
	Name     string
	Size     int64
	MimeType string
	// LastModified is the file modification time in Unix milliseconds,
	// as reported by the uploading client.
	LastModified int64
}

// Request is one unit of work for the orchestration layer. It is treated as
// immutable after construction; the orchestrator never mutates it.
type Request struct {
	Image  []byte
	Meta   ImageMeta
	Prompt string
}

// Validate rejects requests the layer cannot service. It runs before any
// cache or queue interaction.
func (r *Request) Validate() error {
	if r == nil || len(r.Image) == 0 {
		return types.NewError(types.ErrInvalidRequest, "no image provided").
			WithHTTPStatus(http.StatusBadRequest)
	}
	return nil
}

// RequestFromReader drains an opaque image source into a Request. Read
// failures surface as ENCODING errors.
func RequestFromReader(r io.Reader, meta ImageMeta, prompt string) (*Request, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, types.NewError(types.ErrEncoding, "reading image payload").WithCause(err)
	}
	if meta.Size == 0 {
		meta.Size = int64(len(data))
	}
	return &Request{Image: data, Meta: meta, Prompt: prompt}, nil
}
