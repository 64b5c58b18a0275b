package analysis

import "context"

// ImagePayload is the wire-ready image handed to a provider: raw bytes plus
// the declared media type.
type ImagePayload struct {
	Data     []byte
	MimeType string
}

// Provider is the remote vision-model collaborator. Implementations must
// classify failures as *types.Error so the invoker can tell transient from
// terminal.
type Provider interface {
	// GenerateContent asks the named model for analysis text from a prompt
	// plus one inline image.
	GenerateContent(ctx context.Context, model, prompt string, image ImagePayload) (string, error)

	// Name identifies the provider in logs and metrics.
	Name() string
}
