package storage

import (
	"context"
	"fmt"
)

// DefaultInlineLimit is the largest payload carried inside a message
const DefaultInlineLimit = 512 * 1024

// Payload is either inline data or a reference to a blob
type Payload struct {
	Data        []byte `json:"data,omitempty"`
	Ref         string `json:"ref,omitempty"`
	ContentType string `json:"content_type,omitempty"`
}

// Payloads offloads payloads above a size limit to blob storage
type Payloads struct {
	store       BlobStore
	inlineLimit int
}

// NewPayloads creates a payload helper. A nil store keeps every payload
// inline. A limit of zero means DefaultInlineLimit.
func NewPayloads(store BlobStore, inlineLimit int) *Payloads {
	if inlineLimit <= 0 {
		inlineLimit = DefaultInlineLimit
	}
	return &Payloads{store: store, inlineLimit: inlineLimit}
}

// PayloadPath returns the blob path for a job payload
func PayloadPath(jobID, name string) string {
	return fmt.Sprintf("payloads/%s/%s", jobID, name)
}

// Put wraps data, uploading it when it exceeds the inline limit
func (p *Payloads) Put(ctx context.Context, path string, data []byte, contentType string, metadata map[string]string) (Payload, error) {
	if p.store == nil || len(data) <= p.inlineLimit {
		return Payload{Data: data, ContentType: contentType}, nil
	}
	ref, err := p.store.Upload(ctx, path, data, contentType, metadata)
	if err != nil {
		return Payload{}, err
	}
	return Payload{Ref: ref, ContentType: contentType}, nil
}

// Get returns the payload bytes, downloading referenced payloads
func (p *Payloads) Get(ctx context.Context, pl Payload) ([]byte, error) {
	if pl.Ref == "" {
		return pl.Data, nil
	}
	if p.store == nil {
		return nil, fmt.Errorf("payload %s is in blob storage but none is configured", pl.Ref)
	}
	return p.store.Download(ctx, pl.Ref)
}
