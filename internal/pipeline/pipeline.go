// Package pipeline is the contract with the external discovery pipeline
// that analyses code ranges and returns connection records.
package pipeline

import (
	"context"

	"connidx/internal/batch"
	"connidx/internal/storage"
)

// Item is one range to analyse.
type Item struct {
	FilePath       string   `json:"file_path"`
	StartLine      int      `json:"start_line"`
	EndLine        int      `json:"end_line"`
	OldDescription string   `json:"old_description,omitempty"`
	Kind           string   `json:"kind,omitempty"`
	Descriptions   []string `json:"old_descriptions,omitempty"`
}

// Request is the payload of one pipeline call.
type Request struct {
	ProjectID string `json:"project_id"`
	Batch     int    `json:"batch"`
	Items     []Item `json:"items"`
}

// Record is a connection reported by the pipeline.
type Record struct {
	Direction   storage.Direction `json:"direction"`
	FilePath    string            `json:"file_path"`
	StartLine   int               `json:"start_line"`
	EndLine     int               `json:"end_line"`
	Description string            `json:"description"`
	Technology  string            `json:"technology"`
	CodeSnippet string            `json:"code_snippet"`
}

// Discoverer analyses one request. Implementations own their timeouts
// and retries.
type Discoverer interface {
	Discover(ctx context.Context, req *Request) ([]Record, error)
}

// Func adapts a function to Discoverer.
type Func func(ctx context.Context, req *Request) ([]Record, error)

func (f Func) Discover(ctx context.Context, req *Request) ([]Record, error) {
	return f(ctx, req)
}

// NewRequest converts a planned batch into a pipeline request.
func NewRequest(projectID string, b *batch.Batch) *Request {
	req := &Request{ProjectID: projectID, Batch: b.Index, Items: make([]Item, 0, len(b.Units))}
	for _, u := range b.Units {
		it := Item{
			FilePath:  u.FilePath,
			StartLine: u.Start,
			EndLine:   u.End,
			Kind:      string(u.Kind),
		}
		if len(u.Descriptions) > 0 {
			it.OldDescription = u.Descriptions[0]
			if len(u.Descriptions) > 1 {
				it.Descriptions = u.Descriptions
			}
		}
		req.Items = append(req.Items, it)
	}
	return req
}
