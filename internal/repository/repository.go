// Package repository declares the storage interfaces the services depend on.
package repository

import (
	"context"

	"github.com/sakif/code-sandbox/internal/model"
)

type ListOptions struct {
	Limit  int
	Offset int
	Status string // optional filter on the terminal status
}

type ExecutionRepository interface {
	Create(ctx context.Context, rec *model.ExecutionRecord) error
	GetByID(ctx context.Context, id string) (*model.ExecutionRecord, error)
	List(ctx context.Context, opts ListOptions) ([]model.ExecutionRecord, error)
	Count(ctx context.Context, status string) (int, error)
}
