package main

import (
	"context"
	"fmt"

	_ "github.com/newrelic/nr-catalog-sync/internal/provider/file"
	_ "github.com/newrelic/nr-catalog-sync/internal/provider/gitlab"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/newrelic/nr-catalog-sync/internal/sync"
	"github.com/newrelic/nr-catalog-sync/pkg/interop"
)

type SyncRequest struct {
	Kinds []string `json:"kinds"`
}

type KindResult struct {
	Kind     string `json:"kind"`
	Success  bool   `json:"success"`
	Created  int    `json:"created"`
	Updated  int    `json:"updated"`
	Deleted  int    `json:"deleted"`
	Failures int    `json:"failures"`
	Error    string `json:"error,omitempty"`
}

type CatalogSyncResult struct {
	Success bool         `json:"success"`
	Kinds   []KindResult `json:"kinds"`
}

func HandleRequest(ctx context.Context, req SyncRequest) (CatalogSyncResult, error) {
	i, err := interop.NewInteroperability("")
	if err != nil {
		return CatalogSyncResult{}, fmt.Errorf("failed to create interop: %w", err)
	}

	defer i.Shutdown()

	syncer, err := sync.FromInterop(i, i.Catalog)
	if err != nil {
		return CatalogSyncResult{}, fmt.Errorf("sync failed: %w", err)
	}

	result := CatalogSyncResult{Success: true}

	for _, r := range syncer.SyncAll(ctx, req.Kinds...) {
		kr := KindResult{
			Kind:     r.Kind,
			Success:  r.Success(),
			Failures: len(r.MappingFailures),
		}

		if o := r.Outcome; o != nil {
			kr.Created = len(o.Created)
			kr.Updated = len(o.Updated)
			kr.Deleted = len(o.Deleted)
			kr.Failures += len(o.Failures)
		}

		if r.Err != nil {
			kr.Error = r.Err.Error()
		}

		result.Success = result.Success && kr.Success
		result.Kinds = append(result.Kinds, kr)
	}

	if !result.Success {
		return result, fmt.Errorf("sync failed for at least one kind")
	}

	return result, nil
}

func main() {
	lambda.Start(HandleRequest)
}
