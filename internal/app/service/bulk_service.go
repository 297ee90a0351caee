package service

import (
	"context"
	"fmt"

	"github.com/sifan077/shortlink/internal/app/model"
	prominfra "github.com/sifan077/shortlink/internal/infra/prometheus"
)

const DefaultBulkMaxItems = 100

// BulkSuccess pairs a result with the index of the input that produced it.
type BulkSuccess[T any] struct {
	Index int
	Value T
}

// BulkFailure records why the input at Index failed. Input echoes the
// identifying part of the submitted item and Reason is safe to return to
// clients; Err keeps the full chain for logging.
type BulkFailure struct {
	Index  int
	Input  string
	Reason string
	Err    error
}

// BulkResult accumulates per-item outcomes in input order.
type BulkResult[T any] struct {
	Successes      []BulkSuccess[T]
	Failures       []BulkFailure
	TotalProcessed int
	SuccessCount   int
	FailureCount   int
}

func newBulkResult[T any](n int) *BulkResult[T] {
	return &BulkResult[T]{
		Successes: make([]BulkSuccess[T], 0, n),
		Failures:  make([]BulkFailure, 0),
	}
}

func (r *BulkResult[T]) succeed(index int, value T) {
	r.Successes = append(r.Successes, BulkSuccess[T]{Index: index, Value: value})
	r.SuccessCount++
	r.TotalProcessed++
}

func (r *BulkResult[T]) fail(index int, input string, err error) {
	r.Failures = append(r.Failures, BulkFailure{Index: index, Input: input, Reason: PublicReason(err), Err: err})
	r.FailureCount++
	r.TotalProcessed++
}

// BulkService applies one kind of change to many links. Every item runs in
// its own error boundary; a failing item never aborts or undoes the others.
type BulkService struct {
	links    LinkService
	maxItems int
	metrics  *prominfra.Metrics
}

// NewBulkService wraps links. maxItems <= 0 selects DefaultBulkMaxItems.
func NewBulkService(links LinkService, maxItems int, metrics *prominfra.Metrics) *BulkService {
	if maxItems <= 0 {
		maxItems = DefaultBulkMaxItems
	}
	return &BulkService{links: links, maxItems: maxItems, metrics: metrics}
}

// MaxItems returns the largest accepted batch.
func (s *BulkService) MaxItems() int {
	return s.maxItems
}

func (s *BulkService) checkSize(n int) error {
	if n == 0 {
		return invalidInput("at least one item is required")
	}
	if n > s.maxItems {
		return invalidInput("too many items: %d (max %d)", n, s.maxItems)
	}
	return nil
}

// BulkCreate allocates one link per input. The owner overrides any OwnerID
// set on the items.
func (s *BulkService) BulkCreate(ctx context.Context, ownerID string, inputs []CreateLinkInput) (*BulkResult[*model.Link], error) {
	if err := s.checkSize(len(inputs)); err != nil {
		return nil, fmt.Errorf("bulk create: %w", err)
	}

	result := newBulkResult[*model.Link](len(inputs))
	for i, input := range inputs {
		input.OwnerID = ownerID
		link, err := s.links.CreateLink(ctx, input)
		if err != nil {
			result.fail(i, input.URL, err)
			s.metrics.ObserveBulkItem("create", "failure")
			continue
		}
		result.succeed(i, link)
		s.metrics.ObserveBulkItem("create", "success")
	}
	return result, nil
}

// BulkDelete removes the owner's links by id.
func (s *BulkService) BulkDelete(ctx context.Context, ownerID string, ids []string) (*BulkResult[string], error) {
	if err := s.checkSize(len(ids)); err != nil {
		return nil, fmt.Errorf("bulk delete: %w", err)
	}

	result := newBulkResult[string](len(ids))
	for i, id := range ids {
		if err := s.links.DeleteLink(ctx, ownerID, id); err != nil {
			result.fail(i, id, err)
			s.metrics.ObserveBulkItem("delete", "failure")
			continue
		}
		result.succeed(i, id)
		s.metrics.ObserveBulkItem("delete", "success")
	}
	return result, nil
}

// BulkSetVisibility changes the visibility of the owner's links.
func (s *BulkService) BulkSetVisibility(ctx context.Context, ownerID string, ids []string, visibility model.Visibility) (*BulkResult[*model.Link], error) {
	if err := s.checkSize(len(ids)); err != nil {
		return nil, fmt.Errorf("bulk set visibility: %w", err)
	}
	if _, ok := model.ParseVisibility(string(visibility)); !ok {
		return nil, fmt.Errorf("bulk set visibility: %w", invalidInput("unknown visibility %q", visibility))
	}

	return s.eachLink(ids, "visibility", func(id string) (*model.Link, error) {
		return s.links.SetVisibility(ctx, ownerID, id, visibility)
	}), nil
}

// BulkSetActive activates or deactivates the owner's links.
func (s *BulkService) BulkSetActive(ctx context.Context, ownerID string, ids []string, active bool) (*BulkResult[*model.Link], error) {
	if err := s.checkSize(len(ids)); err != nil {
		return nil, fmt.Errorf("bulk set status: %w", err)
	}

	return s.eachLink(ids, "status", func(id string) (*model.Link, error) {
		return s.links.SetActive(ctx, ownerID, id, active)
	}), nil
}

func (s *BulkService) eachLink(ids []string, op string, apply func(id string) (*model.Link, error)) *BulkResult[*model.Link] {
	result := newBulkResult[*model.Link](len(ids))
	for i, id := range ids {
		link, err := apply(id)
		if err != nil {
			result.fail(i, id, err)
			s.metrics.ObserveBulkItem(op, "failure")
			continue
		}
		result.succeed(i, link)
		s.metrics.ObserveBulkItem(op, "success")
	}
	return result
}
