// Package mocks provides mock implementations for testing the verdantiq job queue.
//
// This package uses go.uber.org/mock (gomock) to generate type-safe mocks for our backend interfaces.
// The mocks are generated using go:generate directives and provide a fluent API for setting up test expectations.
//
// To regenerate mocks after interface changes, run:
//
//	go generate ./internal/mocks
//
// Usage in tests:
//
//	ctrl := gomock.NewController(t)
//	defer ctrl.Finish()
//	backend := mocks.NewMockQueueBackend(ctrl)
//	backend.EXPECT().Enqueue(gomock.Any(), gomock.Any()).Return(nil)
package mocks

// Generate mock for QueueBackend interface from internal/core package.
// This creates MockQueueBackend with methods for all QueueBackend interface methods:
// Enqueue, Lease, Heartbeat, Ack, Nack, UpdateProgress, GetByID, Cancel, Stats,
// GetMapping, PutMapping, DeleteMapping, WaitForNotification
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=queue_backend_mock.go github.com/verdantiq/verdantiq/internal/core QueueBackend

// Generate mock for ReaperRepository interface from internal/core package.
// This creates MockReaperRepository with methods for all ReaperRepository interface methods:
// PruneFinishedJobs, PruneExpiredMappings
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=reaper_repository_mock.go github.com/verdantiq/verdantiq/internal/core ReaperRepository

// Generate mock for CacheRepository interface from internal/core package.
// This creates MockCacheRepository with methods for all CacheRepository interface methods:
// Set, Get, Delete, Health
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=cache_repository_mock.go github.com/verdantiq/verdantiq/internal/core CacheRepository
