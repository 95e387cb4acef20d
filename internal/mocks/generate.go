// Package mocks provides mock implementations for testing the ticketpress job system.
//
// This package uses go.uber.org/mock (gomock) to generate type-safe mocks for our repository interfaces.
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
//	mockRepo := mocks.NewMockJobRepository(ctrl)
//	mockRepo.EXPECT().Create(gomock.Any(), gomock.Any()).Return(job, nil)
package mocks

// Generate mock for JobRepository interface from internal/core package.
// This creates MockJobRepository with methods for all JobRepository interface methods:
// Create, GetByID, ReserveNext, Heartbeat, MarkAssembling, Complete, Fail, Stats
//go:generate go run go.uber.org/mock/mockgen -package=mocks -destination=job_repository_mock.go github.com/ticketpress/ticketpress/internal/core JobRepository

// Generate mock for ObjectStore interface from internal/core package.
// This creates MockObjectStore with methods for all ObjectStore interface methods:
// Get, Put, Delete
//go:generate go run go.uber.org/mock/mockgen -package=mocks -destination=object_store_mock.go github.com/ticketpress/ticketpress/internal/core ObjectStore
