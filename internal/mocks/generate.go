// Package mocks provides generated mock implementations of the core ports
// for testing the dispatcher and queue plumbing.
//
// The mocks are generated with go.uber.org/mock (gomock). To regenerate
// after interface changes, run:
//
//	go generate ./internal/mocks
//
// Usage in tests:
//
//	ctrl := gomock.NewController(t)
//	source := mocks.NewMockQueueSource(ctrl)
//	source.EXPECT().ClaimBatch(gomock.Any(), gomock.Any()).Return(items, nil)
package mocks

//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=queue_source_mock.go github.com/quarrylabs/quarry/internal/core QueueSource

//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=status_reporter_mock.go github.com/quarrylabs/quarry/internal/core StatusReporter

//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=object_store_mock.go github.com/quarrylabs/quarry/internal/core ObjectStore
