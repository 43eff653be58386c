package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/lukelocksmith/vexa/internal/common/apperrors"
)

// FakeOrchestrator is an in-process backend for tests. It records every
// call and supports failure injection per operation.
type FakeOrchestrator struct {
	mu         sync.Mutex
	counter    int
	containers map[string]*fakeContainer

	// Failure injection. When set, the matching operation returns the error.
	CreateErr apperrors.Error
	StartErr  apperrors.Error
	StopErr   apperrors.Error

	// Call records for assertions.
	Created []ContainerSpec
	Stopped []string
}

type fakeContainer struct {
	spec     ContainerSpec
	running  bool
	exitCode int
	exitDone chan struct{}
}

// NewFakeOrchestrator returns an empty fake.
func NewFakeOrchestrator() *FakeOrchestrator {
	return &FakeOrchestrator{containers: make(map[string]*fakeContainer)}
}

func (f *FakeOrchestrator) Create(ctx context.Context, spec ContainerSpec) (string, apperrors.Error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.CreateErr != nil {
		return "", f.CreateErr
	}
	f.counter++
	id := fmt.Sprintf("fake-container-%d", f.counter)
	f.containers[id] = &fakeContainer{spec: spec, exitDone: make(chan struct{})}
	f.Created = append(f.Created, spec)
	return id, nil
}

func (f *FakeOrchestrator) Start(ctx context.Context, containerID string) apperrors.Error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.StartErr != nil {
		return f.StartErr
	}
	c, ok := f.containers[containerID]
	if !ok {
		return ErrNotFound
	}
	c.running = true
	return nil
}

func (f *FakeOrchestrator) Stop(ctx context.Context, containerID string, grace time.Duration) apperrors.Error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.Stopped = append(f.Stopped, containerID)
	if f.StopErr != nil {
		return f.StopErr
	}
	c, ok := f.containers[containerID]
	if !ok {
		// duplicate stops and unknown containers are safe
		return nil
	}
	if c.running {
		c.running = false
		c.exitCode = 0
		close(c.exitDone)
	}
	return nil
}

func (f *FakeOrchestrator) Inspect(ctx context.Context, containerID string) (ContainerState, apperrors.Error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	c, ok := f.containers[containerID]
	if !ok {
		return ContainerState{}, ErrNotFound
	}
	return ContainerState{Running: c.running, ExitCode: c.exitCode}, nil
}

func (f *FakeOrchestrator) WaitExit(ctx context.Context, containerID string, timeout time.Duration) (ContainerState, apperrors.Error) {
	f.mu.Lock()
	c, ok := f.containers[containerID]
	f.mu.Unlock()
	if !ok {
		return ContainerState{}, ErrNotFound
	}

	select {
	case <-c.exitDone:
		f.mu.Lock()
		defer f.mu.Unlock()
		return ContainerState{ExitCode: c.exitCode}, nil
	case <-time.After(timeout):
		return ContainerState{}, ErrWaitTimeout
	case <-ctx.Done():
		return ContainerState{}, ErrWaitTimeout
	}
}

// Exit marks a container as exited with the given code, releasing WaitExit
// callers. Used by tests to simulate worker termination.
func (f *FakeOrchestrator) Exit(containerID string, exitCode int) {
	f.mu.Lock()
	defer f.mu.Unlock()

	c, ok := f.containers[containerID]
	if !ok {
		return
	}
	if c.running || c.exitCode == 0 {
		c.running = false
		c.exitCode = exitCode
		select {
		case <-c.exitDone:
		default:
			close(c.exitDone)
		}
	}
}

// StopCount returns how many stop calls were observed for the container.
func (f *FakeOrchestrator) StopCount(containerID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := 0
	for _, id := range f.Stopped {
		if id == containerID {
			n++
		}
	}
	return n
}
