package view

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"
)

type fakeSession struct {
	mu          sync.Mutex
	cred        string
	user        string
	invalidated int
	callbacks   []func()
}

func newFakeSession() *fakeSession {
	return &fakeSession{cred: "token-1", user: "alice"}
}

func (s *fakeSession) Credential() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cred
}

func (s *fakeSession) Username() string { return s.user }

func (s *fakeSession) Invalidate() {
	s.mu.Lock()
	s.cred = ""
	s.invalidated++
	cbs := append([]func(){}, s.callbacks...)
	s.mu.Unlock()
	for _, fn := range cbs {
		fn()
	}
}

func (s *fakeSession) OnUnauthorized(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callbacks = append(s.callbacks, fn)
}

func (s *fakeSession) invalidations() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.invalidated
}

type fetchCall struct {
	page    int
	filters FilterSet
}

// fakeService serves pages from memory. A page listed in gates blocks until
// its channel is closed.
type fakeService struct {
	mu         sync.Mutex
	pages      map[int][]Record
	total      int64
	rowsErr    error
	countErr   error
	exportErr  error
	exportBody string
	gates      map[int]chan struct{}

	rowCalls   []fetchCall
	countCalls []fetchCall
}

func newFakeService() *fakeService {
	return &fakeService{
		pages: make(map[int][]Record),
		gates: make(map[int]chan struct{}),
	}
}

func (f *fakeService) wait(ctx context.Context, page int) error {
	f.mu.Lock()
	gate := f.gates[page]
	f.mu.Unlock()
	if gate == nil {
		return nil
	}
	select {
	case <-gate:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *fakeService) FetchRows(ctx context.Context, _ Session, page int) ([]Record, error) {
	f.mu.Lock()
	f.rowCalls = append(f.rowCalls, fetchCall{page: page})
	f.mu.Unlock()

	if err := f.wait(ctx, page); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rowsErr != nil {
		return nil, f.rowsErr
	}
	return f.pages[page], nil
}

func (f *fakeService) FetchCount(_ context.Context, _ Session) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.countCalls = append(f.countCalls, fetchCall{})
	if f.countErr != nil {
		return 0, f.countErr
	}
	return f.total, nil
}

func (f *fakeService) FetchFilteredRows(ctx context.Context, _ Session, filters FilterSet, page int) ([]Record, error) {
	f.mu.Lock()
	f.rowCalls = append(f.rowCalls, fetchCall{page: page, filters: filters.Clone()})
	f.mu.Unlock()

	if err := f.wait(ctx, page); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rowsErr != nil {
		return nil, f.rowsErr
	}
	return f.pages[page], nil
}

func (f *fakeService) FetchFilteredCount(_ context.Context, _ Session, filters FilterSet) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.countCalls = append(f.countCalls, fetchCall{filters: filters.Clone()})
	if f.countErr != nil {
		return 0, f.countErr
	}
	return f.total, nil
}

func (f *fakeService) ExportFiltered(_ context.Context, _ Session, _ FilterSet) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.exportErr != nil {
		return nil, f.exportErr
	}
	return io.NopCloser(strings.NewReader(f.exportBody)), nil
}

func (f *fakeService) rowCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rowCalls)
}

func (f *fakeService) countCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.countCalls)
}

func (f *fakeService) lastRowCall() fetchCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.rowCalls) == 0 {
		return fetchCall{}
	}
	return f.rowCalls[len(f.rowCalls)-1]
}

func (f *fakeService) setGate(page int) chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan struct{})
	f.gates[page] = ch
	return ch
}

func (f *fakeService) setRowsErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rowsErr = err
}

func (f *fakeService) setCountErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.countErr = err
}

// makePage builds n records with columns col2, col1, name.
func makePage(prefix string, n int) []Record {
	out := make([]Record, n)
	for i := range out {
		out[i] = NewRecord(
			Field{Name: "col2", Value: fmt.Sprintf("%s-b%d", prefix, i)},
			Field{Name: "col1", Value: fmt.Sprintf("%s-a%d", prefix, i)},
			Field{Name: "name", Value: fmt.Sprintf("%s-name%d", prefix, i)},
		)
	}
	return out
}

func waitIdle(t *testing.T, c *Controller) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.Wait(ctx); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
}

// eventually polls cond until it holds or two seconds pass.
func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met within 2s")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
