package view

import (
	"context"
	"io"
	"sync"

	"github.com/google/uuid"
)

// ExportTask is a one-shot download of the full filtered set. It has its own
// cancellation and does not share the controller's fetch generation, so
// paging while an export streams neither cancels nor is cancelled by it.
//
// The caller reads the CSV stream from the task and must Close it.
type ExportTask struct {
	ID      string
	Filters FilterSet

	body    io.ReadCloser
	cancel  context.CancelFunc
	release func()
	once    sync.Once
}

// Read streams the exported CSV.
func (t *ExportTask) Read(p []byte) (int, error) {
	return t.body.Read(p)
}

// Cancel aborts the download. Close must still be called.
func (t *ExportTask) Cancel() {
	t.cancel()
}

// Close releases the stream and clears the controller's exporting flag.
func (t *ExportTask) Close() error {
	var err error
	t.once.Do(func() {
		err = t.body.Close()
		t.cancel()
		t.release()
	})
	return err
}

// Export starts a download of every row matching the current filters, not
// just the current page. It leaves the ViewState untouched.
func (c *Controller) Export(ctx context.Context) (*ExportTask, error) {
	if c.mode != ModeFiltered {
		return nil, ErrExportUnsupported
	}
	if c.sess == nil || c.sess.Credential() == "" {
		return nil, ErrNoSession
	}

	c.mu.Lock()
	filters := c.state.Filters.Clone()
	c.exporting++
	c.mu.Unlock()

	release := func() {
		c.mu.Lock()
		c.exporting--
		c.mu.Unlock()
	}

	taskCtx, cancel := context.WithCancel(ctx)
	body, err := c.filtered.ExportFiltered(taskCtx, c.sess, filters)
	if err != nil {
		cancel()
		release()

		c.mu.Lock()
		c.report("export", err, ViewState{Filters: filters})
		c.mu.Unlock()

		if IsUnauthorized(err) {
			c.sess.Invalidate()
		}
		return nil, err
	}

	task := &ExportTask{
		ID:      uuid.NewString(),
		Filters: filters,
		body:    body,
		cancel:  cancel,
		release: release,
	}
	c.logger.Info("export started", "export_id", task.ID, "filters", len(filters))
	return task, nil
}
