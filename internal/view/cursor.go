package view

import (
	"strconv"
	"strings"
)

// PageCursor is a 1-based page index. The zero value reads as page 1.
type PageCursor struct {
	page int
}

// NewPageCursor returns a cursor at page n, clamped to at least 1.
func NewPageCursor(n int) PageCursor {
	var c PageCursor
	c.Set(n)
	return c
}

// Page returns the current page, never less than 1.
func (c PageCursor) Page() int {
	if c.page < 1 {
		return 1
	}
	return c.page
}

// Next advances one page. There is no upper bound; the row service answers
// past-the-end pages with an empty batch.
func (c *PageCursor) Next() {
	c.page = c.Page() + 1
}

// Prev moves back one page. At page 1 it does nothing and returns false.
func (c *PageCursor) Prev() bool {
	if c.Page() <= 1 {
		c.page = 1
		return false
	}
	c.page = c.Page() - 1
	return true
}

// Set moves to page n from an external source, clamping to at least 1.
func (c *PageCursor) Set(n int) {
	if n < 1 {
		n = 1
	}
	c.page = n
}

// ParsePage parses a page parameter. Anything that is not a positive
// integer becomes 1.
func ParsePage(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 1 {
		return 1
	}
	return n
}
