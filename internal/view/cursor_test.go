package view

import "testing"

func TestPageCursor_PrevFloorsAtOne(t *testing.T) {
	c := NewPageCursor(1)
	if c.Prev() {
		t.Error("Prev() at page 1 = true, want false")
	}
	if c.Page() != 1 {
		t.Errorf("Page() = %d, want 1", c.Page())
	}

	c = NewPageCursor(5)
	c.Prev()
	c.Prev()
	for i := 0; i < 10; i++ {
		c.Prev()
	}
	if c.Page() != 1 {
		t.Errorf("Page() after 12 Prev() from 5 = %d, want 1", c.Page())
	}
}

func TestPageCursor_Next(t *testing.T) {
	var c PageCursor
	if c.Page() != 1 {
		t.Errorf("zero value Page() = %d, want 1", c.Page())
	}
	c.Next()
	c.Next()
	if c.Page() != 3 {
		t.Errorf("Page() = %d, want 3", c.Page())
	}
}

func TestPageCursor_Set(t *testing.T) {
	tests := []struct {
		in   int
		want int
	}{
		{7, 7},
		{1, 1},
		{0, 1},
		{-4, 1},
	}
	for _, tt := range tests {
		var c PageCursor
		c.Set(tt.in)
		if c.Page() != tt.want {
			t.Errorf("Set(%d): Page() = %d, want %d", tt.in, c.Page(), tt.want)
		}
	}
}

func TestParsePage(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"3", 3},
		{" 12 ", 12},
		{"", 1},
		{"0", 1},
		{"-2", 1},
		{"abc", 1},
		{"2.5", 1},
		{"99999999999999999999999", 1},
	}
	for _, tt := range tests {
		if got := ParsePage(tt.in); got != tt.want {
			t.Errorf("ParsePage(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
