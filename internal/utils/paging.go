// Package utils holds small parsing helpers shared by the HTTP and service
// layers. Nothing here knows about negotiations or orders.
package utils

import (
	"strconv"
	"strings"
)

// Inbox paging bounds.
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// ParsePage reads raw page and page_size query values. Missing or malformed
// values fall back to page 1 and DefaultPageSize; out-of-range values are
// clamped to [1, MaxPageSize].
func ParsePage(pageRaw, sizeRaw string) (page, size int) {
	page = atoiDefault(pageRaw, 1)
	if page < 1 {
		page = 1
	}
	size = atoiDefault(sizeRaw, DefaultPageSize)
	return page, ClampSize(size)
}

// ClampSize bounds a page size to [1, MaxPageSize]. Zero or negative sizes
// mean "use the default".
func ClampSize(size int) int {
	switch {
	case size <= 0:
		return DefaultPageSize
	case size > MaxPageSize:
		return MaxPageSize
	}
	return size
}

// Offset converts a 1-based page into a row offset.
func Offset(page, size int) int {
	if page < 1 {
		page = 1
	}
	return (page - 1) * size
}

// TotalPages is ceil(total/size); zero when size is not positive.
func TotalPages(total int64, size int) int {
	if size <= 0 || total <= 0 {
		return 0
	}
	return int((total + int64(size) - 1) / int64(size))
}

func atoiDefault(s string, def int) int {
	s = strings.TrimSpace(s)
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}
