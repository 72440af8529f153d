package domain

import "math"

// DefaultRowsPerPage is the page size used when none is requested.
const DefaultRowsPerPage = 20

// MaxRowsPerPage is the largest page size a client may request.
const MaxRowsPerPage = 100

// PageCount returns ceil(total / rowsPerPage).
func PageCount(total, rowsPerPage int) int {
	if rowsPerPage <= 0 || total <= 0 {
		return 0
	}
	return (total + rowsPerPage - 1) / rowsPerPage
}

// PageOffset returns the number of rows preceding the given 1-based page.
// Offsets too large for an int saturate at math.MaxInt.
func PageOffset(page, rowsPerPage int) int {
	if page < 1 || rowsPerPage <= 0 {
		return 0
	}
	if page-1 > math.MaxInt/rowsPerPage {
		return math.MaxInt
	}
	return (page - 1) * rowsPerPage
}
