// Package pdf reads local PDF metadata needed before conversion.
package pdf

import (
	"os"

	"github.com/gen2brain/go-fitz"
	"github.com/rotisserie/eris"
)

// PageCount opens the PDF at path and returns its page count. Opening the
// document is comparatively expensive; callers should obtain the count once
// per file.
func PageCount(path string) (int, error) {
	if _, err := os.Stat(path); err != nil {
		return 0, eris.Wrapf(err, "pdf: stat %s", path)
	}

	doc, err := fitz.New(path)
	if err != nil {
		return 0, eris.Wrapf(err, "pdf: open %s", path)
	}
	defer doc.Close() //nolint:errcheck

	n := doc.NumPage()
	if n < 1 {
		return 0, eris.Errorf("pdf: %s has no pages", path)
	}
	return n, nil
}
