package document

import (
	"fmt"
	"os"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	apperrors "example.com/pdf-fusion/pkg/errors"
)

// IntegrityError reports an assembled output that does not reopen with the
// expected page count.
type IntegrityError struct {
	Want int
	Got  int
	Err  error
}

func (e *IntegrityError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("output integrity: %v", e.Err)
	}
	return fmt.Sprintf("output integrity: %d pages, want %d", e.Got, e.Want)
}

func (e *IntegrityError) Unwrap() error { return e.Err }

func (e *IntegrityError) Is(target error) bool { return target == apperrors.ErrOutputIntegrity }

// Verify reopens the file at path and checks it has wantPages pages.
func Verify(path string, wantPages int, conf *model.Configuration) error {
	f, err := os.Open(path)
	if err != nil {
		return &IntegrityError{Want: wantPages, Err: err}
	}
	defer f.Close()
	n, err := api.PageCount(f, conf)
	if err != nil {
		return &IntegrityError{Want: wantPages, Err: err}
	}
	if n != wantPages {
		return &IntegrityError{Want: wantPages, Got: n}
	}
	return nil
}
