package apperr

import (
	"errors"
	"fmt"
	"testing"
)

func TestImportError_Unwrap(t *testing.T) {
	cause := fmt.Errorf("media: write: %w", ErrNoSpace)
	err := error(NewImportError("import failed", cause))

	if !errors.Is(err, ErrNoSpace) {
		t.Error("errors.Is should see through ImportError")
	}
	var ie *ImportError
	if !errors.As(err, &ie) || ie.Msg != "import failed" {
		t.Errorf("errors.As = %v", ie)
	}
	if err.Error() != "import failed: media: write: no space left on device" {
		t.Errorf("Error() = %q", err.Error())
	}
}
