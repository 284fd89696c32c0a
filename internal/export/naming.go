package export

import (
	"fmt"
	"time"

	"github.com/stanstork/formvault-api/internal/models"
)

// downloadName is the attachment filename offered to the browser.
func downloadName(sel models.Selector, format models.ExportFormat, at time.Time) string {
	return fmt.Sprintf("form-%d-entries-%s%s", sel.FormID, at.UTC().Format("20060102-150405"), format.Extension())
}
