package service

import (
	"bytes"
	"fmt"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

func init() {
	// no config dir on read-only function filesystems
	api.DisableConfigDir()
}

// InspectPDF returns the page count of a PDF held in memory. The count is informational;
// callers must not reject documents pdfcpu cannot read since the model may still cope.
func InspectPDF(data []byte) (int, error) {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed

	pages, err := api.PageCount(bytes.NewReader(data), conf)
	if err != nil {
		return 0, fmt.Errorf("read pdf: %w", err)
	}
	return pages, nil
}
