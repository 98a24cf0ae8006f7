package metrics

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/common/expfmt"
)

// WriteTextfile gathers every metric registered on Registry and writes it
// to path in the node_exporter textfile-collector format, atomically
// (write-to-temp-then-rename) so a scrape never observes a half-written
// file.
func WriteTextfile(path string) error {
	families, err := Registry.Gather()
	if err != nil {
		return fmt.Errorf("gathering metrics: %w", err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".condor-defrag-metrics-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp metrics file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	enc := expfmt.NewEncoder(tmp, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, family := range families {
		if err := enc.Encode(family); err != nil {
			tmp.Close()
			return fmt.Errorf("encoding metric family %s: %w", family.GetName(), err)
		}
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp metrics file: %w", err)
	}

	if err := os.Chmod(tmpPath, 0o644); err != nil {
		return fmt.Errorf("chmod temp metrics file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("renaming metrics file into place: %w", err)
	}
	return nil
}
