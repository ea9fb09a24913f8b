package csv

import (
	"context"
	"io"

	"sdgetl/internal/config"
	"sdgetl/internal/dataset"
)

// LoadStats counts what Load saw.
type LoadStats struct {
	Read    int // data records in the file
	Kept    int // records whose indicator is allow-listed
	Skipped int // records dropped by the allow-list
}

// Load reads the whole export into memory, keeping only rows whose Indicator
// is accepted by allow. Unlisted indicators are skipped silently.
func Load(ctx context.Context, src io.ReadCloser, opt config.Options, allow func(string) bool) (*dataset.Table, LoadStats, error) {
	var stats LoadStats
	t := &dataset.Table{}

	err := StreamRows(ctx, src, opt,
		func(l Layout) { t.Dimensions = l.Dimensions },
		func(r *dataset.Row) error {
			stats.Read++
			if !allow(r.Indicator) {
				stats.Skipped++
				return nil
			}
			stats.Kept++
			t.Rows = append(t.Rows, r)
			return nil
		},
	)
	if err != nil {
		return nil, stats, err
	}
	return t, stats, nil
}
