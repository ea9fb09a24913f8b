// Package all links every sink backend into the binary. Import it for its
// side effects only.
package all

import (
	_ "sdgetl/internal/storage/csvdir"
	_ "sdgetl/internal/storage/sqlite"
)
