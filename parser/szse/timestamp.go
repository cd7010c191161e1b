package szse

import (
	"fmt"
	"time"

	"github.com/pointline-dev/pointline/internal/venuezone"
)

// parseCSTTimestamp parses SZSE's vendor timestamp format
// YYYYMMDDHHMMSSmmm (17 digits, milliseconds resolution, local
// Asia/Shanghai time) into UTC microseconds since epoch.
func parseCSTTimestamp(raw string) (int64, error) {
	if len(raw) != 17 {
		return 0, fmt.Errorf("expected 17-digit YYYYMMDDHHMMSSmmm, got %q", raw)
	}
	loc, err := venuezone.Lookup("szse")
	if err != nil {
		return 0, err
	}
	t, err := time.ParseInLocation("20060102150405.000", raw[:14]+"."+raw[14:], loc)
	if err != nil {
		return 0, err
	}
	return t.UTC().UnixMicro(), nil
}
