package szse

import (
	"github.com/pointline-dev/pointline/ingest"
	"github.com/pointline-dev/pointline/internal/colfile"
	"github.com/pointline-dev/pointline/schema"
)

func init() {
	ingest.RegisterVenueValidator("szse", "l3_order_events", func() ingest.VenueValidator {
		return &sequenceValidator{lastSeq: map[int64]int64{}, lastTs: map[int64]int64{}}
	})
}

// sequenceValidator enforces SZSE's per-channel ApplSeqNum continuity
// and TransactTime monotonicity across one file's rows. It carries
// state across Check calls within one IngestFile
// invocation, unlike the stateless schema.ValidationRule checks.
type sequenceValidator struct {
	lastSeq map[int64]int64
	lastTs  map[int64]int64
}

func (v *sequenceValidator) Check(spec *schema.TableSpec, cells []colfile.Cell) string {
	channelNo := cellInt64(spec, cells, "channel_no")
	applSeqNum := cellInt64(spec, cells, "appl_seq_num")
	tsUs := cellInt64(spec, cells, "ts_event_us")

	if last, ok := v.lastSeq[channelNo]; ok && applSeqNum != last+1 {
		return "szse_sequence_gap"
	}
	if last, ok := v.lastTs[channelNo]; ok && tsUs < last {
		return "szse_timestamp_regression"
	}
	// The cursor advances only on a passing row: a rejected row never
	// becomes the baseline later rows are checked against, so every
	// out-of-sequence row in a burst is rejected, not just the first.
	v.lastSeq[channelNo] = applSeqNum
	v.lastTs[channelNo] = tsUs
	return ""
}

func cellInt64(spec *schema.TableSpec, cells []colfile.Cell, col string) int64 {
	idx := spec.ColumnIndex(col)
	if idx < 0 || cells[idx].Null {
		return 0
	}
	return cells[idx].Int64
}
