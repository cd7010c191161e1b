package ingest

import (
	"github.com/pointline-dev/pointline/internal/colfile"
	"github.com/pointline-dev/pointline/schema"
)

// VenueValidator applies a venue-specific row check that can't be
// expressed as a stateless schema.ValidationRule -- one that needs to
// see earlier rows in the same file, such as SZSE's per-channel
// sequence continuity. Check returns the failed rule's name, or "" if
// the row passes.
type VenueValidator interface {
	Check(spec *schema.TableSpec, cells []colfile.Cell) string
}

type venueValidatorKey struct {
	Vendor   string
	DataType string
}

var venueValidators = map[venueValidatorKey]func() VenueValidator{}

// RegisterVenueValidator installs a constructor for (vendor, data_type),
// called from the vendor subpackage's init() mirroring parser.Register's
// static registry style. A fresh VenueValidator is built once per
// IngestFile call so per-channel state never leaks across files.
func RegisterVenueValidator(vendor, dataType string, newValidator func() VenueValidator) {
	venueValidators[venueValidatorKey{Vendor: vendor, DataType: dataType}] = newValidator
}

func venueValidatorFor(vendor, dataType string) (VenueValidator, bool) {
	ctor, ok := venueValidators[venueValidatorKey{Vendor: vendor, DataType: dataType}]
	if !ok {
		return nil, false
	}
	return ctor(), true
}
