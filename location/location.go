// Package location maps geographic coordinates onto the 32-bit location
// codes the ledger keys its statistics by.
package location

import (
	"github.com/golang/geo/s2"

	"foodsafety/models"
)

// CodeFromLatLng derives a stable 32-bit location code from coordinates: the
// high 32 bits of the s2 leaf cell id, which corresponds to a cell of
// roughly a square kilometer. Nearby points share a code.
func CodeFromLatLng(lat, lng float64) (uint32, error) {
	ll := s2.LatLngFromDegrees(lat, lng)
	if !ll.IsValid() {
		return 0, models.NewValidationError("latitude/longitude out of range")
	}
	cell := s2.CellIDFromLatLng(ll)
	return uint32(uint64(cell) >> 32), nil
}
