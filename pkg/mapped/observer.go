package mapped

// Observer receives lifecycle events of a [File].
//
// Events are emitted on the cold path only (region map/unmap, file growth,
// lost installation races). Implementations must be safe for concurrent use
// and should not block.
type Observer interface {
	// RegionMapped is called after region index was mapped.
	RegionMapped(index int)

	// RegionUnmapped is called after region index was unmapped.
	RegionUnmapped(index int)

	// FileGrown is called after the file was extended to length bytes.
	FileGrown(length int64)

	// ReservationRetried is called when a freshly mapped region lost the
	// race to install itself into its slot and was discarded.
	ReservationRetried(index int)
}

// NopObserver is an [Observer] that ignores all events.
type NopObserver struct{}

func (NopObserver) RegionMapped(int)       {}
func (NopObserver) RegionUnmapped(int)     {}
func (NopObserver) FileGrown(int64)        {}
func (NopObserver) ReservationRetried(int) {}

var _ Observer = NopObserver{}
