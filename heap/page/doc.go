// Package page supplies whole, naturally aligned pages to the allocator.
//
// # Overview
//
// A Provider hands out runs of contiguous pages of a fixed power-of-two size
// and takes them back again. It also maintains the page descriptor table:
// for any address inside a page it has handed out, Lookup returns that
// page's Descriptor in O(1) (address masking plus a map keyed by page
// number).
//
// # Implementations
//
// Arena: pages backed by Go memory, with a synthetic aligned address space.
//
//   - Portable, used by tests and by default
//   - Optional page limit (MaxPages) to model memory pressure
//   - Retains a bounded number of released single pages for reuse
//
// Mmap: pages backed by anonymous private OS mappings (unix only)
//
//   - Natural alignment by over-mapping one extra page and trimming
//   - Released runs are unmapped immediately
//
// # Descriptor ownership
//
// The provider owns Base, Node and the run layout. The Owner slot belongs to
// whoever acquired the run: the provider clears it on Acquire and never reads
// it afterwards.
//
// # Thread Safety
//
// Providers are safe for concurrent use.
package page
