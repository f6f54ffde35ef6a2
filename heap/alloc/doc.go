// Package alloc implements a low-overhead block allocator that carves
// variable-sized blocks out of whole pages.
//
// # Overview
//
// Pages come from a page.Provider. Inside each page the free space is kept
// as an address-ordered singly-linked list of free blocks whose headers live
// in the free memory itself, so the only per-page metadata is a small record
// hung off the provider's page descriptor.
//
// Pages that have some free space sit on one of three bucket lists chosen by
// the size of the request that put them there:
//
//	small:  requests <  256 bytes
//	medium: requests < 1024 bytes
//	large:  everything else below the page size
//
// A page's bucket never changes while it stays partially free.
//
// # Allocator
//
// Allocator is the block allocator:
//
//   - Allocate(size, align, node): first-fit page, first-fit block, split in
//     place, optional alignment prefix carved off as its own free block
//   - Deallocate(ptr, size): address-ordered insert with merging of both
//     neighbours; a page whose blocks are all free goes straight back to
//     the provider
//
// # Heap
//
// Heap is the sized-request front end. It stores the request size in an
// 8-byte header in front of each block so Free and SizeOf need only the
// pointer. Requests that do not fit below the page size are served as whole
// page runs straight from the provider.
//
//	h := alloc.NewHeap(a)
//	p, err := h.Alloc(100)
//	if err != nil {
//	    return err
//	}
//	copy(h.Bytes(p, 100), payload)
//	h.Free(p)
//
// # Thread Safety
//
// Allocator and Heap are safe for concurrent use. A single mutex guards the
// bucket lists and every in-page free list; it is never held across a call
// into the page provider. Two callers that both miss may each take a fresh
// page. Both pages stay tracked and are reused, so the race only costs
// memory, never correctness.
//
// # Misuse
//
// Freeing a pointer twice, freeing with the wrong size, or writing past an
// allocation corrupts the free lists. None of this is detected.
package alloc
