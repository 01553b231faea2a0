// Package framebus provides the bounded mailbox that links pipeline stages.
//
// Core Philosophy: "Drop frames, never queue. Latency > Completeness."
//
// A Mailbox is a fixed-capacity queue whose producers never wait. When it is
// full, the DropOldest policy evicts the stored item (the consumer always sees
// the freshest data) while DropNewest refuses the incoming one. Every item that
// leaves the mailbox without reaching a consumer goes through the dispose hook,
// so pooled buffers and tracker images are released exactly once.
//
// # Basic Usage
//
//	mb := framebus.New[*Pair](1, func(p *Pair) { p.Release() })
//	defer mb.Close()
//
//	// Producer (capture callback): never blocks
//	mb.TryPublish(pair)
//
//	// Consumer (stage worker): bounded wait so the run flag is re-checked
//	for ctx.Err() == nil {
//	    pair, ok := mb.PollContext(ctx, 300*time.Millisecond)
//	    if !ok {
//	        continue
//	    }
//	    process(pair)
//	}
//
// # Ownership
//
//   - TryPublish transfers ownership to the mailbox (even when it returns false,
//     in which case the item has already been disposed)
//   - Poll/TryPoll/Drain transfer ownership to the caller
//   - Purge and Close dispose everything still stored
//
// # Thread Safety
//
// All methods are safe for concurrent use. Publishers are serialized by a
// mutex; consumers receive from a buffered channel and never take that mutex.
package framebus
