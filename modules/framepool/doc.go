// Package framepool recycles fixed-size frame buffers per channel.
//
// Core Philosophy: "Allocate once per resolution, not once per frame."
//
// A Pool keeps up to MaxPerChannel idle buffers for each channel (color, depth).
// Buffers are keyed by capacity: when a stage asks for a capacity different from
// the one the pool remembers for that channel (the sensor resolution changed),
// every idle buffer of that channel is discarded and the new capacity becomes
// the reference. Buffers of the old capacity that are recycled later are simply
// dropped.
//
// Usage:
//
//	pool := framepool.New(framepool.Config{})
//
//	buf := pool.Acquire(framepool.Color, 640*480*3)
//	buf.CopyFrom(sdkBytes)
//	// ... hand buf to the next stage ...
//	pool.Recycle(buf)
//
// Ownership:
//
// A Buffer belongs to the pool while idle and to exactly one stage after
// Acquire. It must be recycled exactly once; a second Recycle of the same
// buffer is ignored. The pool is an explicit dependency passed to each stage,
// never a process-wide singleton.
package framepool
