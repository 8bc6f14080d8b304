// Package memory provides cached views over a module's linear memory.
//
// A View holds on to the byte slice returned by the underlying
// hostbridge.Memory and re-fetches it whenever the backing buffer identity
// changes, which happens when the module grows its memory. Callers should
// not keep the slices returned by Bytes across a call that can allocate.
//
// Structured reads and writes of return records go through Words, which
// decodes little-endian 32- and 64-bit values at aligned offsets.
//
// Every range check returns an OutOfBounds error from the errors package;
// views never clamp.
package memory
