// Package marshal moves text and byte buffers across the module boundary.
//
// Module to host: Decode reads a (ptr, len) UTF-8 range and fails with
// InvalidEncoding on malformed input instead of substituting U+FFFD.
//
// Host to module: Encode allocates with the module's allocator and writes
// the text, returning the span. Go strings are UTF-8 already, so their
// byte length is exact and one allocation suffices. UTF-16 host text goes
// through EncodeUTF16, which copies the ASCII prefix byte for byte, grows
// the allocation to three bytes per remaining code unit on the first
// non-ASCII unit, transcodes the rest in place and shrinks to the written
// size. Without a reallocator the whole text is transcoded up front and
// allocated exactly.
//
// Input is validated before anything is allocated. If a step fails after
// allocation the block is freed and nothing is reported as written.
package marshal
