// Package protocol
// Author: momentics <momentics@gmail.com>
//
// Implements the length-prefixed message framing spoken between transport peers.
//
// A frame on the wire is:
//
//	MAGIC(4) | totalLength(8) | typeNameLength(8) | typeName | payloadLength(8) | payload
//
// All integers use host byte order; both ends are assumed to share it.
// totalLength counts every byte of the frame including the magic. A batch
// is simply frames written back to back, each carrying its own real length.
//
// Decoding is incremental and stateless: undecided bytes stay in the
// caller's buffer until a later call can complete the frame.
package protocol
