// Package wasmtest holds hand-assembled Wasm binaries used by tests of the
// wazero-backed native module.
package wasmtest

// MemoryOnly exports a single one-page memory named "memory" and nothing
// else. A module without allocator exports is served by a host-managed heap.
var MemoryOnly = []byte{
	0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00, 0x05, 0x03, 0x01, 0x00,
	0x01, 0x07, 0x0a, 0x01, 0x06, 0x6d, 0x65, 0x6d, 0x6f, 0x72, 0x79, 0x02,
	0x00,
}

// Status exports "memory" plus three functions returning packed status
// words:
//
//	fail() -> i64                status code FailCode, value 0
//	error_message(i32) -> i64    packed (ptr=16, len=4) pointing at "boom"
//	answer() -> i64              status 0, value 42
var Status = []byte{
	0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00, 0x01, 0x0a, 0x02, 0x60,
	0x00, 0x01, 0x7e, 0x60, 0x01, 0x7f, 0x01, 0x7e, 0x03, 0x04, 0x03, 0x00,
	0x01, 0x00, 0x05, 0x03, 0x01, 0x00, 0x01, 0x07, 0x2a, 0x04, 0x06, 0x6d,
	0x65, 0x6d, 0x6f, 0x72, 0x79, 0x02, 0x00, 0x04, 0x66, 0x61, 0x69, 0x6c,
	0x00, 0x00, 0x0d, 0x65, 0x72, 0x72, 0x6f, 0x72, 0x5f, 0x6d, 0x65, 0x73,
	0x73, 0x61, 0x67, 0x65, 0x00, 0x01, 0x06, 0x61, 0x6e, 0x73, 0x77, 0x65,
	0x72, 0x00, 0x02, 0x0a, 0x19, 0x03, 0x08, 0x00, 0x42, 0x80, 0x80, 0x80,
	0x80, 0x30, 0x0b, 0x09, 0x00, 0x42, 0x84, 0x80, 0x80, 0x80, 0x80, 0x02,
	0x0b, 0x04, 0x00, 0x42, 0x2a, 0x0b, 0x0b, 0x0a, 0x01, 0x00, 0x41, 0x10,
	0x0b, 0x04, 0x62, 0x6f, 0x6f, 0x6d,
}

// FailCode is the status code returned by Status's "fail" export.
const FailCode = 3

// FailMessage is the diagnostic Status's "error_message" export returns.
const FailMessage = "boom"

// Bump exports "memory" and a guest allocator:
//
//	malloc(i32) -> i32   bump pointer from BumpBase, 8-byte aligned; 0 once
//	                     the request would pass the end of memory
//	free(i32)            no-op
//	load_u8(i32) -> i64  status 0, value the byte at the pointer
var Bump = []byte{
	0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00, 0x01, 0x0f, 0x03, 0x60,
	0x01, 0x7f, 0x01, 0x7f, 0x60, 0x01, 0x7f, 0x00, 0x60, 0x01, 0x7f, 0x01,
	0x7e, 0x03, 0x04, 0x03, 0x00, 0x01, 0x02, 0x05, 0x03, 0x01, 0x00, 0x01,
	0x06, 0x07, 0x01, 0x7f, 0x01, 0x41, 0x80, 0x08, 0x0b, 0x07, 0x24, 0x04,
	0x06, 0x6d, 0x65, 0x6d, 0x6f, 0x72, 0x79, 0x02, 0x00, 0x06, 0x6d, 0x61,
	0x6c, 0x6c, 0x6f, 0x63, 0x00, 0x00, 0x04, 0x66, 0x72, 0x65, 0x65, 0x00,
	0x01, 0x07, 0x6c, 0x6f, 0x61, 0x64, 0x5f, 0x75, 0x38, 0x00, 0x02, 0x0a,
	0x31, 0x03, 0x23, 0x01, 0x01, 0x7f, 0x23, 0x00, 0x20, 0x00, 0x41, 0x07,
	0x6a, 0x41, 0x78, 0x71, 0x6a, 0x22, 0x01, 0x3f, 0x00, 0x41, 0x10, 0x74,
	0x4b, 0x04, 0x7f, 0x41, 0x00, 0x05, 0x23, 0x00, 0x20, 0x01, 0x24, 0x00,
	0x0b, 0x0b, 0x02, 0x00, 0x0b, 0x08, 0x00, 0x20, 0x00, 0x2d, 0x00, 0x00,
	0xad, 0x0b,
}

// BumpBase is the first pointer Bump's "malloc" hands out.
const BumpBase = 1024

// VoidAllocator exports "memory" plus malloc(i32) and free(i32), neither
// returning a value.
var VoidAllocator = []byte{
	0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00, 0x01, 0x05, 0x01, 0x60,
	0x01, 0x7f, 0x00, 0x03, 0x03, 0x02, 0x00, 0x00, 0x05, 0x03, 0x01, 0x00,
	0x01, 0x07, 0x1a, 0x03, 0x06, 0x6d, 0x65, 0x6d, 0x6f, 0x72, 0x79, 0x02,
	0x00, 0x06, 0x6d, 0x61, 0x6c, 0x6c, 0x6f, 0x63, 0x00, 0x00, 0x04, 0x66,
	0x72, 0x65, 0x65, 0x00, 0x01, 0x0a, 0x07, 0x02, 0x02, 0x00, 0x0b, 0x02,
	0x00, 0x0b,
}
