//go:build cgo

// Package cabi exports a stable C ABI over zseek's Decoder, per
// spec.md §4.4: an opaque handle, value-returning accessors, and a
// thread-local last-error string. It is built only with cgo enabled,
// since the rest of the module has no C dependency.
//
// Handles are runtime/cgo.Handle values: the one stdlib primitive built
// exactly for passing a Go value across a cgo boundary as an opaque,
// GC-safe token. last_error() is thread-local because a cgo export call
// runs with its calling goroutine locked to its OS thread for the
// call's duration, so keying the error slot by pthread_self() gives
// each concurrent C caller an independent error string, matching
// spec.md §5's thread-safety requirement for the ABI.
package cabi

/*
#include <pthread.h>
#include <stdint.h>
#include <stdlib.h>
*/
import "C"

import (
	"io"
	"os"
	"runtime/cgo"
	"sync"
	"unsafe"

	"github.com/klauspost/compress/zstd"

	"github.com/katabyte/zseek"
)

var (
	lastErrMu sync.Mutex
	lastErr   = map[C.pthread_t]*C.char{}
)

func setLastError(msg string) {
	lastErrMu.Lock()
	defer lastErrMu.Unlock()
	tid := C.pthread_self()
	if old, ok := lastErr[tid]; ok {
		C.free(unsafe.Pointer(old))
	}
	lastErr[tid] = C.CString(msg)
}

func clearLastError() {
	setLastError("")
}

// zseek_last_error returns the calling thread's most recent error
// string. zseek_open, zseek_read_range and zseek_read_ranges reset the
// slot to "" on entry and free the string held before, so a returned
// pointer stays valid only until the next such call on the same thread,
// whether that call fails or succeeds.
//
//export zseek_last_error
func zseek_last_error() *C.char {
	lastErrMu.Lock()
	defer lastErrMu.Unlock()
	tid := C.pthread_self()
	if s, ok := lastErr[tid]; ok {
		return s
	}
	return C.CString("")
}

// handleState is the Go value behind every opaque handle: a Decoder
// plus the concrete resources (zstd decompressor, file) it borrows,
// guarded by a mutex because spec.md allows a single handle to be
// reused sequentially but not concurrently.
type handleState struct {
	mu   sync.Mutex
	dec  zseek.Decoder
	zdec *zstd.Decoder
	f    *os.File
}

// zseek_open opens path, parses its seek table, and returns an opaque
// handle on success or 0 (NULL) on failure (consult zseek_last_error).
//
//export zseek_open
func zseek_open(pathCstr *C.char) C.uintptr_t {
	clearLastError()

	path := C.GoString(pathCstr)
	f, err := os.Open(path)
	if err != nil {
		setLastError(err.Error())
		return 0
	}

	zdec, err := zstd.NewReader(nil)
	if err != nil {
		f.Close()
		setLastError(err.Error())
		return 0
	}

	dec, err := zseek.NewDecoder(f, zdec)
	if err != nil {
		zdec.Close()
		f.Close()
		setLastError(err.Error())
		return 0
	}

	hs := &handleState{dec: dec, zdec: zdec, f: f}
	return C.uintptr_t(cgo.NewHandle(hs))
}

// zseek_size returns the handle's total decompressed size; undefined
// for a NULL/invalid handle.
//
//export zseek_size
func zseek_size(handle C.uintptr_t) C.uint64_t {
	hs, ok := lookup(handle)
	if !ok {
		return 0
	}
	hs.mu.Lock()
	defer hs.mu.Unlock()
	return C.uint64_t(hs.dec.Size())
}

// zseek_frame_count returns the handle's number of data frames.
//
//export zseek_frame_count
func zseek_frame_count(handle C.uintptr_t) C.uint64_t {
	hs, ok := lookup(handle)
	if !ok {
		return 0
	}
	hs.mu.Lock()
	defer hs.mu.Unlock()
	return C.uint64_t(hs.dec.NumFrames())
}

// zseek_read_range copies decompressed[start:end) into outPtr, whose
// capacity is read from *inOutLen on entry and overwritten with the
// actual number of bytes written on return. Returns 0 on success,
// negative on failure; never writes past the original capacity.
//
//export zseek_read_range
func zseek_read_range(handle C.uintptr_t, start, end C.uint64_t, outPtr *C.uint8_t, inOutLen *C.uintptr_t) C.int32_t {
	clearLastError()

	hs, ok := lookup(handle)
	if !ok {
		setLastError("invalid handle")
		return -1
	}

	out := byteSlice(outPtr, uintptr(*inOutLen))

	hs.mu.Lock()
	n, err := hs.dec.ReadRange(int64(start), int64(end), out)
	hs.mu.Unlock()
	if err != nil {
		setLastError(err.Error())
		return -1
	}

	*inOutLen = C.uintptr_t(n)
	return 0
}

// zseek_read_ranges is the bulk form of zseek_read_range: count ranges,
// each with caller-preallocated outBuffers[i]/inOutLengths[i]. On
// success every inOutLengths[i] equals ends[i]-starts[i]; on the first
// failure the call returns negative without touching later entries,
// per spec.md's all-or-nothing read_ranges contract.
//
//export zseek_read_ranges
func zseek_read_ranges(handle C.uintptr_t, starts, ends *C.uint64_t, count C.uintptr_t, outBuffers **C.uint8_t, inOutLengths *C.uintptr_t) C.int32_t {
	clearLastError()

	hs, ok := lookup(handle)
	if !ok {
		setLastError("invalid handle")
		return -1
	}

	n := int(count)
	startsSlice := uint64Slice(starts, n)
	endsSlice := uint64Slice(ends, n)
	buffersSlice := ptrSlice(outBuffers, n)
	lengthsSlice := uintptrSlice(inOutLengths, n)

	hs.mu.Lock()
	defer hs.mu.Unlock()

	for i := 0; i < n; i++ {
		out := byteSlice(buffersSlice[i], uintptr(lengthsSlice[i]))
		written, err := hs.dec.ReadRange(int64(startsSlice[i]), int64(endsSlice[i]), out)
		if err != nil {
			setLastError(err.Error())
			return -1
		}
		lengthsSlice[i] = C.uintptr_t(written)
	}
	return 0
}

// zseek_close releases handle's resources and invalidates it. A NULL
// handle, or a second close of an already-closed handle, is a no-op.
//
//export zseek_close
func zseek_close(handle C.uintptr_t) {
	v, ok := lookup(handle)
	if !ok {
		return
	}
	cgo.Handle(handle).Delete()

	v.mu.Lock()
	defer v.mu.Unlock()
	if closer, ok := v.dec.(io.Closer); ok {
		_ = closer.Close()
	}
	v.zdec.Close()
	_ = v.f.Close()
}

// lookup resolves handle to its handleState, or false if handle is 0 or
// was already invalidated by a prior zseek_close.
func lookup(handle C.uintptr_t) (hs *handleState, ok bool) {
	if handle == 0 {
		return nil, false
	}
	defer func() {
		if recover() != nil {
			hs, ok = nil, false
		}
	}()
	h := cgo.Handle(handle)
	hs, ok = h.Value().(*handleState)
	return hs, ok
}

func byteSlice(p *C.uint8_t, n uintptr) []byte {
	if p == nil || n == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(p)), int(n))
}

func uint64Slice(p *C.uint64_t, n int) []uint64 {
	if p == nil || n == 0 {
		return nil
	}
	return unsafe.Slice((*uint64)(unsafe.Pointer(p)), n)
}

func ptrSlice(p **C.uint8_t, n int) []*C.uint8_t {
	if p == nil || n == 0 {
		return nil
	}
	return unsafe.Slice(p, n)
}

func uintptrSlice(p *C.uintptr_t, n int) []C.uintptr_t {
	if p == nil || n == 0 {
		return nil
	}
	return unsafe.Slice(p, n)
}
