//go:build cgo

package echoprint

/*
#cgo CXXFLAGS: -std=c++11
#cgo LDFLAGS: -lcodegen -lstdc++ -lz
#include <stdlib.h>
#include "shim.h"
*/
import "C"

import (
	"sync"
	"unsafe"
)

// Codec generates Echoprint codes. Calls are serialised.
type Codec struct {
	mu     sync.Mutex
	offset int
}

// New returns a Codec with a zero start offset
func New() (*Codec, error) {
	return &Codec{}, nil
}

// Generate implements codegen.Codec
func (c *Codec) Generate(samples []float32) (string, error) {
	if len(samples) == 0 {
		return "", nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	cs := C.echoid_codegen((*C.float)(unsafe.Pointer(&samples[0])), C.uint(len(samples)), C.int(c.offset))
	if cs == nil {
		return "", ErrCodegen
	}
	defer C.free(unsafe.Pointer(cs))

	return C.GoString(cs), nil
}
