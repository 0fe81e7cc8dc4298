// Package echoprint binds the native echoprint-codegen library.
//
// Building requires cgo and libcodegen (with its headers under
// echoprint/) on the compiler and linker search paths.
package echoprint

import "errors"

var (
	// ErrUnavailable is returned by New when the binary was built without cgo
	ErrUnavailable = errors.New("echoprint codegen unavailable: built without cgo")

	// ErrCodegen is returned when the native library fails on a buffer
	ErrCodegen = errors.New("echoprint codegen failed")
)
