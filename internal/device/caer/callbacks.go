//go:build libcaer && cgo

package caer

import "C"

import (
	"runtime/cgo"
	"unsafe"
)

//export eventcamShutdownNotify
func eventcamShutdownNotify(ptr unsafe.Pointer) {
	if h, ok := cgo.Handle(uintptr(ptr)).Value().(*handle); ok {
		h.shutdownNotify()
	}
}

//export eventcamDataNotify
func eventcamDataNotify(ptr unsafe.Pointer) {
	if h, ok := cgo.Handle(uintptr(ptr)).Value().(*handle); ok {
		h.dataNotify()
	}
}
