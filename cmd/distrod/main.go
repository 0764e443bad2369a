//go:build linux

package main

import (
	"distrod/internal/multifork"
)

func main() {
	multifork.Dispatch()
	Execute()
}
