//go:build windows

package main

import "os"

var visibilitySignals []os.Signal
