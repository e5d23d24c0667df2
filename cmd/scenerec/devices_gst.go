//go:build gst

package main

import "github.com/tiroq/scenerec/pkg/audio"

func newGstDevice(format audio.Format) (audio.Device, error) {
	return audio.NewGstDevice(format), nil
}
