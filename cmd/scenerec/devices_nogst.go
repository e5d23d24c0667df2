//go:build !gst

package main

import (
	"errors"

	"github.com/tiroq/scenerec/pkg/audio"
)

func newGstDevice(audio.Format) (audio.Device, error) {
	return nil, errors.New("gst audio device requires a build with -tags gst")
}
