package alsa

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDirectionString(t *testing.T) {
	assert.Equal(t, "capture", Capture.String())
	assert.Equal(t, "playback", Playback.String())
}

func TestExecProberFailsForBogusDevice(t *testing.T) {
	// Whether or not arecord is installed, probing a nonexistent BlueALSA
	// endpoint must come back as an error within the timeout.
	p := ExecProber{Timeout: 2 * time.Second}
	start := time.Now()
	err := p.Available(context.Background(), "bluealsa:DEV=00:00:00:00:00:00,PROFILE=a2dp", Capture)
	assert.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
}
