// Package portaudio connects the speech adapters to the host's default audio
// devices through PortAudio: Capture feeds microphone audio to recognition,
// Player plays synthesized PCM, and Authorizer reports whether an input
// device can be opened at all.
package portaudio

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
)

var (
	initMu   sync.Mutex
	initRefs int
)

// acquire initializes PortAudio on first use. Every successful acquire must
// be paired with release.
func acquire() error {
	initMu.Lock()
	defer initMu.Unlock()
	if initRefs == 0 {
		if err := portaudio.Initialize(); err != nil {
			return fmt.Errorf("portaudio: initialize: %w", err)
		}
	}
	initRefs++
	return nil
}

func release() {
	initMu.Lock()
	defer initMu.Unlock()
	if initRefs == 0 {
		return
	}
	initRefs--
	if initRefs == 0 {
		_ = portaudio.Terminate()
	}
}

// errNoDevice is returned when the host has no default device of the
// requested direction.
var errNoDevice = errors.New("portaudio: no default device")
