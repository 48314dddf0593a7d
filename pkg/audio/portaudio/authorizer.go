package portaudio

import (
	"context"
	"errors"
	"sync"

	"github.com/gordonklaus/portaudio"

	"github.com/MrWong99/parley/pkg/provider/stt"
	"github.com/MrWong99/parley/pkg/provider/stt/native"
)

var _ native.Authorizer = (*Authorizer)(nil)

// Authorizer grants recognition when the host exposes a default input
// device. Desktop hosts without a consent prompt have nothing finer to ask.
type Authorizer struct {
	probe func() error

	mu     sync.Mutex
	status stt.AuthorizationStatus
}

// NewAuthorizer returns an Authorizer that has not asked yet.
func NewAuthorizer() *Authorizer {
	return &Authorizer{probe: probeInput, status: stt.NotDetermined}
}

// Request implements native.Authorizer. A missing device yields Restricted;
// a device that fails to enumerate yields Denied.
func (a *Authorizer) Request(ctx context.Context) stt.AuthorizationStatus {
	a.mu.Lock()
	defer a.mu.Unlock()
	if ctx.Err() != nil {
		return a.status
	}
	switch err := a.probe(); {
	case err == nil:
		a.status = stt.Authorized
	case errors.Is(err, errNoDevice):
		a.status = stt.Restricted
	default:
		a.status = stt.Denied
	}
	return a.status
}

// Status implements native.Authorizer.
func (a *Authorizer) Status() stt.AuthorizationStatus {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status
}

func probeInput() error {
	if err := acquire(); err != nil {
		return err
	}
	defer release()
	dev, err := portaudio.DefaultInputDevice()
	if err != nil || dev == nil || dev.MaxInputChannels < 1 {
		return errNoDevice
	}
	return nil
}
