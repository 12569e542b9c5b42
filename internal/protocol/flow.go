package protocol

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/droidwire/adblink/internal/message"
)

var flowLog = logrus.WithField("component", "protocol.flow")

// State is the handshake position of a Flow, host perspective.
type State int

const (
	StateDisconnected State = iota
	StateConnectSent
	StateAuthTokenReceived
	StateSignatureSent
	StateConnected
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnectSent:
		return "connect-sent"
	case StateAuthTokenReceived:
		return "auth-token-received"
	case StateSignatureSent:
		return "signature-sent"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// KeyProvider supplies the host's RSA key material during authentication.
//
// Sign receives the raw token bytes the device sent and must apply PKCS#1
// v1.5 signing directly, with no re-hashing: the device already hashed the
// token, so running it through a digest again produces a signature the
// device will always reject.
type KeyProvider interface {
	Sign(data []byte) ([]byte, error)
	PublicKeyBytes() ([]byte, error)
}

// Options configures a Flow.
type Options struct {
	// Serial and Banner identify this host in the CNXN identity string.
	Serial string
	Banner string

	// SystemType defaults to host.
	SystemType message.SystemType

	// Keys signs auth tokens. When nil the flow can only connect to
	// unsecured devices.
	Keys KeyProvider

	// SignatureAttempts bounds transition 4→6 loops: how many signatures to
	// send before falling back to the public key. Zero means one attempt.
	SignatureAttempts int
}

func (o Options) systemType() message.SystemType {
	if o.SystemType == "" {
		return message.SystemHost
	}
	return o.SystemType
}

func (o Options) signatureAttempts() int {
	if o.SignatureAttempts <= 0 {
		return 1
	}
	return o.SignatureAttempts
}

// Flow drives the ADB handshake to an authenticated connection, then opens
// and manages logical streams multiplexed over it. It is written against the
// WireProtocol interface only and is transport-agnostic.
//
// A Flow is not safe for concurrent use: it owns the single ordered
// read/write pair of its wire protocol. Multiplexing concurrent streams
// requires an external demultiplexer serializing access.
type Flow struct {
	wire WireProtocol
	opts Options

	state         State
	device        message.Identity
	remoteMaxData uint32

	nextLocalID uint32
	streams     map[uint32]*Stream
}

// NewFlow returns a Flow over the given wire protocol.
func NewFlow(w WireProtocol, opts Options) *Flow {
	return &Flow{
		wire:          w,
		opts:          opts,
		state:         StateDisconnected,
		remoteMaxData: message.MaxData,
		nextLocalID:   1,
		streams:       make(map[uint32]*Stream),
	}
}

// State returns the current handshake state.
func (f *Flow) State() State {
	return f.state
}

// Device returns the identity the device reported in its accepting CNXN.
// Only meaningful once the state is connected.
func (f *Flow) Device() message.Identity {
	return f.device
}

// Connect performs the CNXN/AUTH handshake. On an unsecured device the
// accepting CNXN arrives immediately; otherwise the device sends AUTH
// tokens that are signed via the key provider, with the public key sent as
// a fallback once the configured signature attempts are exhausted. After
// the public key is sent the device prompts its user, so the wait for the
// accepting CNXN is bounded only by ctx.
func (f *Flow) Connect(ctx context.Context) error {
	if f.state == StateConnected {
		return nil
	}

	f.state = StateDisconnected
	if err := f.wire.WriteMessage(ctx, message.ConnectAs(f.opts.systemType(), f.opts.Serial, f.opts.Banner)); err != nil {
		return f.fail(err)
	}
	f.state = StateConnectSent

	signaturesSent := 0
	publicKeySent := false

	for {
		msg, err := f.wire.ReadMessage(ctx)
		if err != nil {
			return f.fail(err)
		}

		switch {
		case msg.IsConnect():
			f.acceptConnect(msg)
			return nil

		case msg.IsAuth() && message.AuthType(msg.Arg0) == message.AuthToken:
			f.state = StateAuthTokenReceived
			if f.opts.Keys == nil {
				return f.fail(ErrAuthRequired)
			}

			switch {
			case signaturesSent < f.opts.signatureAttempts():
				signature, err := f.opts.Keys.Sign(msg.Data)
				if err != nil {
					return f.fail(fmt.Errorf("sign auth token: %w", err))
				}
				if err := f.wire.WriteMessage(ctx, message.AuthSignature(signature)); err != nil {
					return f.fail(err)
				}
				signaturesSent++
				f.state = StateSignatureSent
				flowLog.WithField("attempt", signaturesSent).Debug("sent signature")

			case !publicKeySent:
				publicKey, err := f.opts.Keys.PublicKeyBytes()
				if err != nil {
					return f.fail(fmt.Errorf("load public key: %w", err))
				}
				if err := f.wire.WriteMessage(ctx, message.AuthRSAPublicKey(publicKey)); err != nil {
					return f.fail(err)
				}
				publicKeySent = true
				flowLog.Info("sent public key, waiting for on-device approval")

			default:
				return f.fail(ErrAuthRejected)
			}

		default:
			return f.fail(&InvalidResponseError{State: f.state, Command: msg.Command})
		}
	}
}

// acceptConnect records what the accepting CNXN tells us about the device.
func (f *Flow) acceptConnect(msg message.Message) {
	if identity, err := message.ParseIdentity(msg.Data); err == nil {
		f.device = identity
	} else {
		flowLog.WithError(err).Warn("device sent an unparseable identity string")
	}
	// The device advertises its own payload limit in arg1.
	if msg.Arg1 > 0 && msg.Arg1 < message.MaxData {
		f.remoteMaxData = msg.Arg1
	}
	f.state = StateConnected
	flowLog.WithFields(logrus.Fields{
		"serial":  f.device.Serial,
		"maxdata": f.remoteMaxData,
	}).Debug("handshake complete")
}

// fail transitions to the terminal failed state, wrapping the cause.
func (f *Flow) fail(err error) error {
	f.state = StateFailed
	flowLog.WithError(err).Debug("handshake failed")
	return err
}
