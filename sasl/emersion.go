package sasl

import (
	"context"

	gosasl "github.com/emersion/go-sasl"
)

// EmersionFactory adapts github.com/emersion/go-sasl's PLAIN and
// EXTERNAL client implementations to Factory/Mechanism. It performs no
// authentication logic of its own: go-sasl computes the actual exchange
// bytes, this type only reshapes its Start/Next calls into the
// single-shot Authenticate contract the engine expects.
type EmersionFactory struct {
	// Identity/Username/Password configure PLAIN, which Supported offers
	// whenever Username is set. This factory does not check whether the
	// transport is encrypted or whether insecure PLAIN is allowed.
	Identity string
	Username string
	Password string

	// ExternalAuthzID configures EXTERNAL's optional authorization
	// identity.
	ExternalAuthzID string

	// Disabled lists mechanism names this factory should not offer even
	// if otherwise configured.
	Disabled map[string]bool
}

func (f *EmersionFactory) Supported() []string {
	var out []string
	if !f.Disabled["PLAIN"] && f.Username != "" {
		out = append(out, "PLAIN")
	}
	if !f.Disabled["EXTERNAL"] {
		out = append(out, "EXTERNAL")
	}
	return out
}

func (f *EmersionFactory) Create(name string) (Mechanism, error) {
	switch name {
	case "PLAIN":
		return &emersionMechanism{
			name:   "PLAIN",
			client: gosasl.NewPlainClient(f.Identity, f.Username, f.Password),
		}, nil
	case "EXTERNAL":
		return &emersionMechanism{
			name:   "EXTERNAL",
			client: gosasl.NewExternalClient(f.ExternalAuthzID),
		}, nil
	default:
		return nil, errUnsupportedMechanism(name)
	}
}

type unsupportedMechanismError string

func (e unsupportedMechanismError) Error() string { return "sasl: unsupported mechanism: " + string(e) }

func errUnsupportedMechanism(name string) error { return unsupportedMechanismError(name) }

// emersionMechanism wraps a gosasl.Client as a single-shot Mechanism.
// Neither PLAIN nor EXTERNAL (as go-sasl implements them) use channel
// binding, so SupportsChannelBinding and SetChannelBinding both report
// false, and the engine sends no binding data to them.
type emersionMechanism struct {
	name    string
	client  gosasl.Client
	started bool
}

func (m *emersionMechanism) Name() string { return m.name }
func (m *emersionMechanism) SupportsChannelBinding() bool { return false }
func (m *emersionMechanism) SetChannelBinding(ChannelBindingKind, []byte) bool { return false }

func (m *emersionMechanism) Authenticate(ctx context.Context, serverData []byte) (bool, []byte, error) {
	if !m.started {
		m.started = true
		_, ir, err := m.client.Start()
		if err != nil {
			return false, nil, err
		}
		if len(serverData) == 0 {
			return true, ir, nil
		}
	}
	resp, err := m.client.Next(serverData)
	if err != nil {
		return false, nil, err
	}
	return true, resp, nil
}

func (m *emersionMechanism) Dispose() {}
