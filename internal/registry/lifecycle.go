package registry

import (
	"context"

	"vendorhub/internal/logger"
	"vendorhub/internal/vendor"
)

// Info describes a vendor for listings.
type Info struct {
	ID           string              `json:"id"`
	Exists       bool                `json:"exists"`
	Name         string              `json:"name"`
	Connected    bool                `json:"connected"`
	Capabilities vendor.Capabilities `json:"capabilities"`
}

func (r *Registry) Info(id string) Info {
	a, ok := r.Get(id)
	if !ok {
		return Info{ID: id, Name: "Unknown"}
	}
	return Info{
		ID:           id,
		Exists:       true,
		Name:         a.Name(),
		Connected:    a.Connected(),
		Capabilities: r.CapabilitiesOf(id),
	}
}

// ProbeResult reports a connection attempt together with the capabilities
// the adapter reports right now.
type ProbeResult struct {
	Vendor       string              `json:"vendor"`
	Connected    bool                `json:"connected"`
	Error        *vendor.Envelope    `json:"error,omitempty"`
	Capabilities vendor.Capabilities `json:"capabilities"`
}

// Probe connects vendor id and reports the outcome.
func (r *Registry) Probe(ctx context.Context, id string) (ProbeResult, error) {
	a, ok := r.Get(id)
	if !ok {
		return ProbeResult{}, &MethodNotFoundError{ID: id, Operation: string(vendor.OpConnect), Reason: "unknown vendor"}
	}
	connected, err := a.Connect(ctx)
	res := ProbeResult{Vendor: a.Name(), Connected: connected, Capabilities: a.Capabilities()}
	if err != nil {
		env := envelopeOf(a.Name(), vendor.OpConnect, err)
		res.Error = &env
	}
	return res, nil
}

// ConnectAll connects every adapter in registration order and returns the
// ids that failed.
func (r *Registry) ConnectAll(ctx context.Context) []string {
	var failed []string
	for _, id := range r.IDs() {
		a, _ := r.Get(id)
		ok, err := a.Connect(ctx)
		if err != nil || !ok {
			r.log.WithError(err).WithField("vendor", id).Warn("vendor connect failed")
			failed = append(failed, id)
			continue
		}
		r.log.WithField("vendor", id).Info("vendor connected")
	}
	return failed
}

// Close disconnects every adapter.
func (r *Registry) Close() {
	for _, id := range r.IDs() {
		if a, ok := r.Get(id); ok {
			a.Disconnect()
		}
	}
	r.log.WithFields(logger.Fields{"vendors": len(r.IDs())}).Info("vendors disconnected")
}

func envelopeOf(name string, op vendor.Operation, err error) vendor.Envelope {
	if ve, ok := err.(*vendor.Error); ok {
		return ve.Envelope()
	}
	return (&vendor.Error{Vendor: name, Op: op, Err: err}).Envelope()
}
