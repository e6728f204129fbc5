// Package registry keeps the registered vendor adapters and dispatches
// contract operations to them by name.
package registry

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"vendorhub/internal/logger"
	"vendorhub/internal/vendor"
)

// Call carries the arguments of a dispatched operation. Fields an operation
// does not use are ignored.
type Call struct {
	Symbol   string       `json:"symbol"`
	Interval string       `json:"interval"`
	Period   string       `json:"period"`
	Order    vendor.Order `json:"order"`
}

// MethodNotFoundError is returned by Dispatch for an unknown vendor id, an
// unknown operation, or an operation the vendor did not declare.
type MethodNotFoundError struct {
	ID        string
	Operation string
	Reason    string
}

func (e *MethodNotFoundError) Error() string {
	return fmt.Sprintf("method %s not available for vendor %s: %s", e.Operation, e.ID, e.Reason)
}

func (e *MethodNotFoundError) Unwrap() error { return vendor.ErrMethodNotFound }

type registered struct {
	adapter vendor.Adapter
	caps    vendor.Capabilities
}

// Registry holds one adapter per vendor id. Ids are case-sensitive.
type Registry struct {
	log *logger.Entry

	mu      sync.RWMutex
	vendors map[string]registered
	order   []string
}

func New(log *logger.Log) *Registry {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Registry{
		log:     log.WithComponent("registry"),
		vendors: make(map[string]registered),
	}
}

// Register stores adapter under id together with a snapshot of its
// capabilities. Invalid adapters and duplicate ids are logged and rejected.
func (r *Registry) Register(id string, adapter vendor.Adapter) bool {
	if err := validate(id, adapter); err != nil {
		r.log.WithError(err).WithField("vendor", id).Error("failed to register vendor")
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.vendors[id]; dup {
		r.log.WithField("vendor", id).Error("failed to register vendor: id already registered")
		return false
	}
	caps := adapter.Capabilities()
	r.vendors[id] = registered{adapter: adapter, caps: caps}
	r.order = append(r.order, id)

	r.log.WithFields(logger.Fields{"vendor": id, "name": adapter.Name(), "capabilities": caps}).Info("vendor registered")
	return true
}

func validate(id string, adapter vendor.Adapter) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: empty vendor id", vendor.ErrInvalidAdapter)
	}
	if isNil(adapter) {
		return fmt.Errorf("%w: nil adapter for %s", vendor.ErrInvalidAdapter, id)
	}
	if strings.TrimSpace(adapter.Name()) == "" {
		return fmt.Errorf("%w: adapter for %s has no name", vendor.ErrInvalidAdapter, id)
	}
	return nil
}

// isNil also catches a nil pointer held in a non-nil interface.
func isNil(adapter vendor.Adapter) bool {
	if adapter == nil {
		return true
	}
	v := reflect.ValueOf(adapter)
	switch v.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan, reflect.Interface:
		return v.IsNil()
	}
	return false
}

func (r *Registry) Get(id string) (vendor.Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.vendors[id]
	return v.adapter, ok
}

// CapabilitiesOf returns the snapshot taken at registration, all false for
// unknown ids.
func (r *Registry) CapabilitiesOf(id string) vendor.Capabilities {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.vendors[id].caps
}

// IDs lists every vendor id in registration order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// IDsWithCapability lists vendors declaring flag, in registration order.
func (r *Registry) IDsWithCapability(flag vendor.Capability) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.order))
	for _, id := range r.order {
		if r.vendors[id].caps.Has(flag) {
			out = append(out, id)
		}
	}
	return out
}

// Dispatch runs the named operation on vendor id and returns the adapter's
// result untouched.
func (r *Registry) Dispatch(ctx context.Context, id, operation string, call Call) (any, error) {
	r.mu.RLock()
	v, ok := r.vendors[id]
	r.mu.RUnlock()
	if !ok {
		return nil, r.notFound(id, operation, "unknown vendor")
	}
	op, ok := vendor.ParseOperation(operation)
	if !ok {
		return nil, r.notFound(id, operation, "unknown operation")
	}
	if need := op.Requires(); !v.caps.Has(need) {
		return nil, r.notFound(id, operation, fmt.Sprintf("capability %s not declared", need))
	}

	a := v.adapter
	switch op {
	case vendor.OpConnect:
		return a.Connect(ctx)
	case vendor.OpDisconnect:
		a.Disconnect()
		return nil, nil
	case vendor.OpGetMarketData:
		return a.MarketData(ctx, call.Symbol, call.Interval)
	case vendor.OpGetHistoricalData:
		return a.HistoricalData(ctx, call.Symbol, call.Interval, call.Period)
	case vendor.OpPlaceOrder:
		return a.PlaceOrder(ctx, call.Order)
	case vendor.OpGetPortfolio:
		return a.Portfolio(ctx)
	case vendor.OpGetAnalytics:
		return a.Analytics(ctx, call.Symbol)
	}
	return nil, r.notFound(id, operation, "unknown operation")
}

func (r *Registry) notFound(id, operation, reason string) error {
	err := &MethodNotFoundError{ID: id, Operation: operation, Reason: reason}
	r.log.WithError(err).WithFields(logger.Fields{"vendor": id, "operation": operation}).Warn("dispatch rejected")
	return err
}
