// Package client implements the generic machinery shared by every AV
// service client: SCPD-driven capability discovery, SOAP action dispatch,
// and the GENA subscription lifecycle with LastChange fan-out.
package client

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rosschurchill/upnpav"
	"github.com/rosschurchill/upnpav/gena"
	"github.com/rosschurchill/upnpav/log"
	"github.com/rosschurchill/upnpav/soap"
)

// Traits describes one service kind to the generic base: the service kind
// string, the closed action and variable sets with their wire names, and the
// service-specific UPnP error mapping. A is the service's action enum, V its
// state-variable enum.
type Traits[A comparable, V comparable] struct {
	Kind          upnpav.ServiceType
	ActionNames   map[A]string
	VariableNames map[V]string
	MapError      func(*upnpav.UPnPError) error
}

// Base is the generic service client. Typed clients embed a *Base and add
// their action methods on top.
type Base[A comparable, V comparable] struct {
	traits        Traits[A, V]
	actionsByName map[string]A
	varsByName    map[string]V

	soap   *soap.Client
	events *gena.Server

	mu      sync.RWMutex
	device  upnpav.Device
	service upnpav.Service
	scpd    *SCPD

	handlers  []func(map[V]string)
	intercept func(map[V]string)

	// subMu serialises subscribe/unsubscribe/renew transitions.
	subMu sync.Mutex
	sub   *subscription
}

// NewBase builds a base client from its traits and collaborators. The gena
// server may be nil when eventing is not used.
func NewBase[A comparable, V comparable](traits Traits[A, V], soapClient *soap.Client, events *gena.Server) *Base[A, V] {
	b := &Base[A, V]{
		traits:        traits,
		soap:          soapClient,
		events:        events,
		actionsByName: make(map[string]A, len(traits.ActionNames)),
		varsByName:    make(map[string]V, len(traits.VariableNames)),
	}
	for action, name := range traits.ActionNames {
		b.actionsByName[name] = action
	}
	for variable, name := range traits.VariableNames {
		b.varsByName[name] = variable
	}
	return b
}

// SetDevice binds the client to a device: looks up the service of the
// traits' kind, downloads its SCPD and populates the supported-actions set
// and state-variable table.
func (b *Base[A, V]) SetDevice(ctx context.Context, dev upnpav.Device) error {
	svc, ok := dev.Service(b.traits.Kind)
	if !ok {
		return fmt.Errorf("%w: %s on %s", upnpav.ErrNoSuchService, b.traits.Kind, dev.UDN)
	}

	body, err := b.soap.Get(ctx, svc.SCPDURL)
	if err != nil {
		return fmt.Errorf("failed to fetch SCPD for %s: %w", b.traits.Kind, err)
	}
	scpd, err := ParseSCPD(body)
	if err != nil {
		return err
	}

	b.mu.Lock()
	b.device = dev
	b.service = svc
	b.scpd = scpd
	b.mu.Unlock()

	log.Debug(ctx, "Service client bound", "service", b.traits.Kind,
		"device", dev.FriendlyName, "actions", len(scpd.Actions))
	return nil
}

// Device returns the bound device.
func (b *Base[A, V]) Device() upnpav.Device {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.device
}

// ServiceType returns the kind of service this client drives.
func (b *Base[A, V]) ServiceType() upnpav.ServiceType {
	return b.traits.Kind
}

// ServiceID returns the bound service's identifier string.
func (b *Base[A, V]) ServiceID() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.service.ID
}

// SupportsAction reports whether the action appeared in the parsed SCPD.
func (b *Base[A, V]) SupportsAction(action A) bool {
	name, ok := b.traits.ActionNames[action]
	if !ok {
		return false
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.scpd != nil && b.scpd.Actions[name]
}

// StateVariable returns the SCPD descriptor for the named state variable.
func (b *Base[A, V]) StateVariable(name string) (StateVariable, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.scpd == nil {
		return StateVariable{}, false
	}
	return b.scpd.Variable(name)
}

// ActionName returns the wire name of an action.
func (b *Base[A, V]) ActionName(action A) string {
	return b.traits.ActionNames[action]
}

// ActionFromName is the reverse mapping.
func (b *Base[A, V]) ActionFromName(name string) (A, bool) {
	action, ok := b.actionsByName[name]
	return action, ok
}

// VariableName returns the wire name of a state variable.
func (b *Base[A, V]) VariableName(variable V) string {
	return b.traits.VariableNames[variable]
}

// VariableFromName is the reverse mapping.
func (b *Base[A, V]) VariableFromName(name string) (V, bool) {
	variable, ok := b.varsByName[name]
	return variable, ok
}

// OnEvent registers a handler for decoded LastChange events. Handlers run on
// the subscription's dispatch goroutine, in arrival order.
func (b *Base[A, V]) OnEvent(fn func(map[V]string)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, fn)
}

// SetEventInterceptor installs the typed client's pre-dispatch hook. It runs
// before the registered handlers for every event.
func (b *Base[A, V]) SetEventInterceptor(fn func(map[V]string)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.intercept = fn
}

// ExecuteAction invokes the action with the given arguments and returns the
// inner response document. When the SCPD lists actions, actions absent from
// it fail without contacting the device; an SCPD with an empty action list
// does not restrict calls. SOAP faults come back mapped through the traits'
// error table.
func (b *Base[A, V]) ExecuteAction(ctx context.Context, action A, args ...soap.Argument) ([]byte, error) {
	name, ok := b.traits.ActionNames[action]
	if !ok {
		return nil, fmt.Errorf("%w: unknown action", upnpav.ErrActionNotSupported)
	}

	b.mu.RLock()
	svc := b.service
	scpd := b.scpd
	b.mu.RUnlock()

	if svc.ControlURL == "" {
		return nil, fmt.Errorf("%w: %s", upnpav.ErrNoSuchService, b.traits.Kind)
	}
	if scpd != nil && len(scpd.Actions) > 0 && !scpd.Actions[name] {
		return nil, fmt.Errorf("%w: %s", upnpav.ErrActionNotSupported, name)
	}

	soapAction := soap.NewAction(name, b.traits.Kind.URN(), svc.ControlURL)
	for _, arg := range args {
		soapAction.AddArgument(arg.Name, arg.Value)
	}

	response, err := b.soap.SendAction(ctx, soapAction)
	if err != nil {
		return nil, b.mapError(err)
	}
	return response, nil
}

func (b *Base[A, V]) mapError(err error) error {
	var upnpErr *upnpav.UPnPError
	if errors.As(err, &upnpErr) && b.traits.MapError != nil {
		if mapped := b.traits.MapError(upnpErr); mapped != nil {
			return mapped
		}
	}
	return err
}

// dispatch decodes one NOTIFY body and fans the variable map out.
func (b *Base[A, V]) dispatch(body []byte) {
	_, raw, err := DecodeLastChange(body)
	if err != nil {
		log.Warn("Dropping undecodable event", "service", b.traits.Kind, err)
		return
	}

	variables := make(map[V]string, len(raw))
	for name, value := range raw {
		v, ok := b.varsByName[name]
		if !ok {
			log.Debug("Skipping unknown state variable", "service", b.traits.Kind, "variable", name)
			continue
		}
		variables[v] = value
	}
	if len(variables) == 0 {
		return
	}

	b.mu.RLock()
	intercept := b.intercept
	handlers := append([]func(map[V]string){}, b.handlers...)
	b.mu.RUnlock()

	if intercept != nil {
		intercept(variables)
	}
	for _, fn := range handlers {
		fn(variables)
	}
}
