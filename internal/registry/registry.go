// Package registry implements the reflection-based service/method
// table described in §9's design notes (the net/rpc style suggested
// there): a Service wraps a receiver value, and each exported method
// matching the expected signature becomes a callable Method.
package registry

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"github.com/kartikbazzad/bunrpc/internal/rpcerr"
)

var (
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
)

// Method is one callable entry on a registered service: a handler of
// the shape func(ctx context.Context, args *ArgType) (ReplyType, error).
type Method struct {
	name    string
	method  reflect.Value
	argType reflect.Type // element type, never a pointer
}

// NewArg allocates a fresh zero value of the method's argument type,
// suitable as a decode target.
func (m *Method) NewArg() any {
	return reflect.New(m.argType).Interface()
}

// Call invokes the method with the decoded argument (a pointer to
// argType, as produced by NewArg) and returns the reply value or an
// ExecutionError-shaped error.
func (m *Method) Call(ctx context.Context, arg any) (any, error) {
	argVal := reflect.ValueOf(arg)
	results := m.method.Call([]reflect.Value{reflect.ValueOf(ctx), argVal})
	reply := results[0].Interface()
	errVal := results[1]
	if errVal.IsNil() {
		return reply, nil
	}
	err := errVal.Interface().(error)
	return nil, rpcerr.ExecutionError(err.Error())
}

// Service is a registered receiver and its dispatchable methods.
type Service struct {
	name    string
	rcvr    reflect.Value
	methods map[string]*Method
}

// Registry maps "Service.method" dispatch targets to handlers,
// populated by Register and consulted by the server broker at
// dispatch time (§4.6 step 1-2).
type Registry struct {
	mu       sync.RWMutex
	services map[string]*Service
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{services: make(map[string]*Service)}
}

// Register inspects rcvr's exported methods and registers every one
// matching func(context.Context, *ArgType) (ReplyType, error) under
// name. It returns an error if no such methods are found.
func (r *Registry) Register(name string, rcvr any) error {
	rv := reflect.ValueOf(rcvr)
	rt := rv.Type()

	svc := &Service{name: name, rcvr: rv, methods: make(map[string]*Method)}
	for i := 0; i < rt.NumMethod(); i++ {
		m := rt.Method(i)
		mt := m.Type
		// mt.In(0) is the receiver for a method obtained via reflect.Type.
		if mt.NumIn() != 3 || mt.NumOut() != 2 {
			continue
		}
		if !mt.In(1).Implements(contextType) {
			continue
		}
		argType := mt.In(2)
		if argType.Kind() != reflect.Ptr {
			continue
		}
		if mt.Out(1) != errorType {
			continue
		}
		bound := rv.Method(i)
		svc.methods[m.Name] = &Method{
			name:    m.Name,
			method:  bound,
			argType: argType.Elem(),
		}
	}
	if len(svc.methods) == 0 {
		return rpcerr.InvalidArgument(fmt.Sprintf("service %q exposes no dispatchable methods", name))
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.services[name] = svc
	return nil
}

// Lookup resolves a service name and method name to a callable
// Method. It distinguishes "service not found" from "method not
// found" per §4.6 step 2's error taxonomy.
func (r *Registry) Lookup(service, method string) (*Method, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	svc, ok := r.services[service]
	if !ok {
		return nil, rpcerr.ServiceNotFound(service)
	}
	m, ok := svc.methods[method]
	if !ok {
		return nil, rpcerr.MethodNotFound(method)
	}
	return m, nil
}
