package rpcerr

import "testing"

func TestErrorMessages(t *testing.T) {
	id := uint16(42)
	cases := []struct {
		name string
		err  *Error
		want string
	}{
		{"io", IoError("disk full"), "rpc: IoError: disk full"},
		{"execution", ExecutionError("boom"), "rpc: execution error: boom"},
		{"canceled with id", Canceled(&id), "rpc: call 42 canceled"},
		{"canceled without id", Canceled(nil), "rpc: canceled"},
		{"timeout with id", Timeout(&id), "rpc: call 42 timed out"},
		{"service not found", ServiceNotFound("Foo"), "rpc: ServiceNotFound: Foo"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.err.Error(); got != tc.want {
				t.Errorf("Error() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestIs(t *testing.T) {
	err := MethodNotFound("Bar")
	if !Is(err, KindMethodNotFound) {
		t.Errorf("Is(err, KindMethodNotFound) = false, want true")
	}
	if Is(err, KindTimeout) {
		t.Errorf("Is(err, KindTimeout) = true, want false")
	}
	if Is(ParseError("x"), KindMethodNotFound) {
		t.Errorf("Is unrelated kind should be false")
	}
}
