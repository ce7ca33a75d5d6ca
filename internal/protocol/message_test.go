package protocol

import "testing"

func TestSplitServiceMethod(t *testing.T) {
	cases := []struct {
		in          string
		wantService string
		wantMethod  string
		wantOK      bool
	}{
		{"Echo.Say", "Echo", "Say", true},
		{"pkg.v2.Echo.Say", "pkg.v2.Echo", "Say", true},
		{"NoDot", "", "", false},
		{".Say", "", "", false},
		{"Echo.", "", "", false},
		{"", "", "", false},
	}
	for _, tc := range cases {
		service, method, ok := SplitServiceMethod(tc.in)
		if ok != tc.wantOK || service != tc.wantService || method != tc.wantMethod {
			t.Errorf("SplitServiceMethod(%q) = (%q, %q, %v), want (%q, %q, %v)",
				tc.in, service, method, ok, tc.wantService, tc.wantMethod, tc.wantOK)
		}
	}
}

func TestHeaderKindString(t *testing.T) {
	if KindRequest.String() != "Request" {
		t.Errorf("KindRequest.String() = %q", KindRequest.String())
	}
	if HeaderKind(99).String() != "Unknown" {
		t.Errorf("unknown kind should stringify to Unknown")
	}
}
