package protocol

import "testing"

func TestParseHost(t *testing.T) {
	req, err := Parse("host\n")
	if err != nil {
		t.Fatal(err)
	}
	if req.Kind != KindHost {
		t.Fatalf("Kind = %v, want KindHost", req.Kind)
	}
}

func TestParseLoad(t *testing.T) {
	req, err := Parse("load 10.0.0.1 0.1 0.2 0.3")
	if err != nil {
		t.Fatal(err)
	}
	if req.Kind != KindLoad || req.IP.String() != "10.0.0.1" {
		t.Fatalf("got %+v", req)
	}
	if req.Ld1 != 0.1 || req.Ld5 != 0.2 || req.Ld10 != 0.3 {
		t.Fatalf("got %+v", req)
	}
}

func TestParseStatusIgnoresTrailingFields(t *testing.T) {
	req, err := Parse("status 10.0.0.1 up n 4 p 2")
	if err != nil {
		t.Fatal(err)
	}
	if req.Kind != KindStatusUp || req.IP.String() != "10.0.0.1" {
		t.Fatalf("got %+v", req)
	}
}

func TestParseStatusDown(t *testing.T) {
	req, err := Parse("status 10.0.0.1 down")
	if err != nil {
		t.Fatal(err)
	}
	if req.Kind != KindStatusDown {
		t.Fatalf("got %+v", req)
	}
}

func TestParseMonitor(t *testing.T) {
	req, err := Parse("monitor")
	if err != nil {
		t.Fatal(err)
	}
	if req.Kind != KindMonitor {
		t.Fatalf("got %+v", req)
	}
}

func TestParseUnknownVerb(t *testing.T) {
	if _, err := Parse("frobnicate"); err == nil {
		t.Fatal("expected error for unknown verb")
	}
}

func TestParseMalformedLoad(t *testing.T) {
	cases := []string{
		"load 10.0.0.1 0.1 0.2",
		"load not-an-ip 0.1 0.2 0.3",
		"load 10.0.0.1 x 0.2 0.3",
	}
	for _, c := range cases {
		if _, err := Parse(c); err == nil {
			t.Errorf("Parse(%q) = nil error, want error", c)
		}
	}
}

func TestParseStatusBadVerb(t *testing.T) {
	if _, err := Parse("status 10.0.0.1 sideways"); err == nil {
		t.Fatal("expected error for invalid up/down verb")
	}
}

func TestParseEmptyLine(t *testing.T) {
	if _, err := Parse(""); err == nil {
		t.Fatal("expected error for empty line")
	}
}
