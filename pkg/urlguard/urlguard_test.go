package urlguard

import (
	"context"
	"net"
	"testing"
)

func TestValidateRejectsLoopback(t *testing.T) {
	if err := Validate(context.Background(), "http://127.0.0.1/erp"); err == nil {
		t.Fatal("expected loopback to be rejected")
	}
}

func TestValidateRejectsPrivateIPv4(t *testing.T) {
	if err := Validate(context.Background(), "http://10.0.0.1/erp"); err == nil {
		t.Fatal("expected RFC1918 address to be rejected")
	}
}

func TestValidateRejectsIPv6Loopback(t *testing.T) {
	if err := Validate(context.Background(), "http://[::1]/erp"); err == nil {
		t.Fatal("expected ::1 to be rejected")
	}
}

func TestValidateRejectsLinkLocal(t *testing.T) {
	if err := Validate(context.Background(), "http://169.254.169.254/latest/meta-data"); err == nil {
		t.Fatal("expected link-local metadata address to be rejected")
	}
}

func TestValidateRejectsDotLocalSuffix(t *testing.T) {
	if err := Validate(context.Background(), "http://erp.local/"); err == nil {
		t.Fatal("expected .local hostname to be rejected")
	}
}

func TestValidateRejectsUnsupportedScheme(t *testing.T) {
	if err := Validate(context.Background(), "ftp://example.com/"); err == nil {
		t.Fatal("expected non-HTTP(S) scheme to be rejected")
	}
}

func TestValidateRejectsMalformedURL(t *testing.T) {
	if err := Validate(context.Background(), "://not a url"); err == nil {
		t.Fatal("expected malformed url to error")
	}
}

func TestIsUniqueLocalDetectsFC00Range(t *testing.T) {
	cases := map[string]bool{
		"fc00::1": true,
		"fd12::1": true,
		"2001:db8::1": false,
	}
	for addr, want := range cases {
		ip := net.ParseIP(addr)
		if ip == nil {
			t.Fatalf("failed to parse %s", addr)
		}
		if got := isUniqueLocal(ip); got != want {
			t.Errorf("isUniqueLocal(%s) = %v, want %v", addr, got, want)
		}
	}
}
