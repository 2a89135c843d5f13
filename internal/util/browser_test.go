package util

import (
	"fmt"
	"net"
	"testing"
)

func TestFindAvailablePort_SkipsBusyPort(t *testing.T) {
	ln, err := net.Listen("tcp", ":0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	busy := ln.Addr().(*net.TCPAddr).Port

	got, err := FindAvailablePort(busy, 5)
	if err != nil {
		t.Fatalf("FindAvailablePort: %v", err)
	}
	if got == busy {
		t.Fatalf("got busy port %d", got)
	}
	check, err := net.Listen("tcp", fmt.Sprintf(":%d", got))
	if err != nil {
		t.Fatalf("port %d not usable: %v", got, err)
	}
	_ = check.Close()
}

func TestFindAvailablePort_AllBusy(t *testing.T) {
	ln, err := net.Listen("tcp", ":0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	busy := ln.Addr().(*net.TCPAddr).Port

	if _, err := FindAvailablePort(busy, 1); err == nil {
		t.Fatalf("expected error for busy port %d", busy)
	}
}
