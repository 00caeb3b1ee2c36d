package portalloc

import (
	"net"
	"testing"
)

func TestAllocateUDPPortReturnsUsablePort(t *testing.T) {
	port, err := AllocateUDPPort("127.0.0.1")
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if port <= 0 || port > 65535 {
		t.Fatalf("unexpected port: %d", port)
	}
}

func TestAllocateUDPPortIsReusableAfterRelease(t *testing.T) {
	port, err := AllocateUDPPort("127.0.0.1")
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}

	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: port})
	if err != nil {
		t.Fatalf("expected released port %d to be bindable again: %v", port, err)
	}
	conn.Close()
}

func TestAllocateUDPPortRejectsInvalidHost(t *testing.T) {
	if _, err := AllocateUDPPort("not-an-ip"); err == nil {
		t.Fatal("expected error for invalid host")
	}
}
