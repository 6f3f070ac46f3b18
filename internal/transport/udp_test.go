package transport

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/pion/rtp"
)

func TestMediaPortReceivesAndReplies(t *testing.T) {
	port, err := NewUDPMediaPort("call-1", nil)
	if err != nil {
		t.Fatalf("NewUDPMediaPort: %v", err)
	}
	defer port.Close()

	var mu sync.Mutex
	var got [][]byte
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	port.Start(ctx, func(callID string, datagram []byte) {
		if callID != "call-1" {
			t.Errorf("callID = %s", callID)
		}
		mu.Lock()
		got = append(got, datagram)
		mu.Unlock()
	})

	// Remote party socket.
	remote, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("remote socket: %v", err)
	}
	defer remote.Close()

	pkt := rtp.Packet{
		Header:  rtp.Header{Version: 2, PayloadType: 0, SequenceNumber: 7, Timestamp: 1120, SSRC: 42},
		Payload: make([]byte, 160),
	}
	data, err := pkt.Marshal()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	target := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port.LocalPort()}
	if _, err := remote.WriteToUDP(data, target); err != nil {
		t.Fatalf("send: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		n := len(got)
		mu.Unlock()
		if n >= 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("inbound datagram never delivered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	// The port learned the remote address from the first packet, so the
	// return path now works.
	if err := port.WritePacket(&pkt); err != nil {
		t.Fatalf("WritePacket: %v", err)
	}
	_ = remote.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 1500)
	n, _, err := remote.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("reply read: %v", err)
	}
	var reply rtp.Packet
	if err := reply.Unmarshal(buf[:n]); err != nil {
		t.Fatalf("reply unmarshal: %v", err)
	}
	if reply.SequenceNumber != 7 || reply.SSRC != 42 {
		t.Errorf("reply header = %+v", reply.Header)
	}
}

func TestWritePacketWithoutRemoteIsDropped(t *testing.T) {
	port, err := NewUDPMediaPort("call-2", nil)
	if err != nil {
		t.Fatalf("NewUDPMediaPort: %v", err)
	}
	defer port.Close()

	pkt := &rtp.Packet{Header: rtp.Header{Version: 2}, Payload: []byte{0xFF}}
	if err := port.WritePacket(pkt); err != nil {
		t.Fatalf("WritePacket before remote known: %v", err)
	}
}
