package tcp

import (
	"testing"

	"github.com/tinyrange/tcpstack/internal/reassembly"
	"github.com/tinyrange/tcpstack/internal/seqnum"
	"github.com/tinyrange/tcpstack/internal/stream"
)

func TestReceiverDropsSegmentsBeforeSYN(t *testing.T) {
	s := stream.New(64)
	w := s.Writer()
	re := reassembly.New()
	rc := NewReceiver()

	rc.Receive(SenderMessage{Seqno: seqnum.Value(5), Payload: []byte("x")}, re, w)
	if w.BytesPushed() != 0 {
		t.Fatal("data before SYN must be dropped")
	}

	ack := rc.Send(w)
	if ack.Ackno != nil {
		t.Fatal("ackno must be absent before ISN is known")
	}
}

func TestReceiverSynAndDataInOrder(t *testing.T) {
	s := stream.New(64)
	w := s.Writer()
	re := reassembly.New()
	rc := NewReceiver()

	isn := seqnum.Value(1000)
	rc.Receive(SenderMessage{Seqno: isn, SYN: true, Payload: []byte("hi")}, re, w)

	if got := string(s.Reader().PeekAll()); got != "hi" {
		t.Fatalf("buffered = %q, want %q", got, "hi")
	}

	ack := rc.Send(w)
	if ack.Ackno == nil {
		t.Fatal("expected an ackno once ISN is known")
	}
	wantAck := seqnum.Wrap(3, isn) // SYN(1) + "hi"(2)
	if *ack.Ackno != wantAck {
		t.Fatalf("ackno = %v, want %v", *ack.Ackno, wantAck)
	}
}

func TestReceiverFinRequiresFullDrainToAckPastIt(t *testing.T) {
	s := stream.New(64)
	w := s.Writer()
	re := reassembly.New()
	rc := NewReceiver()

	isn := seqnum.Value(0)
	rc.Receive(SenderMessage{Seqno: isn, SYN: true, Payload: []byte("ok"), FIN: true}, re, w)

	if !s.Reader().IsClosed() {
		t.Fatal("expected writer closed once FIN's bytes are fully delivered")
	}

	ack := rc.Send(w)
	wantAck := seqnum.Wrap(4, isn) // SYN + "ok" + FIN
	if *ack.Ackno != wantAck {
		t.Fatalf("ackno = %v, want %v", *ack.Ackno, wantAck)
	}
}
