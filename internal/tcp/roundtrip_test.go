package tcp

import (
	"testing"

	"github.com/tinyrange/tcpstack/internal/reassembly"
	"github.com/tinyrange/tcpstack/internal/seqnum"
	"github.com/tinyrange/tcpstack/internal/stream"
)

// TestSenderReceiverRoundTrip is scenario 8 of spec.md §8: a sender
// streaming N bytes through a lossless in-order channel to a receiver
// delivers exactly N bytes in order, closing iff the outbound stream closed.
func TestSenderReceiverRoundTrip(t *testing.T) {
	const payload = "the quick brown fox jumps over the lazy dog"

	out := stream.New(4096)
	outW, outR := out.Writer(), out.Reader()
	outW.Push([]byte(payload))
	outW.Close()

	in := stream.New(4096)
	inW := in.Writer()

	snd := NewSender(seqnum.Value(42), 1000)
	rcv := NewReceiver()
	re := reassembly.New()

	for i := 0; i < 1000; i++ {
		snd.Push(outR)
		msg, ok := snd.MaybeSend()
		if !ok {
			break
		}
		rcv.Receive(msg, re, inW)
		ack := rcv.Send(inW)
		snd.Receive(ack)
	}

	inR := in.Reader()
	if got := string(inR.PeekAll()); got != payload {
		t.Fatalf("delivered = %q, want %q", got, payload)
	}
	inR.Pop(inR.BytesBuffered())
	if !inR.IsFinished() {
		t.Fatal("expected inbound stream finished once all bytes are popped and FIN delivered")
	}
}
