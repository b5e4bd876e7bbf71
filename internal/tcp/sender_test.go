package tcp

import (
	"testing"

	"github.com/tinyrange/tcpstack/internal/seqnum"
	"github.com/tinyrange/tcpstack/internal/stream"
)

// Scenario 5 from spec.md §8: window 4, no SYN sent yet, "hello" buffered.
func TestSenderWindowFourFirstSegment(t *testing.T) {
	s := stream.New(64)
	w, r := s.Writer(), s.Reader()
	w.Push([]byte("hello"))

	snd := NewSender(seqnum.Value(0), 1000)
	snd.curWindow = 4

	snd.Push(r)

	if got := snd.SequenceNumbersInFlight(); got != 4 {
		t.Fatalf("sequence numbers in flight = %d, want 4", got)
	}

	msg, ok := snd.MaybeSend()
	if !ok {
		t.Fatal("expected a segment to send")
	}
	if !msg.SYN {
		t.Fatal("expected first segment to carry SYN")
	}
	if string(msg.Payload) != "hel" {
		t.Fatalf("payload = %q, want %q", msg.Payload, "hel")
	}

	ackno := seqnum.Value(4)
	snd.Receive(ReceiverMessage{Ackno: &ackno, WindowSize: 4})
	if got := snd.SequenceNumbersInFlight(); got != 0 {
		t.Fatalf("in flight after full ack = %d, want 0", got)
	}

	snd.Push(r)
	msg2, ok := snd.MaybeSend()
	if !ok {
		t.Fatal("expected a second segment")
	}
	if msg2.SYN {
		t.Fatal("second segment must not carry SYN again")
	}
	if string(msg2.Payload) != "lo" {
		t.Fatalf("payload = %q, want %q", msg2.Payload, "lo")
	}
}

func TestSenderInFlightNeverExceedsWindow(t *testing.T) {
	s := stream.New(1000)
	w, r := s.Writer(), s.Reader()
	data := make([]byte, 500)
	for i := range data {
		data[i] = byte(i)
	}
	w.Push(data)
	w.Close()

	snd := NewSender(seqnum.Value(100), 1000)
	snd.curWindow = 50

	snd.Push(r)
	if got := snd.SequenceNumbersInFlight(); got > 50 {
		t.Fatalf("in flight = %d, want <= window (50)", got)
	}
}

func TestSenderRetransmitsEarliestOnTimeout(t *testing.T) {
	s := stream.New(1000)
	w, r := s.Writer(), s.Reader()
	w.Push([]byte("abc"))

	snd := NewSender(seqnum.Value(0), 100)
	snd.curWindow = 10
	snd.Push(r)
	if _, ok := snd.MaybeSend(); !ok {
		t.Fatal("expected initial segment")
	}

	if _, ok := snd.MaybeSend(); ok {
		t.Fatal("nothing new to send before timeout")
	}

	snd.Tick(100)
	msg, ok := snd.MaybeSend()
	if !ok {
		t.Fatal("expected retransmission after RTO expiry")
	}
	if !msg.SYN {
		t.Fatal("retransmission should resend the original SYN segment")
	}
	if snd.RetransmissionCount() != 1 {
		t.Fatalf("retransmission count = %d, want 1", snd.RetransmissionCount())
	}
}

func TestSenderZeroWindowSuppressesBackoff(t *testing.T) {
	s := stream.New(1000)
	w, r := s.Writer(), s.Reader()
	w.Push([]byte("abc"))

	snd := NewSender(seqnum.Value(0), 100)
	snd.curWindow = 0 // treated as 1 for probing
	snd.Push(r)
	snd.MaybeSend()

	rtoBefore := snd.timer.rtoMS
	snd.Tick(100)
	if snd.RetransmissionCount() != 0 {
		t.Fatalf("retransmission count = %d, want 0 under zero window", snd.RetransmissionCount())
	}
	if snd.timer.rtoMS != rtoBefore {
		t.Fatal("RTO must not grow while window is zero")
	}
}

func TestSenderAckBeyondHighestOutstandingIgnored(t *testing.T) {
	s := stream.New(1000)
	w, r := s.Writer(), s.Reader()
	w.Push([]byte("ab"))

	snd := NewSender(seqnum.Value(0), 100)
	snd.curWindow = 10
	snd.Push(r)

	before := len(snd.outstanding)
	farAck := seqnum.Value(1000)
	snd.Receive(ReceiverMessage{Ackno: &farAck, WindowSize: 10})
	if len(snd.outstanding) != before {
		t.Fatal("ack beyond highest outstanding end must be ignored")
	}
}
