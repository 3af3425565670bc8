package mailbox

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestSendAndRecv(t *testing.T) {
	mb := New(1)
	addr := mb.Address()

	if err := addr.Send("hello"); err != nil {
		t.Fatalf("Send() error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	msg, ok := mb.Recv(ctx)
	if !ok {
		t.Fatal("Recv() ok = false, want true")
	}
	if msg != "hello" {
		t.Fatalf("Recv() = %v, want %q", msg, "hello")
	}
}

func TestRecvUnblocksOnContextCancel(t *testing.T) {
	mb := New(0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, ok := mb.Recv(ctx); ok {
		t.Fatal("Recv() ok = true after context cancel, want false")
	}
}

func TestSendAfterTerminateFails(t *testing.T) {
	mb := New(1)
	mb.Terminate(errors.New("shutdown"))

	if err := mb.Address().Send("late"); !errors.Is(err, ErrClosed) {
		t.Fatalf("Send() after Terminate = %v, want ErrClosed", err)
	}
}

func TestSendToZeroAddressFails(t *testing.T) {
	var addr Address
	if !addr.IsZero() {
		t.Fatal("zero Address reports IsZero() = false")
	}
	if err := addr.Send("x"); !errors.Is(err, ErrClosed) {
		t.Fatalf("Send() on zero Address = %v, want ErrClosed", err)
	}
}

func TestMonitorDeliversDownOnTerminate(t *testing.T) {
	target := New(1)
	watcher := New(1)

	ref := target.Address().Monitor(watcher.Address())

	reason := errors.New("boom")
	target.Terminate(reason)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	msg, ok := watcher.Recv(ctx)
	if !ok {
		t.Fatal("watcher never received a Down")
	}
	down, ok := msg.(Down)
	if !ok {
		t.Fatalf("watcher received %T, want Down", msg)
	}
	if down.Ref != ref {
		t.Fatalf("Down.Ref = %v, want %v", down.Ref, ref)
	}
	if !errors.Is(down.Reason, reason) && down.Reason.Error() != reason.Error() {
		t.Fatalf("Down.Reason = %v, want %v", down.Reason, reason)
	}
}

func TestMonitorOnAlreadyTerminatedTargetFiresImmediately(t *testing.T) {
	target := New(1)
	target.Terminate(errors.New("gone before monitor"))

	watcher := New(1)
	target.Address().Monitor(watcher.Address())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if _, ok := watcher.Recv(ctx); !ok {
		t.Fatal("watcher never received the noproc Down")
	}
}

func TestDemonitorSuppressesDown(t *testing.T) {
	target := New(1)
	watcher := New(1)

	ref := target.Address().Monitor(watcher.Address())
	target.Address().Demonitor(ref)
	target.Terminate(errors.New("shutdown"))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if _, ok := watcher.Recv(ctx); ok {
		t.Fatal("watcher received a Down after Demonitor")
	}
}

func TestCallRoundTrip(t *testing.T) {
	server := New(1)

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		msg, ok := server.Recv(ctx)
		if !ok {
			return
		}
		req, ok := msg.(CallRequest)
		if !ok {
			return
		}
		req.Reply <- "pong"
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	reply, err := Call(ctx, server.Address(), "ping")
	if err != nil {
		t.Fatalf("Call() error: %v", err)
	}
	if reply != "pong" {
		t.Fatalf("Call() = %v, want %q", reply, "pong")
	}
}

func TestCallTimesOutWhenNoReply(t *testing.T) {
	server := New(1)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := Call(ctx, server.Address(), "ping"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Call() error = %v, want context.DeadlineExceeded", err)
	}
}
