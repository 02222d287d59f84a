package control

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"testing"
	"time"
)

// testConn starts a session over one end of an in-memory pipe and
// hands the test the other end plus a line reader for commands the
// session writes.
func testConn(t *testing.T, opts Options) (*Session, net.Conn, *bufio.Reader) {
	t.Helper()
	client, server := net.Pipe()
	s := NewSession(client, opts)
	t.Cleanup(func() {
		_ = server.Close()
		_ = s.Close()
	})
	return s, server, bufio.NewReader(server)
}

func writeGreeting(t *testing.T, server net.Conn) {
	t.Helper()
	if _, err := io.WriteString(server, "%begin 1700000000 0 0\n%end 1700000000 0 0\n"); err != nil {
		t.Fatalf("write greeting: %v", err)
	}
}

func waitState(t *testing.T, s *Session, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("state = %v, want %v", s.State(), want)
}

func nextNotification(t *testing.T, s *Session) Notification {
	t.Helper()
	select {
	case n, ok := <-s.Notifications():
		if !ok {
			t.Fatal("notification channel closed")
		}
		return n
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for notification")
	}
	return nil
}

func TestSessionGreetingMovesToReady(t *testing.T) {
	s, server, _ := testConn(t, Options{})
	if got := s.State(); got != StateConnecting {
		t.Fatalf("initial state = %v, want connecting", got)
	}
	writeGreeting(t, server)
	waitState(t, s, StateReady)
}

func TestSessionSendReply(t *testing.T) {
	s, server, lines := testConn(t, Options{})
	writeGreeting(t, server)
	waitState(t, s, StateReady)

	go func() {
		line, err := lines.ReadString('\n')
		if err != nil {
			return
		}
		if line != "list-sessions\n" {
			_, _ = io.WriteString(server, "%begin 1 1 1\nunexpected\n%error 1 1 1\n")
			return
		}
		_, _ = io.WriteString(server, "%begin 1 1 1\nmain: 2 windows\nother: 1 windows\n%end 1 1 1\n")
	}()

	reply, err := s.Send(context.Background(), "list-sessions")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(reply.Lines) != 2 || reply.Lines[0] != "main: 2 windows" {
		t.Errorf("reply = %v", reply.Lines)
	}
}

func TestSessionSendErrorReply(t *testing.T) {
	s, server, lines := testConn(t, Options{})
	writeGreeting(t, server)
	waitState(t, s, StateReady)

	go func() {
		_, _ = lines.ReadString('\n')
		_, _ = io.WriteString(server, "%begin 1 1 1\nunknown command\n%error 1 1 1\n")
	}()

	_, err := s.Send(context.Background(), "frobnicate")
	if !errors.Is(err, ErrCommandFailed) {
		t.Errorf("err = %v, want ErrCommandFailed", err)
	}
}

func TestSessionSendFIFO(t *testing.T) {
	s, server, lines := testConn(t, Options{})
	writeGreeting(t, server)
	waitState(t, s, StateReady)

	// Echo each command back in its own reply block, in order.
	go func() {
		for i := 0; ; i++ {
			line, err := lines.ReadString('\n')
			if err != nil {
				return
			}
			_, _ = fmt.Fprintf(server, "%%begin 1 %d 1\necho %s%%end 1 %d 1\n", i+1, line, i+1)
		}
	}()

	for _, cmd := range []string{"first", "second", "third"} {
		reply, err := s.Send(context.Background(), cmd)
		if err != nil {
			t.Fatalf("send %q: %v", cmd, err)
		}
		if want := "echo " + cmd; len(reply.Lines) != 1 || reply.Lines[0] != want {
			t.Errorf("reply = %v, want %q", reply.Lines, want)
		}
	}
}

func TestSessionConcurrentSendsStayMatched(t *testing.T) {
	s, server, lines := testConn(t, Options{})
	writeGreeting(t, server)
	waitState(t, s, StateReady)

	// Echo each command back in its own reply block, in wire order.
	// Every Send must get the reply for its own command even when the
	// senders race.
	go func() {
		for i := 0; ; i++ {
			line, err := lines.ReadString('\n')
			if err != nil {
				return
			}
			_, _ = fmt.Fprintf(server, "%%begin 1 %d 1\necho %s%%end 1 %d 1\n", i+1, line, i+1)
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			cmd := fmt.Sprintf("job-%d", i)
			reply, err := s.Send(context.Background(), cmd)
			if err != nil {
				t.Errorf("send %q: %v", cmd, err)
				return
			}
			if want := "echo " + cmd; len(reply.Lines) != 1 || reply.Lines[0] != want {
				t.Errorf("reply for %q = %v, want %q", cmd, reply.Lines, want)
			}
		}(i)
	}
	wg.Wait()
}

func TestSessionSendTimeout(t *testing.T) {
	s, server, lines := testConn(t, Options{ReplyTimeout: 50 * time.Millisecond})
	writeGreeting(t, server)
	waitState(t, s, StateReady)

	go func() { _, _ = lines.ReadString('\n') }()

	_, err := s.Send(context.Background(), "never-answered")
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("err = %v, want ErrTimeout", err)
	}
}

func TestSessionRepeatedTimeoutsErrorOut(t *testing.T) {
	s, server, lines := testConn(t, Options{ReplyTimeout: 20 * time.Millisecond})
	writeGreeting(t, server)
	waitState(t, s, StateReady)

	go func() {
		for {
			if _, err := lines.ReadString('\n'); err != nil {
				return
			}
		}
	}()

	for i := 0; i < maxConsecutiveTimeouts; i++ {
		if _, err := s.Send(context.Background(), "silence"); !errors.Is(err, ErrTimeout) {
			t.Fatalf("send %d: %v", i, err)
		}
	}
	if _, err := s.Send(context.Background(), "after"); !errors.Is(err, ErrDisconnected) {
		t.Errorf("err after repeated timeouts = %v, want ErrDisconnected", err)
	}
}

func TestSessionSendCancelled(t *testing.T) {
	s, server, lines := testConn(t, Options{})
	writeGreeting(t, server)
	waitState(t, s, StateReady)

	go func() { _, _ = lines.ReadString('\n') }()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err := s.Send(ctx, "slow")
	if !errors.Is(err, ErrCancelled) {
		t.Errorf("err = %v, want ErrCancelled", err)
	}
}

func TestSessionEndWithoutBeginAbortsHeadOnly(t *testing.T) {
	s, server, lines := testConn(t, Options{})
	writeGreeting(t, server)
	waitState(t, s, StateReady)

	go func() {
		_, _ = lines.ReadString('\n')
		_, _ = io.WriteString(server, "%end 1 9 1\n")
	}()

	_, err := s.Send(context.Background(), "victim")
	if !errors.Is(err, ErrProtocol) {
		t.Fatalf("err = %v, want ErrProtocol", err)
	}

	// The session itself keeps running.
	go func() {
		_, _ = lines.ReadString('\n')
		_, _ = io.WriteString(server, "%begin 1 10 1\nok\n%end 1 10 1\n")
	}()
	reply, err := s.Send(context.Background(), "survivor")
	if err != nil {
		t.Fatalf("send after protocol error: %v", err)
	}
	if len(reply.Lines) != 1 || reply.Lines[0] != "ok" {
		t.Errorf("reply = %v", reply.Lines)
	}
}

func TestSessionNotificationsInOrder(t *testing.T) {
	s, server, _ := testConn(t, Options{})
	writeGreeting(t, server)

	_, _ = io.WriteString(server, "%window-add @1\n%output %1 one\n%output %1 two\n")

	if n := nextNotification(t, s); n != (WindowAdd{Window: 1}) {
		t.Fatalf("first = %#v", n)
	}
	if n := nextNotification(t, s).(Output); string(n.Data) != "one" {
		t.Fatalf("second = %#v", n)
	}
	if n := nextNotification(t, s).(Output); string(n.Data) != "two" {
		t.Fatalf("third = %#v", n)
	}
}

func TestSessionPauseHoldsNotifications(t *testing.T) {
	s, server, _ := testConn(t, Options{})
	writeGreeting(t, server)

	_, _ = io.WriteString(server, "%pause %1\n")
	if n := nextNotification(t, s); n != (Pause{Pane: 1}) {
		t.Fatalf("expected pause, got %#v", n)
	}

	for i := 1; i <= 5; i++ {
		_, _ = fmt.Fprintf(server, "%%output %%1 chunk%d\n", i)
	}

	// Nothing may reach the consumer while paused.
	select {
	case n := <-s.Notifications():
		t.Fatalf("notification delivered while paused: %#v", n)
	case <-time.After(100 * time.Millisecond):
	}

	_, _ = io.WriteString(server, "%continue %1\n")

	for i := 1; i <= 5; i++ {
		n, ok := nextNotification(t, s).(Output)
		if !ok {
			t.Fatalf("expected output, got %#v", n)
		}
		if want := fmt.Sprintf("chunk%d", i); string(n.Data) != want {
			t.Errorf("chunk %d = %q, want %q", i, n.Data, want)
		}
	}
	if n := nextNotification(t, s); n != (Continue{Pane: 1}) {
		t.Errorf("expected continue last, got %#v", n)
	}
}

func TestSessionEOFDeliversExitAndCancelsPending(t *testing.T) {
	s, server, lines := testConn(t, Options{})
	writeGreeting(t, server)
	waitState(t, s, StateReady)

	errCh := make(chan error, 1)
	go func() {
		_, err := s.Send(context.Background(), "doomed")
		errCh <- err
	}()
	if _, err := lines.ReadString('\n'); err != nil {
		t.Fatalf("read command: %v", err)
	}

	_ = server.Close()

	if n := nextNotification(t, s); n != (Exit{}) {
		t.Fatalf("expected exit, got %#v", n)
	}
	if _, ok := <-s.Notifications(); ok {
		t.Error("channel should close after exit")
	}
	if err := <-errCh; !errors.Is(err, ErrCancelled) {
		t.Errorf("pending command err = %v, want ErrCancelled", err)
	}
	waitState(t, s, StateExited)
}

func TestSessionExplicitExit(t *testing.T) {
	s, server, _ := testConn(t, Options{})
	writeGreeting(t, server)

	_, _ = io.WriteString(server, "%exit detached\n")
	if n := nextNotification(t, s); n != (Exit{Reason: "detached"}) {
		t.Fatalf("expected exit, got %#v", n)
	}
	waitState(t, s, StateExited)
}
