package latest

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRecvReturnsNewestValue(t *testing.T) {
	c := New[int]()

	c.Send(10)
	c.Send(11)
	c.Send(12)

	v, err := c.Recv(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 12 {
		t.Errorf("value: got %d, want 12", v)
	}

	st := c.Stats()
	if st.Sent != 3 || st.Superseded != 2 {
		t.Errorf("stats: got %+v, want Sent=3 Superseded=2", st)
	}

	if _, err := c.RecvTimeout(context.Background(), time.Millisecond); !errors.Is(err, ErrTimeout) {
		t.Errorf("channel should be empty after Recv, got %v", err)
	}
}

func TestRecvBlocksUntilSend(t *testing.T) {
	c := New[int]()

	got := make(chan int, 1)
	go func() {
		v, err := c.Recv(context.Background())
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		got <- v
	}()

	select {
	case v := <-got:
		t.Fatalf("Recv returned %d before any Send", v)
	case <-time.After(20 * time.Millisecond):
	}

	c.Send(7)

	select {
	case v := <-got:
		if v != 7 {
			t.Errorf("value: got %d, want 7", v)
		}
	case <-time.After(time.Second):
		t.Fatal("Recv did not return after Send")
	}
}

func TestRecvClosedWhileBlocked(t *testing.T) {
	c := New[int]()

	errCh := make(chan error, 1)
	go func() {
		_, err := c.Recv(context.Background())
		errCh <- err
	}()

	time.Sleep(10 * time.Millisecond)
	c.Close()

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrClosed) {
			t.Errorf("expected ErrClosed, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Recv hung after Close")
	}
}

func TestValueSentBeforeCloseIsDelivered(t *testing.T) {
	c := New[int]()

	c.Send(42)
	c.Close()
	c.Close() // idempotent

	v, err := c.Recv(context.Background())
	if err != nil || v != 42 {
		t.Fatalf("expected 42, nil; got %d, %v", v, err)
	}

	if _, err := c.Recv(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed after draining, got %v", err)
	}
}

func TestSendAfterCloseIgnored(t *testing.T) {
	c := New[int]()
	c.Close()
	c.Send(1)

	if _, err := c.Recv(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("send after close should be dropped, got %v", err)
	}
	if c.Stats().Sent != 0 {
		t.Errorf("sent: got %d, want 0", c.Stats().Sent)
	}
}

func TestRecvContextCancelled(t *testing.T) {
	c := New[int]()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if _, err := c.Recv(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected DeadlineExceeded, got %v", err)
	}
}

func TestRecvTimeout(t *testing.T) {
	c := New[string]()

	if _, err := c.RecvTimeout(context.Background(), 5*time.Millisecond); !errors.Is(err, ErrTimeout) {
		t.Errorf("expected ErrTimeout, got %v", err)
	}

	c.Send("vol")
	v, err := c.RecvTimeout(context.Background(), time.Second)
	if err != nil || v != "vol" {
		t.Errorf("expected vol, nil; got %q, %v", v, err)
	}
}

func TestConsumerNeverSeesStaleValue(t *testing.T) {
	c := New[int]()

	const n = 10000
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 1; i <= n; i++ {
			c.Send(i)
		}
		c.Close()
	}()

	last := 0
	for {
		v, err := c.Recv(context.Background())
		if errors.Is(err, ErrClosed) {
			break
		}
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if v <= last {
			t.Fatalf("received %d after %d", v, last)
		}
		last = v
	}
	<-done

	if last != n {
		t.Errorf("final value: got %d, want %d", last, n)
	}
}
