package session

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestEnsureGeneratesID(t *testing.T) {
	st := NewStore(time.Hour, 10)
	sess := st.Ensure("")
	if sess.ID() == "" {
		t.Fatalf("expected a generated id")
	}
	if st.Ensure(sess.ID()) != sess {
		t.Fatalf("expected the same session back")
	}
}

func TestExchangeAppendsBothTurns(t *testing.T) {
	st := NewStore(time.Hour, 10)
	sess := st.Ensure("s1")

	reply, err := sess.Exchange("hello", func(history []Turn) (string, error) {
		if len(history) != 1 || history[0].Text != "hello" {
			t.Fatalf("unexpected history inside exchange: %+v", history)
		}
		return "hi there", nil
	})
	if err != nil {
		t.Fatalf("exchange failed: %v", err)
	}
	if reply != "hi there" {
		t.Fatalf("unexpected reply: %q", reply)
	}

	turns := sess.History()
	if len(turns) != 2 {
		t.Fatalf("expected 2 turns, got %d", len(turns))
	}
	if turns[0].Role != "user" || turns[1].Role != "agent" {
		t.Fatalf("unexpected roles: %+v", turns)
	}
}

func TestExchangeFailureKeepsUserTurn(t *testing.T) {
	st := NewStore(time.Hour, 10)
	sess := st.Ensure("s1")

	_, err := sess.Exchange("hello", func(history []Turn) (string, error) {
		return "", errors.New("model down")
	})
	if err == nil {
		t.Fatalf("expected error")
	}
	turns := sess.History()
	if len(turns) != 1 || turns[0].Role != "user" {
		t.Fatalf("expected only the user turn, got %+v", turns)
	}
}

func TestConcurrentExchangesDoNotInterleave(t *testing.T) {
	st := NewStore(time.Hour, 10)
	sess := st.Ensure("s1")

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = sess.Exchange(fmt.Sprintf("msg-%d", i), func(history []Turn) (string, error) {
				return fmt.Sprintf("reply-%d", i), nil
			})
		}(i)
	}
	wg.Wait()

	turns := sess.History()
	if len(turns) != 2*n {
		t.Fatalf("expected %d turns, got %d", 2*n, len(turns))
	}
	for i := 0; i < len(turns); i += 2 {
		if turns[i].Role != "user" || turns[i+1].Role != "agent" {
			t.Fatalf("interleaved turns at %d: %s/%s", i, turns[i].Role, turns[i+1].Role)
		}
		// Each reply must directly follow its own user turn.
		wantReply := "reply-" + turns[i].Text[len("msg-"):]
		if turns[i+1].Text != wantReply {
			t.Fatalf("reply %q does not match user turn %q", turns[i+1].Text, turns[i].Text)
		}
	}
}

func TestTTLEviction(t *testing.T) {
	st := NewStore(10*time.Millisecond, 10)
	sess := st.Ensure("old")
	_ = sess

	time.Sleep(20 * time.Millisecond)
	if got := st.Get("old"); got != nil {
		t.Fatalf("expected expired session to be gone")
	}
	// A fresh Ensure sweeps it from the map entirely.
	st.Ensure("new")
	if st.Len() != 1 {
		t.Fatalf("expected 1 live session, got %d", st.Len())
	}
}

func TestLRUCapEviction(t *testing.T) {
	st := NewStore(time.Hour, 2)
	st.Ensure("a")
	time.Sleep(time.Millisecond)
	st.Ensure("b")
	time.Sleep(time.Millisecond)
	st.Ensure("a") // refresh a; b is now oldest
	time.Sleep(time.Millisecond)
	st.Ensure("c") // over cap: evicts b

	if st.Len() != 2 {
		t.Fatalf("expected 2 sessions, got %d", st.Len())
	}
	if st.Get("b") != nil {
		t.Fatalf("expected b evicted")
	}
	if st.Get("a") == nil || st.Get("c") == nil {
		t.Fatalf("expected a and c to survive")
	}
}
