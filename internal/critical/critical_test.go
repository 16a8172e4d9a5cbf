package critical

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnterExitSerializes(t *testing.T) {
	var s Section
	var counter int
	done := make(chan struct{})

	for i := 0; i < 50; i++ {
		go func() {
			tok := s.Enter()
			counter++
			tok.Exit()
			done <- struct{}{}
		}()
	}
	for i := 0; i < 50; i++ {
		<-done
	}
	assert.Equal(t, 50, counter)
}

func TestTryEnterFailsWhenHeld(t *testing.T) {
	var s Section
	tok := s.Enter()

	_, ok := s.TryEnter()
	assert.False(t, ok)

	tok.Exit()

	tok2, ok := s.TryEnter()
	require.True(t, ok)
	tok2.Exit()
}

func TestExitOfZeroTokenPanics(t *testing.T) {
	var tok Token
	assert.Panics(t, func() { tok.Exit() })
}

func TestEnterBlocksUntilExit(t *testing.T) {
	var s Section
	tok := s.Enter()

	unblocked := make(chan struct{})
	go func() {
		tok2 := s.Enter()
		close(unblocked)
		tok2.Exit()
	}()

	select {
	case <-unblocked:
		t.Fatal("second Enter should have blocked")
	case <-time.After(20 * time.Millisecond):
	}

	tok.Exit()
	<-unblocked
}
