package middleware

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestBlacklistTokenAndLookup(t *testing.T) {
	token := "test-token-lookup"
	if IsTokenBlacklisted(token) {
		t.Fatal("token blacklisted before logout")
	}
	BlacklistToken(token, time.Now().Add(time.Hour))
	if !IsTokenBlacklisted(token) {
		t.Fatal("token not blacklisted after logout")
	}
}

func TestBlacklistConcurrentAccess(t *testing.T) {
	done := make(chan struct{})
	var wg sync.WaitGroup

	// Logouts writing while authenticated requests read
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; ; i++ {
			select {
			case <-done:
				return
			default:
				BlacklistToken(fmt.Sprintf("concurrent-token-%d", i%100), time.Now().Add(time.Minute))
			}
		}
	}()

	for i := 0; i < 10000; i++ {
		IsTokenBlacklisted(fmt.Sprintf("concurrent-token-%d", i%100))
	}

	close(done)
	wg.Wait()
}
