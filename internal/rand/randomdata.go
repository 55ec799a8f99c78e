// Package rand produces pseudo-random test data fast. It is not
// cryptographically secure: fixtures and fake object stores only.
package rand

import (
	"bytes"
	"math/rand"
	"sync"
	"time"
)

// Bytes returns a random slice of bytes
func Bytes(n int) []byte {
	return randBytes(n)
}

// LetterBytes returns a random slice of bytes picked in the [0-9]|[a-z] range
func LetterBytes(n int) []byte {
	return randBytes(n, letterize)
}

// LetterString returns a random string picked in the [0-9]|[a-z] range
func LetterString(n int) string {
	return string(LetterBytes(n))
}

// PathString returns a random slash-separated relative path with the
// given number of components.
func PathString(components int) string {
	parts := make([][]byte, components)
	for i := range parts {
		parts[i] = LetterBytes(3 + intn(9))
	}
	return string(bytes.Join(parts, []byte{'/'}))
}

// Intn returns a random int in [0,n)
func Intn(n int) int {
	return intn(n)
}

var (
	onceSource  sync.Once
	rgen        *rand.Rand
	onceLetters sync.Once
	randMutex   sync.Mutex
	letters     []byte
)

func seed() {
	src := rand.NewSource(time.Now().UnixNano())
	rgen = rand.New(src) // #nosec
}

func makeLetters() {
	// pads with "a" so the table covers the full range of uint8: speed
	// is traded for exact uniformity
	letters = bytes.Repeat([]byte("abcdefghijklmnopqrstuvwxyz0123456789a"), 7)
}

func letterize(buf []byte) {
	onceLetters.Do(makeLetters)
	for i, b := range buf {
		buf[i] = letters[b]
	}
}

func randBytes(n int, transforms ...func([]byte)) []byte {
	onceSource.Do(seed)
	buf := make([]byte, n)
	randMutex.Lock()
	_, _ = rgen.Read(buf)
	randMutex.Unlock()
	for _, transform := range transforms {
		transform(buf)
	}
	return buf
}

func intn(n int) int {
	onceSource.Do(seed)
	randMutex.Lock()
	defer randMutex.Unlock()
	return rgen.Intn(n)
}
