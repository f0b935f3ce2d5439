package realtime

import (
	"crypto/rand"
	"encoding/binary"
	"strconv"
)

// socketIDMax bounds each half of a socket id.
const socketIDMax = 10_000_000_000

// NewSocketID returns a Pusher-style socket id ("<digits>.<digits>").
// Private and presence channel signatures are computed over this value.
func NewSocketID() string {
	return strconv.FormatUint(randUint(socketIDMax), 10) + "." + strconv.FormatUint(randUint(socketIDMax), 10)
}

func randUint(max uint64) uint64 {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		// crypto/rand does not fail on supported platforms.
		panic("realtime: crypto/rand: " + err.Error())
	}
	return binary.BigEndian.Uint64(b[:]) % max
}
