package engine

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"strconv"
)

// DigestSize is the size of every buffer the stream reads from.
const DigestSize = sha256.Size

// floatScale is 2^32; every uint32 chunk divided by it lands in [0, 1).
const floatScale = 1 << 32

// FloatStream turns (server seed, client seed, nonce) into an unbounded,
// repeatable sequence of floats in [0, 1).
//
// The first buffer is HMAC-SHA256 keyed by the server seed over
// "<client>:<nonce>". Once a buffer is consumed it is replaced by the plain
// SHA-256 of itself and reading restarts at offset 0.
type FloatStream struct {
	buffer [DigestSize]byte
	pos    int
}

// NewFloatStream creates a stream positioned at the first byte of the HMAC digest.
func NewFloatStream(serverSeed, clientSeed string, nonce uint64) *FloatStream {
	fs := &FloatStream{}
	fs.buffer = Digest(serverSeed, clientSeed, nonce)
	return fs
}

// Digest returns HMAC-SHA256(serverSeed, "<clientSeed>:<nonce>").
func Digest(serverSeed, clientSeed string, nonce uint64) [DigestSize]byte {
	h := hmac.New(sha256.New, []byte(serverSeed))
	h.Write([]byte(message(clientSeed, nonce)))

	var out [DigestSize]byte
	copy(out[:], h.Sum(nil))
	return out
}

func message(clientSeed string, nonce uint64) string {
	return clientSeed + ":" + strconv.FormatUint(nonce, 10)
}

// Next returns the next float in [0, 1).
func (fs *FloatStream) Next() float64 {
	if fs.pos+4 > len(fs.buffer) {
		fs.buffer = sha256.Sum256(fs.buffer[:])
		fs.pos = 0
	}

	v := binary.BigEndian.Uint32(fs.buffer[fs.pos : fs.pos+4])
	fs.pos += 4
	return float64(v) / floatScale
}

// Buffer returns a copy of the buffer currently being read.
func (fs *FloatStream) Buffer() [DigestSize]byte {
	return fs.buffer
}

// Floats generates count floats for the given seeds and nonce.
func Floats(serverSeed, clientSeed string, nonce uint64, count int) []float64 {
	return FloatsInto(nil, serverSeed, clientSeed, nonce, count)
}

// FloatsInto fills dst with count floats, allocating only when dst is too small.
func FloatsInto(dst []float64, serverSeed, clientSeed string, nonce uint64, count int) []float64 {
	if count <= 0 {
		return dst[:0]
	}
	if cap(dst) < count {
		dst = make([]float64, count)
	}
	dst = dst[:count]

	fs := NewFloatStream(serverSeed, clientSeed, nonce)
	for i := range dst {
		dst[i] = fs.Next()
	}
	return dst
}

// Commitment returns the hex SHA-256 of the server seed. It is the only form of
// a live server seed that may be published.
func Commitment(serverSeed string) string {
	sum := sha256.Sum256([]byte(serverSeed))
	return hex.EncodeToString(sum[:])
}

// MatchesCommitment reports whether a revealed seed hashes to the given commitment.
func MatchesCommitment(serverSeed, commitment string) bool {
	want, err := hex.DecodeString(commitment)
	if err != nil || len(want) != sha256.Size {
		return false
	}
	sum := sha256.Sum256([]byte(serverSeed))
	return hmac.Equal(sum[:], want)
}
