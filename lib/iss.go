package lib

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"time"

	"github.com/pkg/errors"
)

// ISSGenerator picks the initial send sequence number of a new connection.
type ISSGenerator func(q Quad) uint32

// NewRFC6528Generator returns an ISSGenerator computing ISN = M + F(4-tuple, secret)
// as in RFC 6528, where M is a timer ticking every 4 microseconds and F is a
// SHA-256 over the 4-tuple and a random secret drawn once here.
func NewRFC6528Generator() (ISSGenerator, error) {
	var secret [16]byte
	if _, err := rand.Read(secret[:]); err != nil {
		return nil, errors.Wrap(err, "iss secret")
	}
	start := time.Now()
	return func(q Quad) uint32 {
		h := sha256.New()
		src := q.Src.Addr().As4()
		dst := q.Dst.Addr().As4()
		var ports [4]byte
		binary.BigEndian.PutUint16(ports[0:2], q.Src.Port())
		binary.BigEndian.PutUint16(ports[2:4], q.Dst.Port())
		h.Write(src[:])
		h.Write(dst[:])
		h.Write(ports[:])
		h.Write(secret[:])
		f := binary.BigEndian.Uint32(h.Sum(nil))
		m := uint32(time.Since(start) / (4 * time.Microsecond))
		return SeqIncrementBy(m, f)
	}, nil
}

// RandomISS draws every ISN from crypto/rand.
func RandomISS(Quad) uint32 {
	isn, err := GenerateISN()
	if err != nil {
		return uint32(time.Now().UnixNano() / int64(4*time.Microsecond))
	}
	return isn
}

// ZeroISS always returns 0. Predictable; only use it when debugging traces.
func ZeroISS(Quad) uint32 { return 0 }

func GenerateISN() (uint32, error) {
	// Generate a random 32-bit value
	var isn uint32
	err := binary.Read(rand.Reader, binary.BigEndian, &isn)
	if err != nil {
		return 0, err
	}
	return isn, nil
}

// FixedISS returns a generator that always yields iss.
func FixedISS(iss uint32) ISSGenerator {
	return func(Quad) uint32 { return iss }
}
