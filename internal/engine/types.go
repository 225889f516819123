package engine

// Seeds holds the two halves of the provably fair key material.
type Seeds struct {
	Server string `json:"server"` // raw ASCII, never hex-decoded
	Client string `json:"client"`
}

// Stream returns a fresh float stream for the given nonce.
func (s Seeds) Stream(nonce uint64) *FloatStream {
	return NewFloatStream(s.Server, s.Client, nonce)
}

// ServerHash returns the commitment of the server seed.
func (s Seeds) ServerHash() string {
	return Commitment(s.Server)
}
