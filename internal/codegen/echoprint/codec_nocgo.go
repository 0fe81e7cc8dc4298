//go:build !cgo

package echoprint

// Codec is unavailable without cgo
type Codec struct{}

// New always fails without cgo
func New() (*Codec, error) {
	return nil, ErrUnavailable
}

// Generate implements codegen.Codec
func (c *Codec) Generate(samples []float32) (string, error) {
	return "", ErrUnavailable
}
