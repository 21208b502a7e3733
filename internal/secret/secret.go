// Package secret provides zero-on-drop buffers for key material that must
// never outlive its use: DEKs, MPC shares, and raw private-key bytes.
package secret

import "github.com/awnumar/memguard"

// Bytes is a plaintext secret buffer. Callers must call Wipe when the
// buffer is no longer needed, including on error paths.
type Bytes struct {
	b []byte
}

// New copies src into a fresh secret buffer. The caller still owns src and
// is responsible for wiping it separately if it also holds sensitive data.
func New(src []byte) *Bytes {
	cp := make([]byte, len(src))
	copy(cp, src)
	return &Bytes{b: cp}
}

// Bytes returns the underlying slice. The returned slice aliases the
// buffer's memory; it becomes invalid after Wipe.
func (s *Bytes) Bytes() []byte {
	if s == nil {
		return nil
	}
	return s.b
}

// Wipe zeroes the buffer in place. Safe to call multiple times and on a
// nil receiver.
func (s *Bytes) Wipe() {
	if s == nil {
		return
	}
	for i := range s.b {
		s.b[i] = 0
	}
	s.b = nil
}

// WithOpen runs fn with the secret's bytes, then wipes the buffer
// unconditionally, including when fn panics.
func WithOpen(b []byte, fn func([]byte) error) (err error) {
	defer func() {
		for i := range b {
			b[i] = 0
		}
	}()
	return fn(b)
}

// Enclave seals long-lived secret material (a KMS master key, for example)
// at rest in process memory via memguard, only exposing plaintext bytes for
// the duration of a single WithOpen call.
type Enclave struct {
	enc *memguard.Enclave
}

// Seal copies src into a memguard enclave. The caller's copy of src is not
// modified; callers should wipe their own copy after Seal returns.
func Seal(src []byte) *Enclave {
	cp := make([]byte, len(src))
	copy(cp, src)
	return &Enclave{enc: memguard.NewEnclave(cp)}
}

// WithOpen decrypts the enclave for the duration of fn and destroys the
// locked buffer afterward, regardless of fn's outcome.
func (e *Enclave) WithOpen(fn func([]byte) error) error {
	if e == nil || e.enc == nil {
		return errEmptyEnclave
	}
	buf, err := e.enc.Open()
	if err != nil {
		return err
	}
	defer buf.Destroy()
	return fn(buf.Bytes())
}

var errEmptyEnclave = sealedEnclaveError("secret: enclave is empty")

type sealedEnclaveError string

func (e sealedEnclaveError) Error() string { return string(e) }
