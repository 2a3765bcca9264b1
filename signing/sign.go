package signing

import (
	"bytes"
	"crypto"
	"crypto/ed25519"
	"errors"
	"fmt"
	"io"

	"github.com/spacemeshos/go-scale"

	"github.com/orepool/operator/shared"
)

var (
	ErrSigningFailed    = errors.New("couldn't sign")
	ErrSignatureInvalid = errors.New("signature is invalid")
	ErrInvalidKeyLen    = errors.New("key has invalid length")
)

// Signed represents a signed T data.
// It provides a read-only access to it.
type Signed[T any] interface {
	// Data retrieves the underlying data.
	// The received data is READ ONLY.
	Data() *T
	Signer() shared.PublicKey
	Signature() []byte
}

type signedData[T any] struct {
	data      T
	signer    shared.PublicKey
	signature []byte
}

func (d *signedData[T]) Data() *T {
	return &d.data
}

func (d *signedData[T]) Signer() shared.PublicKey {
	return d.signer
}

func (d *signedData[T]) Signature() []byte {
	return d.signature
}

// Keypair is the pool authority keypair.
type Keypair struct {
	private ed25519.PrivateKey
}

func GenerateKeypair(rand io.Reader) (*Keypair, error) {
	_, private, err := ed25519.GenerateKey(rand)
	if err != nil {
		return nil, fmt.Errorf("generating key: %w", err)
	}
	return &Keypair{private: private}, nil
}

// NewKeypair wraps an ed25519 private key (seed followed by the public key).
func NewKeypair(private []byte) (*Keypair, error) {
	if len(private) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("%w: %d", ErrInvalidKeyLen, len(private))
	}
	return &Keypair{private: ed25519.PrivateKey(bytes.Clone(private))}, nil
}

func (k *Keypair) PublicKey() shared.PublicKey {
	var pk shared.PublicKey
	copy(pk[:], k.private.Public().(ed25519.PublicKey))
	return pk
}

// Bytes returns the private key. Handle with care.
func (k *Keypair) Bytes() []byte {
	return bytes.Clone(k.private)
}

func (k *Keypair) signer() crypto.Signer {
	return k.private
}

type notHashed struct{}

func (notHashed) HashFunc() crypto.Hash { return crypto.Hash(0) }

type encodable[P any] interface {
	scale.Encodable
	*P
}

func encode[T any, Encodable encodable[T]](data *T) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := Encodable(data).EncodeScale(scale.NewEncoder(&buf)); err != nil {
		return nil, fmt.Errorf("failed to serialize data (%w)", err)
	}
	return buf.Bytes(), nil
}

// Sign signs the scale encoding of data with the keypair.
// *T must implement scale.Encodable which is constrained by Encodable.
func Sign[T any, Encodable encodable[T]](data T, keypair *Keypair) (Signed[T], error) {
	msg, err := encode[T, Encodable](&data)
	if err != nil {
		return nil, err
	}
	signature, err := keypair.signer().Sign(nil, msg, notHashed{})
	if err != nil {
		return nil, fmt.Errorf("%w (%v)", ErrSigningFailed, err)
	}
	return &signedData[T]{
		data:      data,
		signer:    keypair.PublicKey(),
		signature: signature,
	}, nil
}

// Verify constructs Signed[T] from a T if signature is a valid signature of it by signer.
func Verify[T any, Encodable encodable[T]](data T, signature []byte, signer shared.PublicKey) (Signed[T], error) {
	msg, err := encode[T, Encodable](&data)
	if err != nil {
		return nil, err
	}
	if len(signature) != ed25519.SignatureSize {
		return nil, ErrSignatureInvalid
	}
	if !ed25519.Verify(signer.Bytes(), msg, signature) {
		return nil, ErrSignatureInvalid
	}
	return &signedData[T]{
		data:      data,
		signer:    signer,
		signature: signature,
	}, nil
}
