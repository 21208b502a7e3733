// Package signing implements the threshold signing coordinator: a
// two-party, session-keyed state machine that drives Init -> Round_k ->
// Presigned -> Finalized and yields a recovery-complete ECDSA signature.
package signing

import (
	"bytes"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/thresh-vault/signer/internal/ethaddr"
	"github.com/thresh-vault/signer/internal/wiremsg"
	"go.uber.org/zap"
)

// Errors returned by Coordinator operations.
var (
	ErrUnknownSession    = errors.New("signing: unknown session")
	ErrInvalidRound      = errors.New("signing: round called out of order")
	ErrSessionExpired    = errors.New("signing: session expired")
	ErrConcurrentRound   = errors.New("signing: round already in progress for this session")
	ErrRecoveryFailed    = errors.New("signing: recovery id trial failed to match stored public key")
	ErrDigestLength      = errors.New("signing: message digest must be 32 bytes")
)

// SignFailedError wraps a library failure at a specific round.
type SignFailedError struct {
	Round int
	Cause error
}

func (e *SignFailedError) Error() string {
	return fmt.Sprintf("signing: round %d failed: %v", e.Round, e.Cause)
}
func (e *SignFailedError) Unwrap() error { return e.Cause }

const sessionTTL = 60 * time.Second

// State is the signing session's lifecycle tag.
type State int

const (
	StateInit State = iota
	StateRound
	StatePresigned
	StateFinalized
)

// Scheme abstracts the underlying MPC signing library, mirroring
// internal/dkg's capability-queryable Scheme so a presignature-capable
// protocol (CGGMP24) and a fully-interactive one (DKLs23) can share this
// coordinator without a hard-coded round count.
type Scheme interface {
	RoundsPerSigning() int
	SupportsPresignature() bool

	// StartRound1 begins a new signing session for one local party and
	// returns that party's round-1 outgoing messages.
	StartRound1(session *Session) ([]wiremsg.Frame, error)

	// AdvanceRound feeds frames addressed to this party for the given
	// round and returns outgoing frames for the next round, or a raw
	// (r, s) signature pair once the protocol's own rounds are exhausted.
	// It never reports a recovery id: the coordinator computes that
	// independently by trial recovery, regardless of scheme.
	AdvanceRound(session *Session, round int, incoming []wiremsg.Frame) (outgoing []wiremsg.Frame, raw *RawSignature, err error)
}

// RawSignature is a scheme's (r, s) output before recovery-id resolution.
type RawSignature struct {
	R []byte // 32 bytes
	S []byte // 32 bytes
}

// Signature is the terminal, recovery-complete output of a signing
// session: 32-byte r, 32-byte s, and v in {27, 28}.
type Signature struct {
	R    []byte
	S    []byte
	V    byte
	Full []byte // 65 bytes: r || s || v
}

// Session is a single two-party signing ceremony in progress.
type Session struct {
	SessionID    string
	SignerID     string
	PartyIndex   int
	Threshold    int
	TotalParties int

	MessageDigest   []byte // 32-byte hash this session signs
	ShareBytes      []byte // this party's opaque DKG share
	PublicKey       []byte // 33-byte compressed secp256k1, for recovery-id trial

	State        State
	Round        int
	CreatedAt    time.Time
	LastActiveAt time.Time

	SchemeState any

	mu sync.Mutex
}

// Coordinator is the session registry + round dispatcher.
type Coordinator struct {
	scheme Scheme
	logger *zap.Logger

	mu       sync.RWMutex
	sessions map[string]*Session

	sweepStop chan struct{}
	sweepWG   sync.WaitGroup
}

// NewCoordinator builds a coordinator bound to scheme, starting a
// background TTL sweep.
func NewCoordinator(scheme Scheme, logger *zap.Logger) *Coordinator {
	c := &Coordinator{
		scheme:    scheme,
		logger:    logger,
		sessions:  make(map[string]*Session),
		sweepStop: make(chan struct{}),
	}
	c.startSweep()
	return c
}

// Init creates a new signing session over digest using shareBytes and
// runs round 1. digest must be exactly 32 bytes (the caller is
// responsible for computing it, whether via TxDigest or its own message
// hash).
func (c *Coordinator) Init(signerID string, partyIndex, threshold, totalParties int, shareBytes, publicKey, digest []byte) (*Session, []wiremsg.Frame, error) {
	if len(digest) != 32 {
		return nil, nil, ErrDigestLength
	}

	session := &Session{
		SessionID:     uuid.NewString(),
		SignerID:      signerID,
		PartyIndex:    partyIndex,
		Threshold:     threshold,
		TotalParties:  totalParties,
		MessageDigest: digest,
		ShareBytes:    shareBytes,
		PublicKey:     publicKey,
		State:         StateInit,
		Round:         1,
		CreatedAt:     time.Now(),
		LastActiveAt:  time.Now(),
	}

	outgoing, err := c.scheme.StartRound1(session)
	if err != nil {
		return nil, nil, &SignFailedError{Round: 1, Cause: err}
	}
	session.State = StateRound

	c.mu.Lock()
	c.sessions[session.SessionID] = session
	c.mu.Unlock()

	c.logger.Info("signing session started",
		zap.String("session_id", session.SessionID),
		zap.String("signer_id", signerID),
		zap.Int("party_index", partyIndex))

	return session, outgoing, nil
}

// Round advances session by one round. Concurrent Round calls against
// the same session are rejected rather than serialized: a signing
// session must be driven by exactly one caller at a time.
func (c *Coordinator) Round(sessionID string, round int, incoming []wiremsg.Frame) ([]wiremsg.Frame, *Signature, bool, error) {
	session, err := c.get(sessionID)
	if err != nil {
		return nil, nil, false, err
	}

	if !session.mu.TryLock() {
		return nil, nil, false, ErrConcurrentRound
	}
	defer session.mu.Unlock()

	if time.Since(session.LastActiveAt) > sessionTTL {
		c.drop(sessionID)
		return nil, nil, false, ErrSessionExpired
	}
	if round != session.Round+1 {
		return nil, nil, false, ErrInvalidRound
	}

	cloned := make([]wiremsg.Frame, len(incoming))
	for i, f := range incoming {
		cloned[i] = wiremsg.Clone(f)
	}

	outgoing, raw, err := c.scheme.AdvanceRound(session, round, cloned)
	if err != nil {
		c.drop(sessionID)
		return nil, nil, false, &SignFailedError{Round: round, Cause: err}
	}

	session.Round = round
	session.LastActiveAt = time.Now()

	if raw != nil {
		session.State = StatePresigned
		sig, recErr := resolveSignature(session.MessageDigest, raw, session.PublicKey)
		if recErr != nil {
			c.drop(sessionID)
			return nil, nil, false, recErr
		}
		session.State = StateFinalized
		c.drop(sessionID)
		return outgoing, sig, true, nil
	}
	return outgoing, nil, false, nil
}

// resolveSignature performs the explicit trial-recovery algorithm: try
// recovery bit 0 then 1, recover the candidate public key for each, and
// select whichever matches the session's stored public key. It never
// trusts a scheme's self-reported recovery bit.
func resolveSignature(digest []byte, raw *RawSignature, expectedCompressedPubkey []byte) (*Signature, error) {
	sig := make([]byte, 65)
	copy(sig[0:32], raw.R)
	copy(sig[32:64], raw.S)

	for _, bit := range []byte{0, 1} {
		sig[64] = bit
		recoveredUncompressed, err := crypto.Ecrecover(digest, sig)
		if err != nil {
			continue
		}
		// recoveredUncompressed is 65 bytes: 0x04 || X || Y.
		candidate, err := ethaddr.Compress(recoveredUncompressed[1:])
		if err != nil {
			continue
		}
		if bytes.Equal(candidate, expectedCompressedPubkey) {
			full := make([]byte, 65)
			copy(full[0:32], raw.R)
			copy(full[32:64], raw.S)
			full[64] = bit + 27
			return &Signature{R: raw.R, S: raw.S, V: bit + 27, Full: full}, nil
		}
	}
	return nil, ErrRecoveryFailed
}

// Get returns the session with sessionID, or ErrUnknownSession.
func (c *Coordinator) Get(sessionID string) (*Session, error) {
	return c.get(sessionID)
}

func (c *Coordinator) get(sessionID string) (*Session, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	session, ok := c.sessions[sessionID]
	if !ok {
		return nil, ErrUnknownSession
	}
	return session, nil
}

// Abort discards a session explicitly, e.g. on caller cancellation.
func (c *Coordinator) Abort(sessionID string) {
	c.drop(sessionID)
}

func (c *Coordinator) drop(sessionID string) {
	c.mu.Lock()
	delete(c.sessions, sessionID)
	c.mu.Unlock()
}

func (c *Coordinator) startSweep() {
	c.sweepWG.Add(1)
	go func() {
		defer c.sweepWG.Done()
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.sweepExpired()
			case <-c.sweepStop:
				return
			}
		}
	}()
}

func (c *Coordinator) sweepExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	for id, s := range c.sessions {
		s.mu.Lock()
		expired := now.Sub(s.LastActiveAt) > sessionTTL
		s.mu.Unlock()
		if expired {
			delete(c.sessions, id)
			c.logger.Info("signing session swept (ttl expired)", zap.String("session_id", id))
		}
	}
}

// Close stops the background sweep goroutine.
func (c *Coordinator) Close() {
	close(c.sweepStop)
	c.sweepWG.Wait()
}

func padTo32(b []byte) []byte {
	if len(b) >= 32 {
		return b[len(b)-32:]
	}
	out := make([]byte, 32)
	copy(out[32-len(b):], b)
	return out
}
