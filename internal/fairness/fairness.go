package fairness

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strconv"
)

const (
	// SeedBytes is the server seed size, 256 bits of entropy.
	SeedBytes = 32

	Heads = "heads"
	Tails = "tails"

	// A leading result-hash nibble below the threshold lands heads.
	headsThreshold = 8
)

// Commitment is one server seed and the digest shown to the player before
// the bet it belongs to.
type Commitment struct {
	ServerSeed     string `json:"serverSeed"`
	ServerSeedHash string `json:"serverSeedHash"`
}

type Result struct {
	Outcome    string `json:"coinResult"`
	ResultHash string `json:"resultHash"`
}

// GenerateCommitment draws a fresh server seed from crypto/rand and commits
// to it with SHA-256.
func GenerateCommitment() (Commitment, error) {
	buf := make([]byte, SeedBytes)
	if _, err := rand.Read(buf); err != nil {
		return Commitment{}, fmt.Errorf("failed to generate server seed: %w", err)
	}

	seed := hex.EncodeToString(buf)
	return Commitment{
		ServerSeed:     seed,
		ServerSeedHash: HashServerSeed(seed),
	}, nil
}

func HashServerSeed(serverSeed string) string {
	sum := sha256.Sum256([]byte(serverSeed))
	return hex.EncodeToString(sum[:])
}

// Message is the HMAC input for a bet: the client seed and the nonce joined
// with a dash.
func Message(clientSeed string, nonce int64) string {
	return clientSeed + "-" + strconv.FormatInt(nonce, 10)
}

// Resolve derives the coin side for a bet. The server seed is the HMAC key,
// the first hex digit of the digest picks the side.
func Resolve(serverSeed, clientSeed string, nonce int64) Result {
	h := hmac.New(sha256.New, []byte(serverSeed))
	h.Write([]byte(Message(clientSeed, nonce)))
	resultHash := hex.EncodeToString(h.Sum(nil))

	return Result{
		Outcome:    outcomeFromHash(resultHash),
		ResultHash: resultHash,
	}
}

func outcomeFromHash(resultHash string) string {
	v, err := strconv.ParseUint(resultHash[:1], 16, 8)
	if err != nil || v >= headsThreshold {
		return Tails
	}
	return Heads
}

// Verification is what a player gets back when re-checking a revealed seed.
type Verification struct {
	Result
	ComputedServerSeedHash string `json:"computedServerSeedHash"`
	HashMatches            bool   `json:"hashMatches"`
}

// Verify recomputes the commitment and the outcome of a settled bet. An empty
// expectedHash only recomputes.
func Verify(serverSeed, expectedHash, clientSeed string, nonce int64) Verification {
	computed := HashServerSeed(serverSeed)

	v := Verification{
		Result:                 Resolve(serverSeed, clientSeed, nonce),
		ComputedServerSeedHash: computed,
	}
	if expectedHash != "" {
		v.HashMatches = subtle.ConstantTimeCompare([]byte(computed), []byte(expectedHash)) == 1
	}
	return v
}

// ValidChoice reports whether choice names a coin side. Callers normalise
// case first.
func ValidChoice(choice string) bool {
	return choice == Heads || choice == Tails
}
