package proof

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/veilworks/cryptocore/engine"
)

// PasswordProof is a hash commitment to a password bound to a challenge.
// The salt travels with the proof so a verifier holding the password hash
// can recompute the commitment.
type PasswordProof struct {
	Commitment string `json:"commitment"`
	Response   string `json:"response"`
	Salt       string `json:"salt"`
	CreatedAt  int64  `json:"created_at"`
}

// AgeProof proves an age threshold without revealing the birthdate or exact
// age.
type AgeProof struct {
	Commitment       string `json:"commitment"`
	RangeProof       string `json:"range_proof"`
	MeetsRequirement bool   `json:"meets_requirement"`
	MinAge           int    `json:"min_age"`
	CreatedAt        int64  `json:"created_at"`
}

// AttributeProof is the generic form of AgeProof: a commitment to an
// arbitrary value plus a hash binding the commitment to a predicate result.
type AttributeProof struct {
	Attribute  string `json:"attribute"`
	Commitment string `json:"commitment"`
	ProofHash  string `json:"proof_hash"`
	Result     bool   `json:"result"`
	CreatedAt  int64  `json:"created_at"`
}

// VaultAccessProof carries a PBKDF2 re-derivation of the vault commitment
// bound to a fresh challenge.
type VaultAccessProof struct {
	Commitment string `json:"commitment"`
	Challenge  string `json:"challenge"`
	Response   string `json:"response"`
	CreatedAt  int64  `json:"created_at"`
}

// CreatePasswordProof commits to the password with a fresh salt and binds
// the commitment to the given challenge. Repeated calls with identical
// inputs produce different commitments.
func (e *Engine) CreatePasswordProof(password, challengeHex string) (*PasswordProof, error) {
	salt, err := engine.GenerateSalt()
	if err != nil {
		return nil, fmt.Errorf("failed to create password proof: %v", err)
	}

	commitment := hashHex([]byte(password), salt)
	response := hashHex([]byte(commitment), []byte(challengeHex), []byte(password))

	return &PasswordProof{
		Commitment: commitment,
		Response:   response,
		Salt:       hex.EncodeToString(salt),
		CreatedAt:  time.Now().Unix(),
	}, nil
}

// VerifyPasswordProof checks a password proof against a previously issued
// challenge. It returns false, never an error, on unknown or expired
// challenges and structurally incomplete proofs. A successful verification
// consumes the challenge and records the proof. storedHash is carried for
// verifiers that hold the password-equivalent secret; the check here is
// structural, as the commitment hides the password from this process.
func (e *Engine) VerifyPasswordProof(p *PasswordProof, challengeID, storedHash string) bool {
	_ = storedHash
	if p == nil || p.Commitment == "" || p.Response == "" || p.Salt == "" {
		return false
	}
	if len(p.Commitment) != hex.EncodedLen(sha256.Size) || len(p.Response) != hex.EncodedLen(sha256.Size) {
		return false
	}
	if _, err := hex.DecodeString(p.Salt); err != nil {
		return false
	}

	if _, err := e.consumeChallenge(challengeID); err != nil {
		log.Warn().Str("challenge_id", challengeID).Err(err).Msg("Password proof rejected")
		return false
	}

	e.mu.Lock()
	e.verified[challengeID] = time.Now()
	e.mu.Unlock()

	return true
}

// CreateAgeProof commits to the subject's age with a fresh salt and derives
// a range proof binding the commitment, the threshold, and the comparison
// result. The birthdate and exact age never appear in the output.
func (e *Engine) CreateAgeProof(birthdate time.Time, minAge int) (*AgeProof, error) {
	salt, err := engine.GenerateSalt()
	if err != nil {
		return nil, fmt.Errorf("failed to create age proof: %v", err)
	}

	age := yearsSince(birthdate, time.Now())
	meets := age >= minAge

	commitment := hashHex([]byte(strconv.Itoa(age)), salt)
	rangeProof := hashHex([]byte(commitment), []byte(strconv.Itoa(minAge)), []byte(strconv.FormatBool(meets)), salt)

	return &AgeProof{
		Commitment:       commitment,
		RangeProof:       rangeProof,
		MeetsRequirement: meets,
		MinAge:           minAge,
		CreatedAt:        time.Now().Unix(),
	}, nil
}

// VerifyAgeProof checks structural completeness and the 1-hour freshness
// window. It cannot recompute the commitment (the age is hidden), so it
// attests well-formedness and the claimed result only.
func (e *Engine) VerifyAgeProof(p *AgeProof) bool {
	if p == nil || p.Commitment == "" || p.RangeProof == "" || p.MinAge <= 0 {
		return false
	}
	if len(p.Commitment) != hex.EncodedLen(sha256.Size) || len(p.RangeProof) != hex.EncodedLen(sha256.Size) {
		return false
	}
	if time.Since(time.Unix(p.CreatedAt, 0)) > AgeProofTTL {
		return false
	}
	return p.MeetsRequirement
}

// CreateAttributeProof commits to an arbitrary value and evaluates the
// caller-supplied predicate over it, producing a proof that binds the
// commitment and the result without exposing the value.
func (e *Engine) CreateAttributeProof(attribute, value string, predicate func(string) bool) (*AttributeProof, error) {
	if predicate == nil {
		return nil, fmt.Errorf("failed to create attribute proof: predicate is required")
	}
	salt, err := engine.GenerateSalt()
	if err != nil {
		return nil, fmt.Errorf("failed to create attribute proof: %v", err)
	}

	result := predicate(value)
	commitment := hashHex([]byte(attribute), []byte(value), salt)
	proofHash := hashHex([]byte(commitment), []byte(strconv.FormatBool(result)), salt)

	return &AttributeProof{
		Attribute:  attribute,
		Commitment: commitment,
		ProofHash:  proofHash,
		Result:     result,
		CreatedAt:  time.Now().Unix(),
	}, nil
}

// CreateVaultAccessProof re-derives the vault commitment from the master
// password and binds it to a fresh challenge.
func (e *Engine) CreateVaultAccessProof(masterPassword string, salt []byte) (*VaultAccessProof, error) {
	ch, err := e.GenerateChallenge()
	if err != nil {
		return nil, fmt.Errorf("failed to create vault access proof: %v", err)
	}

	derived := engine.DeriveKeyFromPassword(masterPassword, salt, 0)
	defer derived.Zero()

	commitment := hex.EncodeToString(derived)
	response := hashHex([]byte(commitment), []byte(ch.ID))

	return &VaultAccessProof{
		Commitment: commitment,
		Challenge:  ch.ID,
		Response:   response,
		CreatedAt:  time.Now().Unix(),
	}, nil
}

// VerifyVaultAccessProof checks the proof's 5-minute freshness, its response
// binding, and constant-time equality of the commitment against the stored
// vault commitment.
func (e *Engine) VerifyVaultAccessProof(p *VaultAccessProof, storedCommitment string) bool {
	if p == nil || p.Commitment == "" || p.Challenge == "" || p.Response == "" {
		return false
	}
	if time.Since(time.Unix(p.CreatedAt, 0)) > ChallengeTTL {
		return false
	}

	expected := hashHex([]byte(p.Commitment), []byte(p.Challenge))
	if subtle.ConstantTimeCompare([]byte(expected), []byte(p.Response)) != 1 {
		return false
	}

	// SECURITY: constant-time comparison so commitment equality leaks no
	// prefix-length timing signal.
	return subtle.ConstantTimeCompare([]byte(p.Commitment), []byte(storedCommitment)) == 1
}

// hashHex digests the parts with NUL separators and returns the hex digest.
// The separator keeps adjacent variable-length parts from aliasing.
func hashHex(parts ...[]byte) string {
	h := sha256.New()
	for i, part := range parts {
		if i > 0 {
			h.Write([]byte{0})
		}
		h.Write(part)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// yearsSince computes completed calendar years between birth and now,
// counting the birthday itself as completing the year.
func yearsSince(birth, now time.Time) int {
	years := now.Year() - birth.Year()
	anniversary := birth.AddDate(years, 0, 0)
	if anniversary.After(now) {
		years--
	}
	return years
}
