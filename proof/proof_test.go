package proof

import (
	"encoding/hex"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/veilworks/cryptocore/engine"
)

func TestPasswordProof_RoundTrip(t *testing.T) {
	e := NewEngine()
	defer e.Close()

	ch, err := e.GenerateChallenge()
	if err != nil {
		t.Fatalf("GenerateChallenge failed: %v", err)
	}
	if len(ch.Nonce) != challengeSize {
		t.Errorf("Expected %d-byte nonce, got %d", challengeSize, len(ch.Nonce))
	}
	if ch.ID != hex.EncodeToString(ch.Nonce) {
		t.Error("Challenge ID should be the hex encoding of its nonce")
	}

	p, err := e.CreatePasswordProof("hunter2", ch.ID)
	if err != nil {
		t.Fatalf("CreatePasswordProof failed: %v", err)
	}

	if !e.VerifyPasswordProof(p, ch.ID, "") {
		t.Fatal("Valid proof rejected")
	}

	// Challenges are single-use.
	if e.VerifyPasswordProof(p, ch.ID, "") {
		t.Error("Challenge accepted twice")
	}
}

func TestPasswordProof_FreshSalt(t *testing.T) {
	e := NewEngine()
	defer e.Close()

	ch, _ := e.GenerateChallenge()
	p1, err := e.CreatePasswordProof("same-password", ch.ID)
	if err != nil {
		t.Fatal(err)
	}
	p2, err := e.CreatePasswordProof("same-password", ch.ID)
	if err != nil {
		t.Fatal(err)
	}

	if p1.Commitment == p2.Commitment {
		t.Error("Same password and challenge produced identical commitments")
	}
	if p1.Salt == p2.Salt {
		t.Error("Fresh salt expected per proof")
	}
}

func TestVerifyPasswordProof_Rejections(t *testing.T) {
	e := NewEngine()
	defer e.Close()

	ch, _ := e.GenerateChallenge()
	p, _ := e.CreatePasswordProof("pw", ch.ID)

	if e.VerifyPasswordProof(p, "deadbeef", "") {
		t.Error("Unknown challenge accepted")
	}
	if e.VerifyPasswordProof(nil, ch.ID, "") {
		t.Error("Nil proof accepted")
	}
	if e.VerifyPasswordProof(&PasswordProof{Commitment: p.Commitment}, ch.ID, "") {
		t.Error("Structurally incomplete proof accepted")
	}
	if e.VerifyPasswordProof(&PasswordProof{
		Commitment: "short", Response: p.Response, Salt: p.Salt,
	}, ch.ID, "") {
		t.Error("Malformed commitment accepted")
	}
}

func TestVerifyPasswordProof_ExpiredChallengeEvicted(t *testing.T) {
	e := NewEngine()
	defer e.Close()

	ch, _ := e.GenerateChallenge()
	p, _ := e.CreatePasswordProof("pw", ch.ID)

	// Age the stored challenge past its validity window.
	e.mu.Lock()
	e.challenges[ch.ID].createdAt = time.Now().Add(-ChallengeTTL - time.Second)
	e.mu.Unlock()

	if e.VerifyPasswordProof(p, ch.ID, "") {
		t.Fatal("Expired challenge accepted")
	}

	e.mu.Lock()
	_, still := e.challenges[ch.ID]
	e.mu.Unlock()
	if still {
		t.Error("Expired challenge should be evicted on the failed lookup")
	}
}

func TestClearExpiredChallenges(t *testing.T) {
	e := NewEngine()
	defer e.Close()

	fresh, _ := e.GenerateChallenge()
	stale, _ := e.GenerateChallenge()

	e.mu.Lock()
	e.challenges[stale.ID].createdAt = time.Now().Add(-ChallengeTTL - time.Second)
	e.mu.Unlock()

	if n := e.ClearExpiredChallenges(); n != 1 {
		t.Errorf("Expected 1 challenge swept, got %d", n)
	}

	e.mu.Lock()
	_, freshKept := e.challenges[fresh.ID]
	_, staleKept := e.challenges[stale.ID]
	e.mu.Unlock()
	if !freshKept {
		t.Error("Fresh challenge was swept")
	}
	if staleKept {
		t.Error("Stale challenge survived the sweep")
	}
}

func TestAgeProof_Boundary(t *testing.T) {
	e := NewEngine()
	defer e.Close()

	now := time.Now()

	// Exactly 18 years ago today meets the requirement.
	exact := now.AddDate(-18, 0, 0)
	p, err := e.CreateAgeProof(exact, 18)
	if err != nil {
		t.Fatalf("CreateAgeProof failed: %v", err)
	}
	if !p.MeetsRequirement {
		t.Error("Exact 18th birthday should meet the requirement")
	}
	if !e.VerifyAgeProof(p) {
		t.Error("Valid age proof rejected")
	}

	// One day short of 18 years does not.
	short, err := e.CreateAgeProof(exact.AddDate(0, 0, 1), 18)
	if err != nil {
		t.Fatal(err)
	}
	if short.MeetsRequirement {
		t.Error("One day short of 18 should not meet the requirement")
	}
	if e.VerifyAgeProof(short) {
		t.Error("Proof with unmet requirement should verify false")
	}
}

func TestAgeProof_NoBirthYearLeakage(t *testing.T) {
	e := NewEngine()
	defer e.Close()

	birth := time.Date(1993, 6, 15, 0, 0, 0, 0, time.UTC)
	p, err := e.CreateAgeProof(birth, 18)
	if err != nil {
		t.Fatal(err)
	}

	year := strconv.Itoa(birth.Year())
	if strings.Contains(p.Commitment, year) || strings.Contains(p.RangeProof, year) {
		t.Error("Proof encoding contains the literal birth year")
	}
}

func TestAgeProof_Freshness(t *testing.T) {
	e := NewEngine()
	defer e.Close()

	p, _ := e.CreateAgeProof(time.Now().AddDate(-30, 0, 0), 18)
	p.CreatedAt = time.Now().Add(-AgeProofTTL - time.Minute).Unix()

	if e.VerifyAgeProof(p) {
		t.Error("Age proof older than its window accepted")
	}
}

func TestAttributeProof(t *testing.T) {
	e := NewEngine()
	defer e.Close()

	isGerman := func(v string) bool { return v == "DE" }

	p, err := e.CreateAttributeProof("country", "DE", isGerman)
	if err != nil {
		t.Fatalf("CreateAttributeProof failed: %v", err)
	}
	if !p.Result {
		t.Error("Predicate over matching value should be true")
	}
	if strings.Contains(p.Commitment, "DE") {
		t.Error("Commitment must not expose the raw value")
	}

	neg, err := e.CreateAttributeProof("country", "FR", isGerman)
	if err != nil {
		t.Fatal(err)
	}
	if neg.Result {
		t.Error("Predicate over non-matching value should be false")
	}

	if _, err := e.CreateAttributeProof("country", "DE", nil); err == nil {
		t.Error("Nil predicate should be rejected")
	}
}

func TestVaultAccessProof(t *testing.T) {
	e := NewEngine()
	defer e.Close()

	salt, err := engine.GenerateSalt()
	if err != nil {
		t.Fatal(err)
	}

	stored := engine.DeriveKeyFromPassword("master-password", salt, 0)
	storedCommitment := hex.EncodeToString(stored)

	p, err := e.CreateVaultAccessProof("master-password", salt)
	if err != nil {
		t.Fatalf("CreateVaultAccessProof failed: %v", err)
	}
	if !e.VerifyVaultAccessProof(p, storedCommitment) {
		t.Fatal("Valid vault access proof rejected")
	}

	if e.VerifyVaultAccessProof(p, "not-the-commitment") {
		t.Error("Wrong stored commitment accepted")
	}

	wrong, _ := e.CreateVaultAccessProof("wrong-password", salt)
	if e.VerifyVaultAccessProof(wrong, storedCommitment) {
		t.Error("Proof from the wrong password accepted")
	}

	p.CreatedAt = time.Now().Add(-ChallengeTTL - time.Second).Unix()
	if e.VerifyVaultAccessProof(p, storedCommitment) {
		t.Error("Stale vault access proof accepted")
	}
}

func TestVaultAccessProof_TamperedResponse(t *testing.T) {
	e := NewEngine()
	defer e.Close()

	salt, _ := engine.GenerateSalt()
	stored := hex.EncodeToString(engine.DeriveKeyFromPassword("pw", salt, 0))

	p, _ := e.CreateVaultAccessProof("pw", salt)
	p.Response = strings.Repeat("0", len(p.Response))

	if e.VerifyVaultAccessProof(p, stored) {
		t.Error("Tampered response accepted")
	}
}
