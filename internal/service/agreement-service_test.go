package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"access_service/internal/models"

	"go.mongodb.org/mongo-driver/v2/bson"
)

func TestAgreementLifecycle(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.assign(t, "creator-1", models.RoleCreator)
	env.assign(t, "investor-1", models.RoleInvestor)

	pitch := protectedPitch("pitch-1", "creator-1")

	request, err := env.agreementService.Request(ctx, "investor-1", pitch)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	if request.Status != models.AgreementStatusPending {
		t.Errorf("Expected pending status, got %s", request.Status)
	}

	// No access before the NDA is signed.
	decision, err := env.authorizeService.Authorize(ctx, "investor-1", models.PermPitchViewFull, &pitch)
	if err != nil {
		t.Fatalf("Authorize failed: %v", err)
	}
	if decision.Allowed {
		t.Error("Expected protected content to be denied before signing")
	}
	if decision.Reason != models.ReasonAgreementRequired {
		t.Errorf("Expected AgreementRequired denial, got %s", decision.Reason)
	}

	if _, err := env.agreementService.Approve(ctx, "creator-1", request.ID); err != nil {
		t.Fatalf("Approve failed: %v", err)
	}

	// Approval alone still does not open the content.
	decision, err = env.authorizeService.Authorize(ctx, "investor-1", models.PermPitchViewFull, &pitch)
	if err != nil {
		t.Fatalf("Authorize failed: %v", err)
	}
	if decision.Allowed {
		t.Error("Expected protected content to be denied before signing")
	}

	result, err := env.agreementService.Sign(ctx, "investor-1", request.ID)
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}
	if result.AlreadySigned {
		t.Error("First sign should not report AlreadySigned")
	}
	if result.Grant == nil || result.Grant.Level != models.AccessLevelView {
		t.Fatalf("Expected a view grant after signing, got %+v", result.Grant)
	}
	if result.Request.ExpiresAt != result.Request.SignedAt+testTTLDays*24*60*60 {
		t.Errorf("Expected expiry %d days after signing", testTTLDays)
	}

	decision, err = env.authorizeService.Authorize(ctx, "investor-1", models.PermPitchViewFull, &pitch)
	if err != nil {
		t.Fatalf("Authorize failed: %v", err)
	}
	if !decision.Allowed {
		t.Errorf("Expected access after signing, denied with %s", decision.Reason)
	}

	if _, err := env.agreementService.Revoke(ctx, "creator-1", request.ID); err != nil {
		t.Fatalf("Revoke failed: %v", err)
	}

	decision, err = env.authorizeService.Authorize(ctx, "investor-1", models.PermPitchViewFull, &pitch)
	if err != nil {
		t.Fatalf("Authorize failed: %v", err)
	}
	if decision.Allowed {
		t.Error("Expected access to be gone after revocation")
	}

	wantEvents := []string{"nda.requested", "nda.approved", "nda.signed", "nda.revoked"}
	got := env.publisher.agreementEventTypes()
	if len(got) != len(wantEvents) {
		t.Fatalf("Expected events %v, got %v", wantEvents, got)
	}
	for i, want := range wantEvents {
		if got[i] != want {
			t.Errorf("Event %d: expected %s, got %s", i, want, got[i])
		}
	}
}

func TestRequestEligibility(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.assign(t, "creator-1", models.RoleCreator)
	env.assign(t, "creator-2", models.RoleCreator)
	env.assign(t, "investor-1", models.RoleInvestor)
	env.assign(t, "producer-1", models.RoleProduction)
	env.assign(t, "guest-1", models.RoleGuest)

	pitch := protectedPitch("pitch-1", "creator-1")

	testCases := []struct {
		name      string
		requester string
		wantErr   error
	}{
		{"owner cannot request on own pitch", "creator-1", models.ErrNotEligible},
		{"creators are never eligible", "creator-2", models.ErrNotEligible},
		{"guests are not eligible", "guest-1", models.ErrNotEligible},
		{"unknown users are not eligible", "stranger-1", models.ErrNotEligible},
		{"investors are eligible", "investor-1", nil},
		{"production companies are eligible", "producer-1", nil},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := env.agreementService.Request(ctx, tc.requester, pitch)
			if tc.wantErr == nil {
				if err != nil {
					t.Fatalf("Expected request to succeed, got %v", err)
				}
				return
			}
			if !errors.Is(err, tc.wantErr) {
				t.Errorf("Expected %v, got %v", tc.wantErr, err)
			}
		})
	}

	// Denied attempts leave audit attempt entries.
	denied := false
	attempts, err := env.auditService.Query(ctx, &models.AuditQuery{Action: "nda.request", Granted: &denied})
	if err != nil {
		t.Fatalf("Audit query failed: %v", err)
	}
	if len(attempts) == 0 {
		t.Error("Expected denied request attempts in the audit log")
	}
}

func TestRequestDuplicateGuard(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.assign(t, "creator-1", models.RoleCreator)
	env.assign(t, "investor-1", models.RoleInvestor)

	pitch := protectedPitch("pitch-1", "creator-1")

	first, err := env.agreementService.Request(ctx, "investor-1", pitch)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}

	if _, err := env.agreementService.Request(ctx, "investor-1", pitch); !errors.Is(err, models.ErrDuplicateActiveRequest) {
		t.Errorf("Expected ErrDuplicateActiveRequest while pending, got %v", err)
	}

	if _, err := env.agreementService.Approve(ctx, "creator-1", first.ID); err != nil {
		t.Fatalf("Approve failed: %v", err)
	}
	if _, err := env.agreementService.Request(ctx, "investor-1", pitch); !errors.Is(err, models.ErrDuplicateActiveRequest) {
		t.Errorf("Expected ErrDuplicateActiveRequest while approved, got %v", err)
	}

	// A rejected request is terminal and stops blocking.
	if _, err := env.agreementService.Reject(ctx, "creator-1", first.ID, ""); !errors.Is(err, models.ErrInvalidStateTransition) {
		t.Fatalf("Expected rejecting an approved request to fail, got %v", err)
	}

	second, err := env.agreementService.Request(ctx, "investor-1", protectedPitch("pitch-2", "creator-1"))
	if err != nil {
		t.Fatalf("Request on another pitch failed: %v", err)
	}
	if _, err := env.agreementService.Reject(ctx, "creator-1", second.ID, "not interested"); err != nil {
		t.Fatalf("Reject failed: %v", err)
	}
	if _, err := env.agreementService.Request(ctx, "investor-1", protectedPitch("pitch-2", "creator-1")); err != nil {
		t.Errorf("Expected a new request after rejection, got %v", err)
	}
}

func TestTransitionTable(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.assign(t, "creator-1", models.RoleCreator)
	env.assign(t, "investor-1", models.RoleInvestor)

	newRequest := func(pitchID string) *models.AgreementRequest {
		request, err := env.agreementService.Request(ctx, "investor-1", protectedPitch(pitchID, "creator-1"))
		if err != nil {
			t.Fatalf("Request failed: %v", err)
		}
		return request
	}

	t.Run("cannot sign a pending request", func(t *testing.T) {
		request := newRequest("pitch-a")
		if _, err := env.agreementService.Sign(ctx, "investor-1", request.ID); !errors.Is(err, models.ErrInvalidStateTransition) {
			t.Errorf("Expected ErrInvalidStateTransition, got %v", err)
		}
	})

	t.Run("cannot revoke a pending request", func(t *testing.T) {
		request := newRequest("pitch-b")
		if _, err := env.agreementService.Revoke(ctx, "creator-1", request.ID); !errors.Is(err, models.ErrInvalidStateTransition) {
			t.Errorf("Expected ErrInvalidStateTransition, got %v", err)
		}
	})

	t.Run("cannot approve twice", func(t *testing.T) {
		request := newRequest("pitch-c")
		if _, err := env.agreementService.Approve(ctx, "creator-1", request.ID); err != nil {
			t.Fatalf("Approve failed: %v", err)
		}
		if _, err := env.agreementService.Approve(ctx, "creator-1", request.ID); !errors.Is(err, models.ErrInvalidStateTransition) {
			t.Errorf("Expected ErrInvalidStateTransition, got %v", err)
		}
	})

	t.Run("cannot reject a signed request", func(t *testing.T) {
		request := newRequest("pitch-d")
		if _, err := env.agreementService.Approve(ctx, "creator-1", request.ID); err != nil {
			t.Fatalf("Approve failed: %v", err)
		}
		if _, err := env.agreementService.Sign(ctx, "investor-1", request.ID); err != nil {
			t.Fatalf("Sign failed: %v", err)
		}
		if _, err := env.agreementService.Reject(ctx, "creator-1", request.ID, "too late"); !errors.Is(err, models.ErrInvalidStateTransition) {
			t.Errorf("Expected ErrInvalidStateTransition, got %v", err)
		}
	})
}

func TestPartyChecks(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.assign(t, "creator-1", models.RoleCreator)
	env.assign(t, "investor-1", models.RoleInvestor)
	env.assign(t, "investor-2", models.RoleInvestor)

	request, err := env.agreementService.Request(ctx, "investor-1", protectedPitch("pitch-1", "creator-1"))
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}

	if _, err := env.agreementService.Approve(ctx, "investor-1", request.ID); !errors.Is(err, models.ErrNotRequestOwner) {
		t.Errorf("Expected ErrNotRequestOwner for non-owner approve, got %v", err)
	}
	if _, err := env.agreementService.Reject(ctx, "investor-2", request.ID, ""); !errors.Is(err, models.ErrNotRequestOwner) {
		t.Errorf("Expected ErrNotRequestOwner for non-owner reject, got %v", err)
	}

	if _, err := env.agreementService.Approve(ctx, "creator-1", request.ID); err != nil {
		t.Fatalf("Approve failed: %v", err)
	}

	if _, err := env.agreementService.Sign(ctx, "creator-1", request.ID); !errors.Is(err, models.ErrNotRequester) {
		t.Errorf("Expected ErrNotRequester for owner sign, got %v", err)
	}
	if _, err := env.agreementService.Sign(ctx, "investor-2", request.ID); !errors.Is(err, models.ErrNotRequester) {
		t.Errorf("Expected ErrNotRequester for third-party sign, got %v", err)
	}
}

func TestSignIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.assign(t, "creator-1", models.RoleCreator)
	env.assign(t, "investor-1", models.RoleInvestor)

	request, err := env.agreementService.Request(ctx, "investor-1", protectedPitch("pitch-1", "creator-1"))
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	if _, err := env.agreementService.Approve(ctx, "creator-1", request.ID); err != nil {
		t.Fatalf("Approve failed: %v", err)
	}

	first, err := env.agreementService.Sign(ctx, "investor-1", request.ID)
	if err != nil {
		t.Fatalf("First sign failed: %v", err)
	}
	second, err := env.agreementService.Sign(ctx, "investor-1", request.ID)
	if err != nil {
		t.Fatalf("Second sign failed: %v", err)
	}

	if first.AlreadySigned {
		t.Error("First sign should not report AlreadySigned")
	}
	if !second.AlreadySigned {
		t.Error("Second sign should report AlreadySigned")
	}
	if second.Request.SignedAt != first.Request.SignedAt {
		t.Error("Replayed sign must not move the signing timestamp")
	}
	if second.Grant == nil || second.Grant.ID != first.Grant.ID {
		t.Error("Replayed sign must return the existing grant")
	}

	if transitions := env.audit.byAction("nda.sign"); len(transitions) != 1 {
		t.Errorf("Expected exactly one sign transition entry, got %d", len(transitions))
	}
	if duplicates := env.audit.byAction("nda.sign.duplicate"); len(duplicates) != 1 {
		t.Errorf("Expected one duplicate sign attempt entry, got %d", len(duplicates))
	}
}

func TestConcurrentSign(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.assign(t, "creator-1", models.RoleCreator)
	env.assign(t, "investor-1", models.RoleInvestor)

	request, err := env.agreementService.Request(ctx, "investor-1", protectedPitch("pitch-1", "creator-1"))
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	if _, err := env.agreementService.Approve(ctx, "creator-1", request.ID); err != nil {
		t.Fatalf("Approve failed: %v", err)
	}

	const signers = 8
	results := make([]*models.SignResult, signers)
	errs := make([]error, signers)

	var wg sync.WaitGroup
	for i := range signers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = env.agreementService.Sign(ctx, "investor-1", request.ID)
		}(i)
	}
	wg.Wait()

	winners := 0
	for i := range signers {
		if errs[i] != nil {
			t.Fatalf("Sign %d failed: %v", i, errs[i])
		}
		if !results[i].AlreadySigned {
			winners++
		}
	}
	if winners != 1 {
		t.Errorf("Expected exactly one winning sign, got %d", winners)
	}

	grant, err := env.grants.Find(ctx, "investor-1", models.ResourceTypePitch, "pitch-1")
	if err != nil {
		t.Fatalf("Expected a grant after concurrent signing: %v", err)
	}
	if !grant.ActiveAt(time.Now().Unix()) {
		t.Error("Expected the grant to be active")
	}
}

func TestLazyExpiry(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.assign(t, "creator-1", models.RoleCreator)
	env.assign(t, "investor-1", models.RoleInvestor)

	pitch := protectedPitch("pitch-1", "creator-1")

	request, err := env.agreementService.Request(ctx, "investor-1", pitch)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	if _, err := env.agreementService.Approve(ctx, "creator-1", request.ID); err != nil {
		t.Fatalf("Approve failed: %v", err)
	}
	if _, err := env.agreementService.Sign(ctx, "investor-1", request.ID); err != nil {
		t.Fatalf("Sign failed: %v", err)
	}

	// Simulate the TTL passing.
	env.agreements.backdate(request.ID, time.Now().Unix()-60)

	loaded, err := env.agreementService.Get(ctx, request.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if loaded.Status != models.AgreementStatusExpired {
		t.Fatalf("Expected expired on read, got %s", loaded.Status)
	}

	// The grant dies with the agreement.
	has, err := env.grantService.HasAccess(ctx, "investor-1", pitch.Type, pitch.ID, models.AccessLevelView)
	if err != nil {
		t.Fatalf("HasAccess failed: %v", err)
	}
	if has {
		t.Error("Expected no access after expiry")
	}

	if entries := env.audit.byAction("nda.expire"); len(entries) != 1 {
		t.Errorf("Expected one expiry audit entry, got %d", len(entries))
	}

	// Expired is terminal, so the requester may start over.
	if _, err := env.agreementService.Request(ctx, "investor-1", pitch); err != nil {
		t.Errorf("Expected a fresh request after expiry, got %v", err)
	}
}

func TestExpiredGrantDeniesBeforeRead(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.assign(t, "creator-1", models.RoleCreator)
	env.assign(t, "investor-1", models.RoleInvestor)

	pitch := protectedPitch("pitch-1", "creator-1")

	request, err := env.agreementService.Request(ctx, "investor-1", pitch)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	if _, err := env.agreementService.Approve(ctx, "creator-1", request.ID); err != nil {
		t.Fatalf("Approve failed: %v", err)
	}
	result, err := env.agreementService.Sign(ctx, "investor-1", request.ID)
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}

	// Backdate the grant only. Even without any agreement read having
	// flipped the status, the decision engine must not honor it.
	expired := *result.Grant
	expired.ExpiresAt = time.Now().Unix() - 60
	if _, err := env.grants.Upsert(ctx, &expired); err != nil {
		t.Fatalf("Backdating grant failed: %v", err)
	}

	decision, err := env.authorizeService.Authorize(ctx, "investor-1", models.PermPitchViewFull, &pitch)
	if err != nil {
		t.Fatalf("Authorize failed: %v", err)
	}
	if decision.Allowed {
		t.Error("Expected an expired grant to deny access at read time")
	}
}

func TestHandleResourceDeleted(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.assign(t, "creator-1", models.RoleCreator)
	env.assign(t, "investor-1", models.RoleInvestor)
	env.assign(t, "investor-2", models.RoleInvestor)

	pitch := protectedPitch("pitch-1", "creator-1")

	signedRequest, err := env.agreementService.Request(ctx, "investor-1", pitch)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	if _, err := env.agreementService.Approve(ctx, "creator-1", signedRequest.ID); err != nil {
		t.Fatalf("Approve failed: %v", err)
	}
	if _, err := env.agreementService.Sign(ctx, "investor-1", signedRequest.ID); err != nil {
		t.Fatalf("Sign failed: %v", err)
	}

	pendingRequest, err := env.agreementService.Request(ctx, "investor-2", pitch)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}

	if _, err := env.grantService.Grant(ctx, "teammate-1", pitch.Type, pitch.ID, models.AccessLevelEdit, models.GrantMethodTeam, 0); err != nil {
		t.Fatalf("Grant failed: %v", err)
	}

	if err := env.agreementService.HandleResourceDeleted(ctx, pitch.Type, pitch.ID); err != nil {
		t.Fatalf("HandleResourceDeleted failed: %v", err)
	}

	for _, id := range []bson.ObjectID{signedRequest.ID, pendingRequest.ID} {
		request, err := env.agreements.FindByID(ctx, id)
		if err != nil {
			t.Fatalf("FindByID failed: %v", err)
		}
		if request.Status != models.AgreementStatusRevoked {
			t.Errorf("Expected agreement %s revoked, got %s", id.Hex(), request.Status)
		}
	}

	for _, userID := range []string{"investor-1", "teammate-1"} {
		has, err := env.grantService.HasAccess(ctx, userID, pitch.Type, pitch.ID, models.AccessLevelView)
		if err != nil {
			t.Fatalf("HasAccess failed: %v", err)
		}
		if has {
			t.Errorf("Expected no surviving access for %s on the deleted pitch", userID)
		}
	}
}

func TestRebuildFromAgreements(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.assign(t, "creator-1", models.RoleCreator)
	env.assign(t, "investor-1", models.RoleInvestor)

	pitch := protectedPitch("pitch-1", "creator-1")

	request, err := env.agreementService.Request(ctx, "investor-1", pitch)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	if _, err := env.agreementService.Approve(ctx, "creator-1", request.ID); err != nil {
		t.Fatalf("Approve failed: %v", err)
	}
	if _, err := env.agreementService.Sign(ctx, "investor-1", request.ID); err != nil {
		t.Fatalf("Sign failed: %v", err)
	}

	// Simulate a half-applied crash by wiping the ledger side.
	if _, err := env.grants.RevokeByMethod(ctx, models.GrantMethodAgreement, time.Now().Unix()); err != nil {
		t.Fatalf("Clearing grants failed: %v", err)
	}
	has, err := env.grantService.HasAccess(ctx, "investor-1", pitch.Type, pitch.ID, models.AccessLevelView)
	if err != nil {
		t.Fatalf("HasAccess failed: %v", err)
	}
	if has {
		t.Fatal("Expected access gone after wiping the ledger")
	}

	rebuilt, err := env.grantService.RebuildFromAgreements(ctx, env.agreements, testTTLDays*24*time.Hour)
	if err != nil {
		t.Fatalf("RebuildFromAgreements failed: %v", err)
	}
	if rebuilt != 1 {
		t.Errorf("Expected 1 rebuilt grant, got %d", rebuilt)
	}

	has, err = env.grantService.HasAccess(ctx, "investor-1", pitch.Type, pitch.ID, models.AccessLevelView)
	if err != nil {
		t.Fatalf("HasAccess failed: %v", err)
	}
	if !has {
		t.Error("Expected access restored after rebuild")
	}
}
