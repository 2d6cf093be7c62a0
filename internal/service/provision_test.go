package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/voteguard/voteguard-identity/internal/notify"
	"github.com/voteguard/voteguard-identity/internal/pki"
	"github.com/voteguard/voteguard-identity/internal/protocol"
	"github.com/voteguard/voteguard-identity/internal/storage/storagetest"
)

type fakeIssuer struct {
	mu      sync.Mutex
	issued  []string
	failFor map[string]error
}

func (f *fakeIssuer) Issue(ctx context.Context, username string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.failFor[usernameBase(username)]; ok {
		return "", err
	}
	f.issued = append(f.issued, username)
	return "-----BEGIN CERTIFICATE-----\n" + username + "\n-----END CERTIFICATE-----\n", nil
}

// usernameBase strips the random digit suffix so tests can target a record
// without knowing the synthesized username in advance.
func usernameBase(username string) string {
	return strings.TrimRight(username, "0123456789")
}

type fakeNotifier struct {
	mu        sync.Mutex
	delivered []notify.Credentials
	failFor   string
}

func (f *fakeNotifier) DeliverCredentials(ctx context.Context, creds notify.Credentials) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failFor != "" && f.failFor == creds.Email {
		return errors.New("smtp relay unavailable")
	}
	f.delivered = append(f.delivered, creds)
	return nil
}

func newTestProvision(t *testing.T, store *storagetest.MemStore, issuer *fakeIssuer, notifier *fakeNotifier) *ProvisionService {
	t.Helper()
	svc, err := NewProvision(ProvisionParams{
		Store:          store,
		Authority:      issuer,
		Notifier:       notifier,
		TOTPIssuer:     "Voteguard Voting System",
		MaxConcurrency: 2,
	})
	if err != nil {
		t.Fatalf("new provision service: %v", err)
	}
	return svc
}

func TestImportProvisionsEveryRecord(t *testing.T) {
	store := storagetest.New()
	issuer := &fakeIssuer{}
	notifier := &fakeNotifier{}
	svc := newTestProvision(t, store, issuer, notifier)

	outcomes := svc.ImportIdentities(context.Background(), []protocol.ImportRecord{
		{FullName: "Alice Ames", Email: "alice@x.com", PhoneNumber: "+15550001"},
		{FullName: "Bob Brown", Email: "bob@x.com"},
	})
	if len(outcomes) != 2 {
		t.Fatalf("expected 2 outcomes, got %d", len(outcomes))
	}
	for _, outcome := range outcomes {
		if outcome.Status != protocol.ImportStatusProvisioned {
			t.Fatalf("expected provisioned, got %+v", outcome)
		}
		if outcome.Username == "" {
			t.Fatalf("outcome missing username: %+v", outcome)
		}
	}
	if n, _ := store.CountIdentities(context.Background()); n != 2 {
		t.Fatalf("expected 2 stored identities, got %d", n)
	}
	if len(notifier.delivered) != 2 {
		t.Fatalf("expected 2 deliveries, got %d", len(notifier.delivered))
	}
	for _, creds := range notifier.delivered {
		if creds.Password == "" || creds.CertificatePEM == "" || creds.Enrollment.QRCode == "" {
			t.Fatalf("delivery missing credential material: %+v", creds)
		}
	}
}

func TestImportUsernameSynthesis(t *testing.T) {
	store := storagetest.New()
	svc := newTestProvision(t, store, &fakeIssuer{}, &fakeNotifier{})

	outcomes := svc.ImportIdentities(context.Background(), []protocol.ImportRecord{
		{FullName: "  Maria De La Cruz ", Email: "maria@x.com"},
	})
	username := outcomes[0].Username
	if !strings.HasPrefix(username, "maria_de_la_cruz") {
		t.Fatalf("unexpected username base %q", username)
	}
	suffix := strings.TrimPrefix(username, "maria_de_la_cruz")
	if len(suffix) != 3 {
		t.Fatalf("expected 3-digit suffix, got %q", suffix)
	}
	for _, r := range suffix {
		if r < '0' || r > '9' {
			t.Fatalf("suffix must be digits, got %q", suffix)
		}
	}
}

func TestImportStripsUnsafeUsernameCharacters(t *testing.T) {
	store := storagetest.New()
	svc := newTestProvision(t, store, &fakeIssuer{}, &fakeNotifier{})

	outcomes := svc.ImportIdentities(context.Background(), []protocol.ImportRecord{
		{FullName: "../../tmp/evil O'Brien", Email: "evil@x.com"},
	})
	outcome := outcomes[0]
	if outcome.Status != protocol.ImportStatusProvisioned {
		t.Fatalf("expected provisioned, got %+v", outcome)
	}
	if !strings.HasPrefix(outcome.Username, "tmpevil_obrien") {
		t.Fatalf("unexpected username base %q", outcome.Username)
	}
	for _, r := range outcome.Username {
		if !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '_') {
			t.Fatalf("username %q contains unsafe character %q", outcome.Username, r)
		}
	}
}

func TestImportFailsWhenNoUsernameCanBeSynthesized(t *testing.T) {
	store := storagetest.New()
	svc := newTestProvision(t, store, &fakeIssuer{}, &fakeNotifier{})

	outcomes := svc.ImportIdentities(context.Background(), []protocol.ImportRecord{
		{FullName: "../ ..", Email: "dots@x.com"},
	})
	outcome := outcomes[0]
	if outcome.Status != protocol.ImportStatusFailed || outcome.Stage != ImportStagePersist {
		t.Fatalf("expected persist-stage failure, got %+v", outcome)
	}
	if n, _ := store.CountIdentities(context.Background()); n != 0 {
		t.Fatalf("record without a usable name must not be persisted")
	}
}

func TestImportRecordFailuresAreIndependent(t *testing.T) {
	store := storagetest.New()
	issuer := &fakeIssuer{failFor: map[string]error{
		"bob_brown": &pki.StageError{Stage: pki.StageSign, Err: errors.New("ca key unavailable")},
	}}
	notifier := &fakeNotifier{}
	svc := newTestProvision(t, store, issuer, notifier)

	outcomes := svc.ImportIdentities(context.Background(), []protocol.ImportRecord{
		{FullName: "Alice Ames", Email: "alice@x.com"},
		{FullName: "Bob Brown", Email: "bob@x.com"},
		{FullName: "Carol Cole", Email: "carol@x.com"},
	})

	byName := make(map[string]protocol.ImportOutcome, len(outcomes))
	for _, outcome := range outcomes {
		byName[outcome.FullName] = outcome
	}
	if byName["Alice Ames"].Status != protocol.ImportStatusProvisioned {
		t.Errorf("alice should provision despite bob's failure: %+v", byName["Alice Ames"])
	}
	if byName["Carol Cole"].Status != protocol.ImportStatusProvisioned {
		t.Errorf("carol should provision despite bob's failure: %+v", byName["Carol Cole"])
	}
	bob := byName["Bob Brown"]
	if bob.Status != protocol.ImportStatusFailed {
		t.Fatalf("expected bob to fail, got %+v", bob)
	}
	if bob.Stage != pki.StageSign {
		t.Errorf("outcome must name the failed pipeline stage, got %q", bob.Stage)
	}
}

func TestImportReportsValidationStage(t *testing.T) {
	store := storagetest.New()
	svc := newTestProvision(t, store, &fakeIssuer{}, &fakeNotifier{})

	outcomes := svc.ImportIdentities(context.Background(), []protocol.ImportRecord{
		{FullName: "No Email"},
	})
	if outcomes[0].Status != protocol.ImportStatusFailed || outcomes[0].Stage != ImportStageValidate {
		t.Fatalf("expected validate-stage failure, got %+v", outcomes[0])
	}
	if n, _ := store.CountIdentities(context.Background()); n != 0 {
		t.Fatalf("invalid record must not be persisted")
	}
}

func TestImportReportsPersistStageOnDuplicateEmail(t *testing.T) {
	store := storagetest.New()
	svc := newTestProvision(t, store, &fakeIssuer{}, &fakeNotifier{})

	first := svc.ImportIdentities(context.Background(), []protocol.ImportRecord{
		{FullName: "Alice Ames", Email: "alice@x.com"},
	})
	if first[0].Status != protocol.ImportStatusProvisioned {
		t.Fatalf("setup import failed: %+v", first[0])
	}

	second := svc.ImportIdentities(context.Background(), []protocol.ImportRecord{
		{FullName: "Alice Other", Email: "alice@x.com"},
	})
	if second[0].Status != protocol.ImportStatusFailed || second[0].Stage != ImportStagePersist {
		t.Fatalf("expected persist-stage failure for duplicate email, got %+v", second[0])
	}
}

func TestImportReportsNotifyStage(t *testing.T) {
	store := storagetest.New()
	notifier := &fakeNotifier{failFor: "dave@x.com"}
	svc := newTestProvision(t, store, &fakeIssuer{}, notifier)

	outcomes := svc.ImportIdentities(context.Background(), []protocol.ImportRecord{
		{FullName: "Dave Dunn", Email: "dave@x.com"},
	})
	outcome := outcomes[0]
	if outcome.Status != protocol.ImportStatusFailed || outcome.Stage != ImportStageNotify {
		t.Fatalf("expected notify-stage failure, got %+v", outcome)
	}
	// The identity itself was provisioned; only delivery failed.
	if n, _ := store.CountIdentities(context.Background()); n != 1 {
		t.Fatalf("identity should survive a delivery failure, have %d", n)
	}
}

func TestImportRetriesUsernameCollisionOnce(t *testing.T) {
	store := storagetest.New()
	svc := newTestProvision(t, store, &fakeIssuer{}, &fakeNotifier{})

	first := svc.ImportIdentities(context.Background(), []protocol.ImportRecord{
		{FullName: "Alice Ames", Email: "alice@x.com"},
	})
	if first[0].Status != protocol.ImportStatusProvisioned {
		t.Fatalf("setup import failed: %+v", first[0])
	}

	// Same full name but a different email synthesizes a colliding base; the
	// random suffix makes an actual collision unlikely, so just assert the
	// record still provisions with a distinct username.
	second := svc.ImportIdentities(context.Background(), []protocol.ImportRecord{
		{FullName: "Alice Ames", Email: "alice2@x.com"},
	})
	if second[0].Status != protocol.ImportStatusProvisioned {
		t.Fatalf("expected provisioned, got %+v", second[0])
	}
	if second[0].Username == first[0].Username {
		t.Fatalf("usernames must be distinct, both %q", second[0].Username)
	}
}
