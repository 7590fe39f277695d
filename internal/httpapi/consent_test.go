package httpapi

import (
	"net/http"
	"testing"
	"time"

	"github.com/hausruf/hausruf/internal/audit"
	"github.com/hausruf/hausruf/internal/store"
	"github.com/hausruf/hausruf/pkg/types"
)

func seedContact(t *testing.T, h *harness, id string) {
	t.Helper()
	err := h.store.CreateContact(t.Context(), types.Contact{
		ID:       id,
		TenantID: testTenant,
		Name:     "Erika Musterfrau",
		Phone:    "+491701234567",
		Address: types.Address{
			Street: "Hauptstraße", Number: "5", PostalCode: "10115", City: "Berlin",
		},
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestConsentLifecycle(t *testing.T) {
	h := newHarness(t)
	seedContact(t, h, "c-1")

	// Grant.
	code, body := h.do(t, http.MethodPost, "/api/v1/consent/c-1",
		grantConsentRequest{Kind: "reminders", Method: "digital"})
	if code != http.StatusCreated {
		t.Fatalf("grant status = %d, body = %s", code, body)
	}
	granted := unmarshal[types.Consent](t, body)
	if granted.Kind != types.ConsentReminders || granted.RevokedAt != nil {
		t.Errorf("consent = %+v", granted)
	}

	// List shows it.
	code, body = h.do(t, http.MethodGet, "/api/v1/consent/c-1", nil)
	if code != http.StatusOK {
		t.Fatalf("list status = %d", code)
	}
	if list := unmarshal[[]types.Consent](t, body); len(list) != 1 {
		t.Errorf("consents = %d, want 1", len(list))
	}

	// Revoke.
	code, _ = h.do(t, http.MethodDelete, "/api/v1/consent/c-1/reminders", nil)
	if code != http.StatusNoContent {
		t.Fatalf("revoke status = %d", code)
	}

	// Revoking again finds no active record.
	code, _ = h.do(t, http.MethodDelete, "/api/v1/consent/c-1/reminders", nil)
	if code != http.StatusNotFound {
		t.Errorf("second revoke status = %d, want 404", code)
	}

	// Unknown kind is a validation error.
	code, _ = h.do(t, http.MethodDelete, "/api/v1/consent/c-1/newsletter", nil)
	if code != http.StatusBadRequest {
		t.Errorf("bad kind status = %d, want 400", code)
	}
}

func TestAuditQueryAndIntegrity(t *testing.T) {
	h := newHarness(t)

	h.do(t, http.MethodPost, "/api/v1/jobs", createJobReq())

	code, body := h.do(t, http.MethodGet, "/api/v1/audit?action=job_created", nil)
	if code != http.StatusOK {
		t.Fatalf("audit status = %d", code)
	}
	entries := unmarshal[[]audit.Entry](t, body)
	if len(entries) != 1 || entries[0].Action != "job_created" {
		t.Errorf("entries = %+v", entries)
	}

	code, body = h.do(t, http.MethodGet, "/api/v1/audit/integrity", nil)
	if code != http.StatusOK {
		t.Fatalf("integrity status = %d, body = %s", code, body)
	}
}

func TestExportContact(t *testing.T) {
	h := newHarness(t)
	seedContact(t, h, "c-1")

	req := createJobReq()
	req.ContactID = "c-1"
	h.do(t, http.MethodPost, "/api/v1/jobs", req)

	code, body := h.do(t, http.MethodGet, "/api/v1/export/c-1", nil)
	if code != http.StatusOK {
		t.Fatalf("export status = %d, body = %s", code, body)
	}
	bundle := unmarshal[store.ExportBundle](t, body)
	if bundle.Contact.ID != "c-1" || len(bundle.Jobs) != 1 {
		t.Errorf("bundle contact = %q, jobs = %d", bundle.Contact.ID, len(bundle.Jobs))
	}

	// Export of an unknown contact is a 404.
	if code, _ := h.do(t, http.MethodGet, "/api/v1/export/ghost", nil); code != http.StatusNotFound {
		t.Errorf("unknown export status = %d", code)
	}
}

func TestErasureScrubsAndKeepsChain(t *testing.T) {
	h := newHarness(t)
	seedContact(t, h, "c-1")

	req := createJobReq()
	req.ContactID = "c-1"
	h.do(t, http.MethodPost, "/api/v1/jobs", req)

	code, _ := h.do(t, http.MethodDelete, "/api/v1/erasure/c-1", nil)
	if code != http.StatusNoContent {
		t.Fatalf("erasure status = %d", code)
	}

	// Personal fields are scrubbed, keys retained.
	contact, err := h.store.GetContact(t.Context(), testTenant, "c-1")
	if err != nil {
		t.Fatal(err)
	}
	if contact.Name != "" || contact.Phone != "" {
		t.Errorf("contact not scrubbed: %+v", contact)
	}
	if contact.SoftDeletedAt == nil {
		t.Error("contact not soft-deleted")
	}

	// The erasure is audited and the chain still verifies.
	entries, err := h.ledger.List(t.Context(), testTenant, audit.Query{Action: "erasure_executed"})
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("erasure entries = %d, want 1", len(entries))
	}
	if err := h.ledger.Verify(t.Context(), testTenant); err != nil {
		t.Errorf("chain broken after erasure: %v", err)
	}
}
