package schema

import (
	"errors"
	"testing"

	"github.com/edusys/bulkimport/internal/domain"
)

func TestRegistryUnknownEntity(t *testing.T) {
	reg := Default()

	_, err := reg.Entity("enquiry")
	var jobErr *domain.JobError
	if !errors.As(err, &jobErr) {
		t.Fatalf("expected job error, got %v", err)
	}
	if jobErr.Code != domain.JobErrUnknownEntity {
		t.Fatalf("expected unknown_entity, got %s", jobErr.Code)
	}
}

func TestRegistryForcesMatchKeyImmutable(t *testing.T) {
	reg := Default()

	for _, entity := range reg.Entities() {
		es, err := reg.Entity(entity)
		if err != nil {
			t.Fatalf("entity %s: %v", entity, err)
		}
		for _, name := range es.MatchKey {
			f, ok := es.Field(name)
			if !ok {
				t.Fatalf("entity %s: match key field %q not declared", entity, name)
			}
			if !f.Immutable {
				t.Fatalf("entity %s: match key field %q must be immutable", entity, name)
			}
		}
	}
}

func TestRegistryWithSynonymsExtends(t *testing.T) {
	reg := Default()

	extended, err := reg.WithSynonyms(EntityStudent, "mobile", "whatsapp_number")
	if err != nil {
		t.Fatalf("with synonyms: %v", err)
	}

	es, err := extended.Entity(EntityStudent)
	if err != nil {
		t.Fatalf("entity: %v", err)
	}
	f, _ := es.Field("mobile")
	found := false
	for _, syn := range f.Synonyms {
		if syn == "whatsapp_number" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected new synonym to be present, got %v", f.Synonyms)
	}
	if len(f.Synonyms) < 4 {
		t.Fatalf("expected built-in synonyms to be preserved, got %v", f.Synonyms)
	}

	// The original registry must be untouched.
	original, _ := reg.Entity(EntityStudent)
	of, _ := original.Field("mobile")
	for _, syn := range of.Synonyms {
		if syn == "whatsapp_number" {
			t.Fatalf("original registry was mutated")
		}
	}
}

func TestRegistryWithSynonymsUnknownField(t *testing.T) {
	reg := Default()
	if _, err := reg.WithSynonyms(EntityStudent, "nickname", "alias"); err == nil {
		t.Fatalf("expected error for unknown field")
	}
	if _, err := reg.WithSynonyms("enquiry", "mobile", "alias"); err == nil {
		t.Fatalf("expected error for unknown entity")
	}
}

func TestCatalogFinancialEntities(t *testing.T) {
	reg := Default()

	invoice, err := reg.Entity(EntityInvoice)
	if err != nil {
		t.Fatalf("invoice: %v", err)
	}
	f, ok := invoice.Field("student_id")
	if !ok || f.Reference == nil || f.Reference.Entity != EntityStudent {
		t.Fatalf("invoice.student_id must reference a student, got %+v", f)
	}

	installment, err := reg.Entity(EntityInstallment)
	if err != nil {
		t.Fatalf("installment: %v", err)
	}
	f, ok = installment.Field("invoice_id")
	if !ok || f.Reference == nil || f.Reference.Entity != EntityInvoice {
		t.Fatalf("installment.invoice_id must reference an invoice, got %+v", f)
	}

	payment, err := reg.Entity(EntityPayment)
	if err != nil {
		t.Fatalf("payment: %v", err)
	}
	if len(payment.MatchKey) != 0 {
		t.Fatalf("payments are append-only and must carry no match key, got %v", payment.MatchKey)
	}
	if len(payment.OneOf) != 1 {
		t.Fatalf("payment must require one of invoice_id/installment_id, got %+v", payment.OneOf)
	}
}

func TestCatalogReferenceTargets(t *testing.T) {
	reg := Default()
	es, err := reg.Entity(EntityStudent)
	if err != nil {
		t.Fatalf("entity: %v", err)
	}

	targets := es.ReferenceTargets()
	if len(targets) != 4 {
		t.Fatalf("expected 4 distinct targets, got %d: %v", len(targets), targets)
	}
	for _, target := range targets {
		if target.Entity == EntityStudent {
			t.Fatalf("student schema must not reference itself")
		}
	}
}
