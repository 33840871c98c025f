package schema

import "github.com/edusys/bulkimport/internal/domain"

const (
	EntityStudent     = "student"
	EntityCourse      = "course"
	EntityBatch       = "batch"
	EntityInvoice     = "invoice"
	EntityInstallment = "installment"
	EntityPayment     = "payment"
)

const (
	patternMobile = `^\d{10}$`
	patternEmail  = `^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`
	patternRegNo  = `^[A-Z]{2,10}-\d+$`
)

func refBranchID() *domain.ReferenceTarget {
	return &domain.ReferenceTarget{Entity: "branch", Key: "id"}
}

func refCourseID() *domain.ReferenceTarget {
	return &domain.ReferenceTarget{Entity: EntityCourse, Key: "id"}
}

func refCourseName() *domain.ReferenceTarget {
	return &domain.ReferenceTarget{Entity: EntityCourse, Key: "name"}
}

func refBatchID() *domain.ReferenceTarget {
	return &domain.ReferenceTarget{Entity: EntityBatch, Key: "id"}
}

func refStudentID() *domain.ReferenceTarget {
	return &domain.ReferenceTarget{Entity: EntityStudent, Key: "id"}
}

func refInvoiceID() *domain.ReferenceTarget {
	return &domain.ReferenceTarget{Entity: EntityInvoice, Key: "id"}
}

func refInstallmentID() *domain.ReferenceTarget {
	return &domain.ReferenceTarget{Entity: EntityInstallment, Key: "id"}
}

// Default returns the registry for the entity types the system imports.
func Default() *Registry {
	return NewRegistry(studentSchema(), courseSchema(), batchSchema(),
		invoiceSchema(), installmentSchema(), paymentSchema())
}

func studentSchema() EntitySchema {
	return EntitySchema{
		Name: EntityStudent,
		Fields: []domain.FieldDescriptor{
			{Name: "full_name", Kind: domain.FieldKindText, Required: true, MaxLength: 120,
				Synonyms: []string{"name", "student_name"}},
			{Name: "mobile", Kind: domain.FieldKindText, Required: true,
				Pattern: patternMobile, Normalize: domain.NormalizePhone,
				Synonyms: []string{"phone", "phone_number", "contact"}},
			{Name: "email", Kind: domain.FieldKindText, Pattern: patternEmail, MaxLength: 120,
				Synonyms: []string{"email_id", "email_address"}},
			{Name: "student_reg_no", Kind: domain.FieldKindText, Pattern: patternRegNo,
				Synonyms: []string{"reg_no", "registration_no", "registration_number"}},
			{Name: "gender", Kind: domain.FieldKindEnum,
				EnumValues: []string{"Male", "Female", "Other"}},
			{Name: "dob", Kind: domain.FieldKindDate,
				Synonyms: []string{"date_of_birth", "birth_date"}},
			{Name: "admission_date", Kind: domain.FieldKindDateTime},
			{Name: "guardian_name", Kind: domain.FieldKindText, MaxLength: 120},
			{Name: "guardian_mobile", Kind: domain.FieldKindText,
				Pattern: patternMobile, Normalize: domain.NormalizePhone},
			{Name: "qualification", Kind: domain.FieldKindText, MaxLength: 120},
			{Name: "address", Kind: domain.FieldKindText, MaxLength: 500},
			{Name: "branch_id", Kind: domain.FieldKindInteger, Reference: refBranchID(),
				Synonyms: []string{"branch"}},
			{Name: "course_id", Kind: domain.FieldKindInteger, Reference: refCourseID()},
			{Name: "course_name", Kind: domain.FieldKindText, Reference: refCourseName(),
				Synonyms: []string{"course"}},
			{Name: "batch_id", Kind: domain.FieldKindInteger, Reference: refBatchID(),
				Synonyms: []string{"batch"}},
			{Name: "lead_source", Kind: domain.FieldKindEnum,
				EnumValues: []string{"Walk-in", "Referral", "Phone", "Instagram", "Facebook", "Google", "College Visit", "Tally", "Other"}},
			{Name: "status", Kind: domain.FieldKindEnum,
				EnumValues: []string{"Active", "Hold", "Inactive", "Dropout", "Completed"}},
		},
		MatchKey: []string{"full_name", "mobile"},
		Compound: []CompoundReference{
			{Field: "batch_id", Owner: "branch_id", Attr: "branch_id"},
			{Field: "batch_id", Owner: "course_id", Attr: "course_id"},
		},
	}
}

func courseSchema() EntitySchema {
	return EntitySchema{
		Name: EntityCourse,
		Fields: []domain.FieldDescriptor{
			{Name: "course_name", Kind: domain.FieldKindText, Required: true, MaxLength: 120,
				Synonyms: []string{"course", "name"}},
			{Name: "course_code", Kind: domain.FieldKindText, MaxLength: 20,
				Synonyms: []string{"code"}},
			{Name: "duration", Kind: domain.FieldKindText, Required: true, MaxLength: 50},
			{Name: "fee", Kind: domain.FieldKindDecimal, Required: true, NonNegative: true,
				Synonyms: []string{"course_fee"}},
			{Name: "registration_fee", Kind: domain.FieldKindDecimal, NonNegative: true},
			{Name: "category", Kind: domain.FieldKindEnum,
				EnumValues: []string{"Programming", "Office Suite", "Web Development", "Data Science", "Digital Marketing", "Graphic Design", "Hardware", "Networking", "Cloud Computing", "Mobile Development", "Other"}},
			{Name: "difficulty_level", Kind: domain.FieldKindEnum,
				EnumValues: []string{"Beginner", "Intermediate", "Advanced", "Expert"}},
			{Name: "delivery_mode", Kind: domain.FieldKindEnum,
				EnumValues: []string{"Classroom", "Online", "Hybrid"}},
			{Name: "status", Kind: domain.FieldKindEnum,
				EnumValues: []string{"Active", "Inactive", "Draft", "Archived"}},
			{Name: "description", Kind: domain.FieldKindText, MaxLength: 2000},
			{Name: "batch_size_min", Kind: domain.FieldKindInteger, NonNegative: true, Group: "batch_size"},
			{Name: "batch_size_max", Kind: domain.FieldKindInteger, NonNegative: true, Group: "batch_size"},
			{Name: "has_certification", Kind: domain.FieldKindBoolean},
		},
		MatchKey: []string{"course_name"},
		Groups: []ConstraintGroup{
			{ID: "batch_size", Fields: []string{"batch_size_min", "batch_size_max"},
				Rule: GroupRuleAscending, Message: "batch size minimum cannot exceed maximum"},
		},
	}
}

func invoiceSchema() EntitySchema {
	return EntitySchema{
		Name: EntityInvoice,
		Fields: []domain.FieldDescriptor{
			{Name: "student_id", Kind: domain.FieldKindInteger, Required: true, Reference: refStudentID(),
				Synonyms: []string{"student"}},
			{Name: "total_amount", Kind: domain.FieldKindDecimal, Required: true, NonNegative: true,
				Synonyms: []string{"total", "amount"}},
			{Name: "paid_amount", Kind: domain.FieldKindDecimal, NonNegative: true},
			{Name: "due_amount", Kind: domain.FieldKindDecimal, NonNegative: true},
			{Name: "discount", Kind: domain.FieldKindDecimal, NonNegative: true},
			{Name: "enrollment_date", Kind: domain.FieldKindDate, Required: true},
			{Name: "invoice_date", Kind: domain.FieldKindDate},
			{Name: "due_date", Kind: domain.FieldKindDate},
		},
		MatchKey: []string{"student_id", "enrollment_date"},
	}
}

func installmentSchema() EntitySchema {
	return EntitySchema{
		Name: EntityInstallment,
		Fields: []domain.FieldDescriptor{
			{Name: "invoice_id", Kind: domain.FieldKindInteger, Required: true, Reference: refInvoiceID(),
				Synonyms: []string{"invoice"}},
			{Name: "due_date", Kind: domain.FieldKindDate, Required: true},
			{Name: "amount", Kind: domain.FieldKindDecimal, Required: true, NonNegative: true},
			{Name: "paid_amount", Kind: domain.FieldKindDecimal, NonNegative: true},
			{Name: "balance_amount", Kind: domain.FieldKindDecimal, NonNegative: true},
			{Name: "late_fee", Kind: domain.FieldKindDecimal, NonNegative: true},
			{Name: "discount_amount", Kind: domain.FieldKindDecimal, NonNegative: true},
			{Name: "status", Kind: domain.FieldKindEnum,
				EnumValues: []string{"pending", "paid", "overdue", "partial"}},
		},
		MatchKey: []string{"invoice_id", "due_date"},
	}
}

// paymentSchema has no match key: payments are append-only ledger entries and
// the source system never de-duplicates them.
func paymentSchema() EntitySchema {
	return EntitySchema{
		Name: EntityPayment,
		Fields: []domain.FieldDescriptor{
			{Name: "amount", Kind: domain.FieldKindDecimal, Required: true, NonNegative: true},
			{Name: "mode", Kind: domain.FieldKindEnum, Required: true,
				EnumValues: []string{"Cash", "Card", "UPI", "NEFT", "RTGS", "Cheque", "Online"},
				Synonyms:   []string{"payment_mode", "method"}},
			{Name: "payment_date", Kind: domain.FieldKindDateTime,
				Synonyms: []string{"paid_on"}},
			{Name: "invoice_id", Kind: domain.FieldKindInteger, Reference: refInvoiceID(),
				Synonyms: []string{"invoice"}},
			{Name: "installment_id", Kind: domain.FieldKindInteger, Reference: refInstallmentID(),
				Synonyms: []string{"installment"}},
			{Name: "notes", Kind: domain.FieldKindText, MaxLength: 500},
		},
		OneOf: []OneOfRequirement{
			{Fields: []string{"invoice_id", "installment_id"},
				Message: "either invoice_id or installment_id is required"},
		},
	}
}

func batchSchema() EntitySchema {
	return EntitySchema{
		Name: EntityBatch,
		Fields: []domain.FieldDescriptor{
			{Name: "name", Kind: domain.FieldKindText, Required: true, MaxLength: 120,
				Synonyms: []string{"batch_name"}},
			{Name: "course_id", Kind: domain.FieldKindInteger, Required: true, Reference: refCourseID()},
			{Name: "course_name", Kind: domain.FieldKindText, Reference: refCourseName(),
				Synonyms: []string{"course"}},
			{Name: "branch_id", Kind: domain.FieldKindInteger, Required: true, Reference: refBranchID(),
				Synonyms: []string{"branch"}},
			{Name: "start_date", Kind: domain.FieldKindDate, Required: true, Group: "schedule"},
			{Name: "end_date", Kind: domain.FieldKindDate, Group: "schedule"},
			{Name: "checkin_time", Kind: domain.FieldKindTime, Group: "hours"},
			{Name: "checkout_time", Kind: domain.FieldKindTime, Group: "hours"},
			{Name: "max_capacity", Kind: domain.FieldKindInteger, NonNegative: true},
			{Name: "status", Kind: domain.FieldKindEnum,
				EnumValues: []string{"Active", "Completed", "Suspended", "Cancelled", "Archived"}},
		},
		MatchKey: []string{"name", "branch_id"},
		Groups: []ConstraintGroup{
			{ID: "schedule", Fields: []string{"start_date", "end_date"},
				Rule: GroupRuleStrictAscending, Message: "start date must be before end date"},
			{ID: "hours", Fields: []string{"checkin_time", "checkout_time"},
				Rule: GroupRuleStrictAscending, Message: "check-in time must be before check-out time"},
		},
	}
}
