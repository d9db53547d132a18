package allocation

import (
	"strings"
	"time"
)

// Role is a staff role category.
type Role string

const (
	RoleGeneralReceiver Role = "general-receiver"
	RoleDeveloper       Role = "developer"
	RoleEnterpriseDesk  Role = "state-owned-enterprise-desk"
	RoleAdministrator   Role = "administrator"
)

// AllRoles lists every known role.
func AllRoles() []Role {
	return []Role{RoleGeneralReceiver, RoleDeveloper, RoleEnterpriseDesk, RoleAdministrator}
}

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	for _, known := range AllRoles() {
		if r == known {
			return true
		}
	}
	return false
}

// ParseRole normalises user input into a Role.
func ParseRole(s string) (Role, bool) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	return r, r.Valid()
}

// CaseType is drawn from a fixed taxonomy.
type CaseType string

const (
	TypeGeneral                       CaseType = "general"
	TypeComplex                       CaseType = "complex"
	TypeSpecial                       CaseType = "special"
	TypePartitionTransfer             CaseType = "partition-transfer"
	TypeSelfBuiltHouse                CaseType = "self-built-house"
	TypeDeveloperFirst                CaseType = "developer-first"
	TypeDeveloperTransfer             CaseType = "developer-transfer"
	TypeDeveloperTransferRegistration CaseType = "developer-transfer-registration"
	TypeStateOwnedEnterprise          CaseType = "state-owned-enterprise"
	TypeStateOwned                    CaseType = "state-owned"
	TypeEnterprise                    CaseType = "enterprise"
	TypeOther                         CaseType = "other"
)

// AllCaseTypes returns the full taxonomy in a stable order.
func AllCaseTypes() []CaseType {
	return []CaseType{
		TypeGeneral, TypeComplex, TypeSpecial, TypePartitionTransfer, TypeSelfBuiltHouse,
		TypeDeveloperFirst, TypeDeveloperTransfer, TypeDeveloperTransferRegistration,
		TypeStateOwnedEnterprise, TypeStateOwned, TypeEnterprise, TypeOther,
	}
}

// Valid reports whether t belongs to the taxonomy.
func (t CaseType) Valid() bool {
	for _, known := range AllCaseTypes() {
		if t == known {
			return true
		}
	}
	return false
}

// ParseCaseType normalises user input into a CaseType.
func ParseCaseType(s string) (CaseType, bool) {
	t := CaseType(strings.ToLower(strings.TrimSpace(s)))
	return t, t.Valid()
}

// Family groups case types that share one candidate pool and one rotation counter.
type Family string

const (
	FamilyGeneral           Family = "general"
	FamilyDeveloperTransfer Family = "developer-transfer"
	FamilyEnterprise        Family = "enterprise"
)

// AllFamilies lists every eligibility bucket.
func AllFamilies() []Family {
	return []Family{FamilyGeneral, FamilyDeveloperTransfer, FamilyEnterprise}
}

// Valid reports whether f is a known family.
func (f Family) Valid() bool {
	for _, known := range AllFamilies() {
		if f == known {
			return true
		}
	}
	return false
}

// FamilyOf maps a case type onto its eligibility bucket.
func FamilyOf(t CaseType) Family {
	switch t {
	case TypeDeveloperTransfer, TypeDeveloperTransferRegistration:
		return FamilyDeveloperTransfer
	case TypeDeveloperFirst, TypeStateOwnedEnterprise, TypeStateOwned, TypeEnterprise:
		return FamilyEnterprise
	default:
		return FamilyGeneral
	}
}

// TypesOf returns every case type in family f.
func TypesOf(f Family) []CaseType {
	var out []CaseType
	for _, t := range AllCaseTypes() {
		if FamilyOf(t) == f {
			out = append(out, t)
		}
	}
	return out
}

// Receiver is a staff member who may be assigned cases.
type Receiver struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	Role   Role   `json:"role"`
	Active bool   `json:"active"`
}

// CaseDraft is an unsaved case as submitted by its creator.
type CaseDraft struct {
	Number          string   `json:"case_number" validate:"max=64"`
	Type            CaseType `json:"case_type" validate:"required"`
	CreatorID       int64    `json:"creator_id" validate:"required,gt=0"`
	RequestingParty string   `json:"requesting_party" validate:"max=200"`
	Agent           string   `json:"agent" validate:"max=100"`
	Contact         string   `json:"contact" validate:"max=100"`
	Description     string   `json:"description" validate:"max=2000"`
}

// Case is a persisted intake record.
type Case struct {
	ID              int64      `json:"id"`
	Number          string     `json:"case_number,omitempty"`
	Type            CaseType   `json:"case_type"`
	CreatorID       int64      `json:"creator_id"`
	CreatedAt       time.Time  `json:"created_at"`
	ReceiverID      *int64     `json:"receiver_id,omitempty"`
	ReceiverName    string     `json:"receiver_name,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	RequestingParty string     `json:"requesting_party,omitempty"`
	Agent           string     `json:"agent,omitempty"`
	Contact         string     `json:"contact,omitempty"`
	Description     string     `json:"description,omitempty"`
}

// AllocationRecord is one immutable entry of a case's assignment lineage.
// The receiver names are joined on read and never stored.
type AllocationRecord struct {
	ID                   int64     `json:"id"`
	CaseID               int64     `json:"case_id"`
	PreviousReceiverID   *int64    `json:"previous_receiver_id"`
	NewReceiverID        int64     `json:"new_receiver_id"`
	AllocatedBy          string    `json:"allocated_by"`
	Reason               string    `json:"reason,omitempty"`
	AllocatedAt          time.Time `json:"allocated_at"`
	PreviousReceiverName string    `json:"previous_receiver_name,omitempty"`
	NewReceiverName      string    `json:"new_receiver_name,omitempty"`
}
