package allocation

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultPolicyIsTotal(t *testing.T) {
	p := DefaultPolicy()
	require.NoError(t, p.Validate())

	for _, ct := range AllCaseTypes() {
		assert.NotEmpty(t, p.EligibleRoles(ct), "case type %s has no role set", ct)
		for _, role := range AllRoles() {
			d := p.Decide(role, ct)
			assert.True(t, d.Action.valid(), "(%s,%s) gave %q", role, ct, d.Action)
			if d.Action == ActionReject {
				assert.NotEmpty(t, d.Reason)
			}
		}
	}
}

func TestDefaultPolicyDecisions(t *testing.T) {
	p := DefaultPolicy()
	cases := []struct {
		role Role
		typ  CaseType
		want Action
	}{
		{RoleGeneralReceiver, TypeGeneral, ActionSelfAssign},
		{RoleGeneralReceiver, TypeEnterprise, ActionSelfAssign},
		{RoleGeneralReceiver, TypeDeveloperTransfer, ActionRotate},
		{RoleGeneralReceiver, TypeDeveloperTransferRegistration, ActionRotate},
		{RoleGeneralReceiver, TypeDeveloperFirst, ActionReject},
		{RoleDeveloper, TypeGeneral, ActionRotate},
		{RoleDeveloper, TypeDeveloperTransfer, ActionRotate},
		{RoleDeveloper, TypeDeveloperFirst, ActionReject},
		{RoleEnterpriseDesk, TypeEnterprise, ActionSelfAssign},
		{RoleEnterpriseDesk, TypeStateOwned, ActionSelfAssign},
		{RoleEnterpriseDesk, TypeDeveloperFirst, ActionSelfAssign},
		{RoleEnterpriseDesk, TypeGeneral, ActionRotate},
		{RoleEnterpriseDesk, TypeDeveloperTransfer, ActionRotate},
		{RoleAdministrator, TypeGeneral, ActionRotate},
		{RoleAdministrator, TypeDeveloperFirst, ActionReject},
	}
	for _, tc := range cases {
		got := p.Decide(tc.role, tc.typ)
		assert.Equal(t, tc.want, got.Action, "(%s,%s)", tc.role, tc.typ)
	}
	assert.Equal(t, rejectDeveloperFirst, p.Decide(RoleDeveloper, TypeDeveloperFirst).Reason)
}

func TestFamilyMapping(t *testing.T) {
	assert.Equal(t, FamilyDeveloperTransfer, FamilyOf(TypeDeveloperTransferRegistration))
	assert.Equal(t, FamilyEnterprise, FamilyOf(TypeStateOwnedEnterprise))
	assert.Equal(t, FamilyEnterprise, FamilyOf(TypeDeveloperFirst))
	assert.Equal(t, []Role{RoleEnterpriseDesk}, DefaultPolicy().EligibleRoles(TypeDeveloperFirst))
	assert.NotContains(t, TypesOf(FamilyGeneral), TypeDeveloperFirst)
	assert.Equal(t, FamilyGeneral, FamilyOf(TypeOther))
	assert.Equal(t, []Role{RoleGeneralReceiver, RoleEnterpriseDesk}, DefaultPolicy().EligibleRoles(TypeDeveloperTransfer))
}

const samplePolicy = `
version: 2
eligibility:
  general: [general-receiver, administrator]
  developer-transfer: [general-receiver]
  enterprise: [state-owned-enterprise-desk]
rules:
  - case_types: [special]
    action: reject
    reason: special cases are closed
  - creator_role: general-receiver
    action: self-assign
`

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy([]byte(samplePolicy))
	require.NoError(t, err)
	assert.Equal(t, 2, p.Version)
	assert.Equal(t, []Role{RoleGeneralReceiver, RoleAdministrator}, p.EligibleRoles(TypeComplex))
	assert.Equal(t, ActionReject, p.Decide(RoleAdministrator, TypeSpecial).Action)
	assert.Equal(t, ActionSelfAssign, p.Decide(RoleGeneralReceiver, TypeDeveloperTransfer).Action)
	assert.Equal(t, ActionRotate, p.Decide(RoleDeveloper, TypeGeneral).Action)
}

func TestParsePolicyRejectsBadDocuments(t *testing.T) {
	cases := map[string]string{
		"unknown field": "version: 1\neligibilty: {}\n",
		"missing family": `
version: 1
eligibility:
  general: [general-receiver]
  enterprise: [state-owned-enterprise-desk]
`,
		"unknown role": `
version: 1
eligibility:
  general: [intern]
  developer-transfer: [general-receiver]
  enterprise: [state-owned-enterprise-desk]
`,
		"reject without reason": `
version: 1
eligibility:
  general: [general-receiver]
  developer-transfer: [general-receiver]
  enterprise: [state-owned-enterprise-desk]
rules:
  - action: reject
`,
		"zero version": `
eligibility:
  general: [general-receiver]
  developer-transfer: [general-receiver]
  enterprise: [state-owned-enterprise-desk]
`,
	}
	for name, doc := range cases {
		_, err := ParsePolicy([]byte(doc))
		assert.Error(t, err, name)
	}
}

func TestLoadPolicy(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(samplePolicy), 0o600))

	p, err := LoadPolicy(path)
	require.NoError(t, err)
	assert.Equal(t, 2, p.Version)

	_, err = LoadPolicy(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}
