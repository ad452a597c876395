package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/processd/internal/contract"
	"github.com/fyrsmithlabs/processd/internal/pattern"
	"github.com/fyrsmithlabs/processd/internal/store"
	"github.com/fyrsmithlabs/processd/internal/tool"
	"github.com/fyrsmithlabs/processd/internal/tool/crm"
)

func TestInstall(t *testing.T) {
	reg := contract.NewRegistry()
	cat := pattern.NewCatalog()
	require.NoError(t, Install(reg, cat))

	assert.Equal(t, []string{
		crm.CreateCustomer, crm.CreateRequest, crm.ScoreLead, crm.SearchCustomers, crm.SendNotification,
	}, reg.Tools())
	assert.Len(t, reg.ListByProcess(LeadIntakeProcess), 5)
	assert.True(t, reg.HasSchema(crm.CreateCustomer))

	p, err := cat.Get(LeadToRequest)
	require.NoError(t, err)
	require.Len(t, p.Steps, 4)
	assert.True(t, p.Steps[0].Optional)
	assert.False(t, p.Steps[1].Optional)
	assert.True(t, p.Steps[3].Optional)

	_, err = cat.Get(NotifyCustomer)
	require.NoError(t, err)
}

func TestInstall_FullCoverage(t *testing.T) {
	reg := contract.NewRegistry()
	cat := pattern.NewCatalog()
	require.NoError(t, Install(reg, cat))

	assert.Empty(t, pattern.Audit(reg, cat.List()))
}

func TestInstall_Twice(t *testing.T) {
	reg := contract.NewRegistry()
	require.NoError(t, Install(reg, pattern.NewCatalog()))

	err := Install(reg, pattern.NewCatalog())
	var dup *contract.DuplicateToolError
	assert.ErrorAs(t, err, &dup)
}

func TestContracts_Semantics(t *testing.T) {
	reg := contract.NewRegistry()
	require.NoError(t, Install(reg, pattern.NewCatalog()))

	search := reg.Get(crm.SearchCustomers)
	require.NotNil(t, search)
	assert.False(t, search.HasSideEffects())

	create := reg.Get(crm.CreateCustomer)
	require.NotNil(t, create)
	assert.Equal(t, crm.DeleteCustomer, create.RollbackTool)
	assert.Equal(t, "{{result.id}}", create.RollbackArgs["id"])

	notify := reg.Get(crm.SendNotification)
	require.NotNil(t, notify)
	assert.True(t, notify.HasSideEffects())
	assert.False(t, notify.Reversible())

	assert.NoError(t, reg.ValidateArgs(crm.CreateCustomer, map[string]any{"name": "John Doe", "email": "john@example.com"}))
	assert.Error(t, reg.ValidateArgs(crm.CreateCustomer, map[string]any{"name": "John Doe", "email": "not-an-email"}))
}

func TestRollbackToolsAreRegisteredTools(t *testing.T) {
	reg := contract.NewRegistry()
	require.NoError(t, Install(reg, pattern.NewCatalog()))

	tools := tool.NewRegistry()
	require.NoError(t, crm.New(store.NewMemoryStore()).Register(tools))
	registered := map[string]bool{}
	for _, n := range tools.Names() {
		registered[n] = true
	}
	for _, name := range reg.Tools() {
		c := reg.Get(name)
		assert.True(t, registered[name], "tool %s", name)
		if c.Reversible() {
			assert.True(t, registered[c.RollbackTool], "rollback tool %s", c.RollbackTool)
		}
	}
}
