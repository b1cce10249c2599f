package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"skillhub/backend/pkg/models"
)

func TestTemplateRegistry(t *testing.T) {
	registry := NewTemplateRegistry(DefaultTemplates()...)

	list := registry.List()
	require.Len(t, list, 2)
	assert.Equal(t, models.WorkflowKindClone, list[0].Kind)
	assert.Equal(t, models.WorkflowKindGenerate, list[1].Kind)

	tmpl, ok := registry.Lookup(models.WorkflowKindGenerate)
	require.True(t, ok)
	assert.Equal(t, "Generated workflow", tmpl.Name)

	_, ok = registry.Lookup("remix")
	assert.False(t, ok)

	assert.ErrorIs(t, registry.Register(models.SkillTemplate{Name: "no kind"}), ErrUnknownWorkflowKind)

	require.NoError(t, registry.Register(models.SkillTemplate{Kind: models.WorkflowKindClone, Name: "Fork"}))
	tmpl, _ = registry.Lookup(models.WorkflowKindClone)
	assert.Equal(t, "Fork", tmpl.Name)
	assert.Len(t, registry.List(), 2)
}

func TestRegistriesAreIndependent(t *testing.T) {
	a := NewTemplateRegistry()
	b := NewTemplateRegistry(DefaultTemplates()...)
	assert.Empty(t, a.List())
	assert.Len(t, b.List(), 2)
}
