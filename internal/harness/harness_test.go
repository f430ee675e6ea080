package harness

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/ctrlplane/internal/apitypes"
)

type stubHarness struct{ kind apitypes.HarnessKind }

func (s *stubHarness) Name() apitypes.HarnessKind { return s.kind }
func (s *stubHarness) Start(_ context.Context, _ Config) (Session, error) { return nil, nil }

func TestRegistryResolveUnknownKind(t *testing.T) {
	r := NewRegistry()
	_, err := r.Resolve(apitypes.HarnessClaudeCode)
	require.Error(t, err)
}

func TestRegistryRegisterThenResolve(t *testing.T) {
	r := NewRegistry()
	h := &stubHarness{kind: apitypes.HarnessCodex}
	r.Register(h)

	got, err := r.Resolve(apitypes.HarnessCodex)
	require.NoError(t, err)
	assert.Equal(t, apitypes.HarnessCodex, got.Name())
}

func TestRegistryLaterRegistrationReplacesEarlier(t *testing.T) {
	r := NewRegistry()
	first := &stubHarness{kind: apitypes.HarnessAmp}
	second := &stubHarness{kind: apitypes.HarnessAmp}
	r.Register(first)
	r.Register(second)

	got, err := r.Resolve(apitypes.HarnessAmp)
	require.NoError(t, err)
	assert.Same(t, second, got)
}
