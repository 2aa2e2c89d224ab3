package migration

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersionsArePairedAndOrdered(t *testing.T) {
	versions, err := Versions()
	require.NoError(t, err)
	assert.Equal(t, []string{"000001_escrow_core", "000002_outbox_audit"}, versions)
}

func TestUpRequiresHandle(t *testing.T) {
	_, err := Up(nil)
	assert.Error(t, err)
}
