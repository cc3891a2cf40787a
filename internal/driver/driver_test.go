package driver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medres/whatsapp-gateway/internal/wa"
)

func TestFactory(t *testing.T) {
	t.Cleanup(func() { Register(nil) })

	t.Run("unregistered factory fails per connection", func(t *testing.T) {
		Register(nil)

		session, err := Factory()(wa.ClientIdentity{ClientID: "whatsapp-org-org1"})
		require.Error(t, err)
		assert.Nil(t, session)
		assert.Contains(t, err.Error(), "whatsapp-org-org1")
	})

	t.Run("registered factory is returned", func(t *testing.T) {
		called := false
		Register(func(identity wa.ClientIdentity) (wa.Session, error) {
			called = true
			return nil, nil
		})

		_, err := Factory()(wa.ClientIdentity{ClientID: "whatsapp-org-org1"})
		require.NoError(t, err)
		assert.True(t, called)
	})
}
