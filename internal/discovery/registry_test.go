package discovery

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryAddLookupRemove(t *testing.T) {
	r := NewRegistry()

	r.Add("web.app.docker", []string{"10.0.0.2"})

	addrs, ok := r.Lookup("web.app.docker")
	require.True(t, ok)
	assert.Equal(t, []string{"10.0.0.2"}, addrs)

	addrs, ok = r.Lookup("WEB.APP.DOCKER.")
	require.True(t, ok)
	assert.Equal(t, []string{"10.0.0.2"}, addrs)

	r.Remove("web.app.docker")
	_, ok = r.Lookup("web.app.docker")
	assert.False(t, ok)
}

func TestRegistryRefCounting(t *testing.T) {
	r := NewRegistry()

	r.Add("shared.docker", []string{"10.0.0.2"})
	r.Add("shared.docker", []string{"10.0.0.3"})

	addrs, ok := r.Lookup("shared.docker")
	require.True(t, ok)
	assert.ElementsMatch(t, []string{"10.0.0.2", "10.0.0.3"}, addrs)

	r.Remove("shared.docker")
	_, ok = r.Lookup("shared.docker")
	require.True(t, ok, "entry survives until ref count reaches zero")

	r.Remove("shared.docker")
	_, ok = r.Lookup("shared.docker")
	assert.False(t, ok)
}

func TestRegistryRename(t *testing.T) {
	r := NewRegistry()

	r.Add("web.app.docker", []string{"10.0.0.2"})
	r.Rename("web.app.docker", "web2.app.docker")

	_, ok := r.Lookup("web.app.docker")
	assert.False(t, ok)

	addrs, ok := r.Lookup("web2.app.docker")
	require.True(t, ok)
	assert.Equal(t, []string{"10.0.0.2"}, addrs)
}
