package discovery

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContainerNamesCompose(t *testing.T) {
	labels := map[string]string{
		"com.docker.compose.container-number": "1",
		"com.docker.compose.service":          "web",
		"com.docker.compose.project":           "app",
	}

	names := containerNames("/web", labels, "docker")
	assert.ElementsMatch(t, []string{"web.docker", "1.web.app.docker", "web.app.docker"}, names)
}

func TestContainerNamesComposeNonPrimaryInstance(t *testing.T) {
	labels := map[string]string{
		"com.docker.compose.container-number": "2",
		"com.docker.compose.service":          "web",
		"com.docker.compose.project":           "app",
	}

	names := containerNames("/web_2", labels, "docker")
	assert.ElementsMatch(t, []string{"web_2.docker", "2.web.app.docker"}, names)
}

func TestContainerNamesDhnsDomainOverride(t *testing.T) {
	labels := map[string]string{"com.dhns.domain": "custom.example;other.example"}

	names := containerNames("/svc", labels, "docker")
	assert.ElementsMatch(t, []string{"svc.docker", "custom.example", "other.example"}, names)
}

func TestContainerNamesStripsInvalidChars(t *testing.T) {
	names := containerNames("/my@host!", nil, "docker")
	assert.Equal(t, []string{"myhost.docker"}, names)
}

func TestContainerAddrs(t *testing.T) {
	insp := &containerInspect{}
	insp.NetworkSettings.Networks = map[string]struct {
		IPAddress string `json:"IPAddress"`
	}{
		"bridge": {IPAddress: "10.0.0.2"},
		"none":   {IPAddress: ""},
	}

	assert.Equal(t, []string{"10.0.0.2"}, containerAddrs(insp))
}

func TestListenerUnregister(t *testing.T) {
	reg := NewRegistry()
	l := NewListener(nil, reg, "docker", nil)

	// Synthetic container IDs stand in for the 64-char hex IDs the Docker
	// API actually assigns; only uniqueness matters for this test.
	id := uuid.NewString()
	names := []string{"web.app.docker", "1.web.app.docker"}

	for _, name := range names {
		reg.Add(name, []string{"10.0.0.2"})
	}
	l.names[id] = names

	l.unregister(id)

	for _, name := range names {
		_, ok := reg.Lookup(name)
		assert.False(t, ok)
	}

	_, tracked := l.names[id]
	require.False(t, tracked)
}
