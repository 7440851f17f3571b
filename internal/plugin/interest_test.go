package plugin

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRequestEvent(t *testing.T) {
	m := newTestManager(t, NewRegistry())
	p := &Base{PluginName: "Demo::Events"}

	assert.False(t, m.EventRequested("ssl_established"))
	m.RequestEvent("ssl_established", p)
	m.RequestEvent("ssl_established", nil)
	assert.True(t, m.EventRequested("ssl_established"))
	assert.False(t, m.EventRequested("ssl_client_hello"))
}

func TestRequestObjectDestroy(t *testing.T) {
	m := newTestManager(t, NewRegistry())
	p := &Base{PluginName: "Demo::Objects"}
	watched := &Location{File: "a"}
	other := &Location{File: "a"}

	m.RequestObjectDestroy(watched, p)
	assert.True(t, m.ObjectDestroyRequested(watched))
	assert.False(t, m.ObjectDestroyRequested(other))
}
