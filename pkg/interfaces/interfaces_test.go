package interfaces_test

import (
	"testing"

	"campuslink/internal/backplane"
	"campuslink/internal/directory"
	"campuslink/internal/hub"
	"campuslink/internal/router"
	"campuslink/internal/testutil"
	"campuslink/internal/websocket"
	"campuslink/pkg/interfaces"
)

// Architectural Validation Tests

func TestInterfaces_HandleImplementations(t *testing.T) {
	var _ interfaces.Handle = (*websocket.Connection)(nil)
	var _ interfaces.Handle = (*testutil.FakeHandle)(nil)
}

func TestInterfaces_EventRouterImplementations(t *testing.T) {
	// in-process delivery, the event loop in front of it and the broker variant
	var _ interfaces.EventRouter = (*router.Router)(nil)
	var _ interfaces.EventRouter = (*hub.Hub)(nil)
	var _ interfaces.EventRouter = (*backplane.Router)(nil)
}

func TestInterfaces_DirectoryImplementations(t *testing.T) {
	var _ interfaces.Directory = (*directory.Store)(nil)
	var _ interfaces.Directory = (*testutil.MemoryDirectory)(nil)
}
