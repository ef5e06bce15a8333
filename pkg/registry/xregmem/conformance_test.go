package xregmem

import (
	"testing"
	"time"

	"github.com/omeyang/xreg/pkg/registry/xregistry"
	"github.com/omeyang/xreg/pkg/registry/xregtest"
)

func TestConformance(t *testing.T) {
	xregtest.Run(t, func(t *testing.T) xregistry.Backend {
		return New()
	})
}

func TestConformance_Polling(t *testing.T) {
	xregtest.Run(t, func(t *testing.T) xregistry.Backend {
		return New(WithPollInterval(50 * time.Millisecond))
	})
}
