package trigger_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codeberg.org/sverin/daqctl/internal/trigger"
)

func TestSimArmFire(t *testing.T) {
	src := trigger.NewSim(0)
	defer src.Close()

	dst := make([]int16, 32)
	require.NoError(t, src.Arm(trigger.SlotDescriptor{Index: 7, Dst: dst}))

	done, err := src.Fire()
	require.NoError(t, err)

	select {
	case c := <-done:
		require.NoError(t, c.Err)
	case <-time.After(time.Second):
		t.Fatal("completion never delivered")
	}

	var nonZero bool
	for _, s := range dst {
		if s != 0 {
			nonZero = true
			break
		}
	}
	assert.True(t, nonZero, "destination must hold deposited samples")
}

func TestSimFireWithoutArm(t *testing.T) {
	src := trigger.NewSim(0)
	defer src.Close()

	_, err := src.Fire()
	require.Error(t, err)
}

func TestSimDoubleArm(t *testing.T) {
	src := trigger.NewSim(0)
	defer src.Close()

	dst := make([]int16, 8)
	require.NoError(t, src.Arm(trigger.SlotDescriptor{Index: 0, Dst: dst}))
	require.Error(t, src.Arm(trigger.SlotDescriptor{Index: 1, Dst: dst}))
}

func TestSimFaultInjection(t *testing.T) {
	src := trigger.NewSim(0)
	defer src.Close()
	src.FaultAt = func(index uint64) error {
		return fmt.Errorf("fault at %d", index)
	}

	dst := make([]int16, 8)
	require.NoError(t, src.Arm(trigger.SlotDescriptor{Index: 0, Dst: dst}))

	done, err := src.Fire()
	require.NoError(t, err)

	select {
	case c := <-done:
		require.Error(t, c.Err)
	case <-time.After(time.Second):
		t.Fatal("completion never delivered")
	}
}

func TestSimClosed(t *testing.T) {
	src := trigger.NewSim(0)
	require.NoError(t, src.Close())

	err := src.Arm(trigger.SlotDescriptor{Index: 0, Dst: make([]int16, 8)})
	require.Error(t, err)

	_, err = src.Fire()
	require.Error(t, err)
}
