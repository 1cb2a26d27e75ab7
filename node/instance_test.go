package node

import (
	"bytes"
	"testing"

	"github.com/cogu/apx-go/apxerr"
	"github.com/cogu/apx-go/apxvm"
)

func mustNode(t *testing.T, name string, def string, provide, require []*apxvm.Element) *Node {
	t.Helper()
	n, err := NewNode(name, []byte(def), provide, require)
	if err != nil {
		t.Fatalf("NewNode: %v", err)
	}
	return n
}

func TestNewInstanceAllocatesBuffers(t *testing.T) {
	n := mustNode(t, "TestNode1", "APX/1.2\nN\"TestNode1\"\n",
		[]*apxvm.Element{apxvm.NewScalar("ProvidePort1", apxvm.KindU8)},
		[]*apxvm.Element{apxvm.NewScalar("RequirePort1", apxvm.KindU32)})
	inst := NewInstance(n)

	if got := len(inst.areas[AreaDefinition].data); got != len(n.DefinitionText) {
		t.Errorf("definition buffer size = %d, want %d", got, len(n.DefinitionText))
	}
	if got := len(inst.areas[AreaProvide].data); got != 1 {
		t.Errorf("provide buffer size = %d, want 1", got)
	}
	if got := len(inst.areas[AreaRequire].data); got != 4 {
		t.Errorf("require buffer size = %d, want 4", got)
	}
	if !bytes.Equal(inst.areas[AreaDefinition].data, n.DefinitionText) {
		t.Error("definition buffer not pre-populated from DefinitionText")
	}
}

// TestInitValuesDoNotConnectArea confirms a freshly built Instance's
// provide/require areas stay at their zero-value lifecycle state even when
// their ports declare `:=v` initial values — those are construction-time
// defaults, not a peer write, and must not trip WriteAreaData's
// first-write-connects behavior (spec.md §3).
func TestInitValuesDoNotConnectArea(t *testing.T) {
	n := mustNode(t, "TestNode1", "APX/1.2\n",
		[]*apxvm.Element{apxvm.NewScalar("ProvidePort1", apxvm.KindU8).WithInitValue(apxvm.NewUint(apxvm.KindU8, 7))},
		[]*apxvm.Element{apxvm.NewScalar("RequirePort1", apxvm.KindU8).WithInitValue(apxvm.NewUint(apxvm.KindU8, 9))})
	inst := NewInstance(n)

	if got := inst.GetState(AreaProvide); got != StateInit {
		t.Errorf("provide area state after init-value seeding = %v, want INIT", got)
	}
	if got := inst.GetState(AreaRequire); got != StateInit {
		t.Errorf("require area state after init-value seeding = %v, want INIT", got)
	}
	got, err := inst.GetProvidePortValue(0)
	if err != nil {
		t.Fatalf("GetProvidePortValue: %v", err)
	}
	if got.U != 7 {
		t.Errorf("provide init value = %d, want 7", got.U)
	}
}

func TestStateTransitions(t *testing.T) {
	inst := NewPendingInstance(8)
	if got := inst.GetState(AreaDefinition); got != StateInit {
		t.Fatalf("initial state = %v, want INIT", got)
	}
	inst.SetState(AreaDefinition, StateWaitingForFileData)
	if got := inst.GetState(AreaDefinition); got != StateWaitingForFileData {
		t.Fatalf("state = %v, want WAITING_FOR_FILE_DATA", got)
	}
}

func TestWriteAreaDataTransitionsToConnected(t *testing.T) {
	inst := NewPendingInstance(8)
	inst.SetState(AreaDefinition, StateWaitingForFileData)
	if err := inst.WriteDefinitionData(0, []byte("hello")); err != nil {
		t.Fatalf("WriteDefinitionData: %v", err)
	}
	if got := inst.GetState(AreaDefinition); got != StateConnected {
		t.Errorf("state after first write = %v, want CONNECTED", got)
	}
	if !bytes.Equal(inst.areas[AreaDefinition].data[:5], []byte("hello")) {
		t.Errorf("buffer contents = %q, want %q", inst.areas[AreaDefinition].data[:5], "hello")
	}
	for i := 0; i < 5; i++ {
		if inst.areas[AreaDefinition].dirty[i] != 1 {
			t.Errorf("dirty[%d] = 0, want 1", i)
		}
	}
}

func TestWriteAreaDataOutOfBounds(t *testing.T) {
	inst := NewPendingInstance(4)
	err := inst.WriteDefinitionData(2, []byte("abc"))
	if apxerr.KindOf(err) != apxerr.BufferBoundary {
		t.Fatalf("expected BufferBoundary, got %v", err)
	}
}

func TestReadProvidePortData(t *testing.T) {
	n := mustNode(t, "TestNode1", "APX/1.2\n",
		[]*apxvm.Element{apxvm.NewScalar("ProvidePort1", apxvm.KindU32)}, nil)
	inst := NewInstance(n)
	if err := inst.WriteAreaData(AreaProvide, 0, []byte{0x01, 0x02, 0x03, 0x04}); err != nil {
		t.Fatal(err)
	}
	dest := make([]byte, 4)
	n2, err := inst.ReadProvidePortData(0, dest)
	if err != nil {
		t.Fatal(err)
	}
	if n2 != 4 || !bytes.Equal(dest, []byte{0x01, 0x02, 0x03, 0x04}) {
		t.Errorf("got %v (n=%d), want [1 2 3 4] (n=4)", dest, n2)
	}
}

func TestDigestMemoized(t *testing.T) {
	inst := NewPendingInstance(4)
	inst.WriteDefinitionData(0, []byte{1, 2, 3, 4})
	d1 := inst.Digest()
	// Mutate the underlying buffer directly; Digest must not recompute.
	inst.areas[AreaDefinition].data[0] = 0xFF
	d2 := inst.Digest()
	if d1 != d2 {
		t.Error("Digest recomputed after first call; expected memoized result")
	}
}

func TestPortValueRoundTrip(t *testing.T) {
	n := mustNode(t, "TestNode1", "APX/1.2\n",
		[]*apxvm.Element{apxvm.NewScalar("ProvidePort1", apxvm.KindU16)},
		[]*apxvm.Element{apxvm.NewScalar("RequirePort1", apxvm.KindU8).WithRange(0, 7, true)})
	inst := NewInstance(n)

	if err := inst.SetProvidePortValue(0, apxvm.NewUint(apxvm.KindU16, 0x1234)); err != nil {
		t.Fatalf("SetProvidePortValue: %v", err)
	}
	got, err := inst.GetProvidePortValue(0)
	if err != nil {
		t.Fatalf("GetProvidePortValue: %v", err)
	}
	if got.U != 0x1234 {
		t.Errorf("got %#x, want 0x1234", got.U)
	}

	if err := inst.SetRequirePortValue(0, apxvm.NewUint(apxvm.KindU8, 7)); err != nil {
		t.Fatalf("SetRequirePortValue: %v", err)
	}
	if _, err := inst.GetRequirePortValue(0); err != nil {
		t.Fatalf("GetRequirePortValue: %v", err)
	}

	if err := inst.SetRequirePortValue(0, apxvm.NewUint(apxvm.KindU8, 8)); apxerr.KindOf(err) != apxerr.ValueRange {
		t.Errorf("expected ValueRange packing 8 into C(0,7), got %v", err)
	}
}

func TestAllWritten(t *testing.T) {
	inst := NewPendingInstance(4)
	if inst.AllWritten(AreaDefinition) {
		t.Fatal("AllWritten should be false before any write")
	}
	inst.WriteDefinitionData(0, []byte{1, 2})
	if inst.AllWritten(AreaDefinition) {
		t.Fatal("AllWritten should be false after a partial write")
	}
	inst.WriteDefinitionData(2, []byte{3, 4})
	if !inst.AllWritten(AreaDefinition) {
		t.Error("AllWritten should be true once every byte has been written")
	}
}

func TestPortValueNodeMissing(t *testing.T) {
	inst := NewPendingInstance(4)
	if _, err := inst.GetProvidePortValue(0); apxerr.KindOf(err) != apxerr.NodeMissing {
		t.Errorf("expected NodeMissing, got %v", err)
	}
}

// TestDynamicArrayPortRoundTrip guards against under-sizing a dynamic-array
// port: a P"Speed"S[10*] port's buffer slot must reserve the length prefix
// plus the full 10*2-byte element reserve, not just the prefix (spec.md
// §4.4/§4.5), or packing any non-empty value overruns the port's own
// make([]byte, p.Size) scratch buffer.
func TestDynamicArrayPortRoundTrip(t *testing.T) {
	n := mustNode(t, "TestNode1", "APX/1.2\n",
		[]*apxvm.Element{apxvm.NewDynamicArray("Speed", apxvm.KindU16, 10)}, nil)
	inst := NewInstance(n)

	port := n.ProvidePorts[0]
	if want := uint32(1 + 10*2); port.Size != want {
		t.Fatalf("port.Size = %d, want %d (prefix + 10*2 reserve)", port.Size, want)
	}

	v := apxvm.Value{Kind: apxvm.KindArray, Array: []apxvm.Value{
		apxvm.NewUint(apxvm.KindU16, 10),
		apxvm.NewUint(apxvm.KindU16, 20),
		apxvm.NewUint(apxvm.KindU16, 30),
	}}
	if err := inst.SetProvidePortValue(0, v); err != nil {
		t.Fatalf("SetProvidePortValue: %v", err)
	}
	got, err := inst.GetProvidePortValue(0)
	if err != nil {
		t.Fatalf("GetProvidePortValue: %v", err)
	}
	if len(got.Array) != 3 || got.Array[0].U != 10 || got.Array[1].U != 20 || got.Array[2].U != 30 {
		t.Errorf("got %+v, want [10 20 30]", got.Array)
	}
}

func TestAttachNodeAllocatesPortBuffers(t *testing.T) {
	inst := NewPendingInstance(16)
	inst.WriteDefinitionData(0, []byte("APX/1.2\n"))
	n := mustNode(t, "TestNode1", "APX/1.2\n",
		[]*apxvm.Element{apxvm.NewScalar("ProvidePort1", apxvm.KindU32)},
		[]*apxvm.Element{apxvm.NewScalar("RequirePort1", apxvm.KindU8)})
	inst.AttachNode(n)
	if len(inst.areas[AreaProvide].data) != 4 {
		t.Errorf("provide buffer size = %d, want 4", len(inst.areas[AreaProvide].data))
	}
	if len(inst.areas[AreaRequire].data) != 1 {
		t.Errorf("require buffer size = %d, want 1", len(inst.areas[AreaRequire].data))
	}
}
