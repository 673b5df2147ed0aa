package channel

import (
	"testing"

	"github.com/signalsfoundry/commensal-automator/model"
)

func testCodec() *Codec {
	return NewCodec("hashpipe", 0, model.NewInstanceSet([]string{"cosmic-gpu-0/0", "cosmic-gpu-0/1", "nodeA"}))
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	codec := testCodec()
	for _, inst := range codec.Instances().List() {
		ch := codec.Encode(inst)
		if ch != KeyspacePrefix(0)+StatusKey("hashpipe", inst) {
			t.Fatalf("Encode(%s) = %q", inst, ch)
		}
		got, ok := codec.Decode(ch)
		if !ok || got != inst {
			t.Fatalf("Decode(%q) = %q, %v; want %q", ch, got, ok, inst)
		}
	}
}

func TestEncodeShape(t *testing.T) {
	got := testCodec().Encode("cosmic-gpu-0/0")
	want := "__keyspace@0__:hashpipe://cosmic-gpu-0/0/status"
	if got != want {
		t.Fatalf("Encode = %q, want %q", got, want)
	}
	other := NewCodec("hashpipe", 2, model.NewInstanceSet([]string{"nodeA"}))
	if got := other.Encode("nodeA"); got != "__keyspace@2__:hashpipe://nodeA/status" {
		t.Fatalf("Encode in db 2 = %q", got)
	}
	if ch := NewCodec("hashpipe", 3, model.InstanceSet{}).EncodeKey("k"); ch != "__keyspace@3__:k" {
		t.Fatalf("EncodeKey = %q", ch)
	}
}

func TestDecodeRejectsMalformed(t *testing.T) {
	codec := testCodec()
	inputs := []string{
		"",
		"__keyspace@0__:",
		"__keyspace@0__:META_flagant",
		"__keyspace@1__:hashpipe://nodeA/status",
		"hashpipe://nodeA/status",
		"__keyspace@0__:foo://nodeA/status",
		"__keyspace@0__:hashpipe://nodeA/set",
		"__keyspace@0__:hashpipe:///status",
		"__keyspace@0__://nodeA/status",
		"__keyspace@0__:hashpipe://bar/status",
		"__keyspace@0__:hashpipe://hashpipe://nodeA/status",
		"\x00\xff:::://",
	}
	for _, in := range inputs {
		if inst, ok := codec.Decode(in); ok {
			t.Errorf("Decode(%q) = %q, want not found", in, inst)
		}
	}
}

func TestParseStatusKey(t *testing.T) {
	domain, inst, ok := ParseStatusKey("foo://bar/status")
	if !ok || domain != "foo" || inst != "bar" {
		t.Fatalf("ParseStatusKey = %q %q %v", domain, inst, ok)
	}
	if _, _, ok := ParseStatusKey("foo://bar"); ok {
		t.Fatalf("missing suffix accepted")
	}
}

func TestSetChannel(t *testing.T) {
	if got := SetChannel("hashpipe", "nodeA"); got != "hashpipe://nodeA/set" {
		t.Fatalf("SetChannel = %q", got)
	}
}
