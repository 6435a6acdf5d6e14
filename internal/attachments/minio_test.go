package attachments

import (
	"regexp"
	"testing"
)

func TestObjectKey(t *testing.T) {
	key := ObjectKey("projects/prj_1", "Roadmap Final.PDF")
	if !regexp.MustCompile(`^projects/prj_1/att_[0-9a-f]{32}\.pdf$`).MatchString(key) {
		t.Fatalf("unexpected key %q", key)
	}
	if ObjectKey("p", "a.png") == ObjectKey("p", "a.png") {
		t.Fatal("keys must be unique per upload")
	}
}

func TestNewRejectsBadEndpoint(t *testing.T) {
	if _, err := New("http://bad endpoint", "k", "s", "b", false); err == nil {
		t.Fatal("expected invalid endpoint error")
	}
}
