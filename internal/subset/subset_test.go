package subset

import (
	"bytes"
	"errors"
	"testing"

	"github.com/dgnsrekt/gribget/internal/catalog"
)

func entries(t *testing.T, queries ...catalog.Query) []catalog.Entry {
	t.Helper()
	out, err := catalog.ResolveMany(queries)
	if err != nil {
		t.Fatal(err)
	}
	return out
}

func threeEntries(t *testing.T) []catalog.Entry {
	return entries(t,
		catalog.Query{Level: "500 mb", Param: "TMP", Qualifier: "anl"},
		catalog.Query{Level: "surface", Param: "GUST", Qualifier: "anl"},
		catalog.Query{Level: "850 mb", Param: "DPT", Qualifier: "anl"},
	)
}

func TestAssemble_OrdersByMessageNumber(t *testing.T) {
	req := threeEntries(t)
	// Arrival order deliberately scrambled relative to message numbers.
	fetched := []Message{
		{Entry: req[2], MessageNum: 9, Data: []byte("ccc")},
		{Entry: req[0], MessageNum: 3, Data: []byte("aaa")},
		{Entry: req[1], MessageNum: 7, Data: []byte("bbb")},
	}
	sub, err := Assemble(req, fetched, Options{})
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if len(sub.Messages) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(sub.Messages))
	}
	for i, want := range []int{3, 7, 9} {
		if sub.Messages[i].MessageNum != want {
			t.Errorf("position %d = message %d, want %d", i, sub.Messages[i].MessageNum, want)
		}
	}
	if string(sub.Bytes()) != "aaabbbccc" {
		t.Errorf("Bytes() = %q", sub.Bytes())
	}
}

func TestAssemble_IncompleteStrict(t *testing.T) {
	req := threeEntries(t)
	fetched := []Message{
		{Entry: req[0], MessageNum: 3, Data: []byte("aaa")},
		{Entry: req[1], MessageNum: 7, Data: []byte("bbb")},
	}
	_, err := Assemble(req, fetched, Options{})
	var incErr *IncompleteError
	if !errors.As(err, &incErr) {
		t.Fatalf("expected IncompleteError, got %v", err)
	}
	if len(incErr.Missing) != 1 || incErr.Missing[0].Ordinal != req[2].Ordinal {
		t.Errorf("missing set names wrong entries: %+v", incErr.Missing)
	}
}

func TestAssemble_BestEffort(t *testing.T) {
	req := threeEntries(t)
	fetched := []Message{
		{Entry: req[0], MessageNum: 3, Data: []byte("aaa")},
		{Entry: req[1], MessageNum: 7, Data: []byte("bbb")},
	}
	sub, err := Assemble(req, fetched, Options{BestEffort: true})
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if len(sub.Messages) != 2 {
		t.Errorf("expected 2 messages, got %d", len(sub.Messages))
	}
	if len(sub.Missing) != 1 || sub.Missing[0].Ordinal != req[2].Ordinal {
		t.Errorf("unexpected missing set: %+v", sub.Missing)
	}
}

func TestAssemble_DuplicateMessageNumber(t *testing.T) {
	req := threeEntries(t)[:2]
	fetched := []Message{
		{Entry: req[0], MessageNum: 3, Data: []byte("aaa")},
		{Entry: req[1], MessageNum: 3, Data: []byte("bbb")},
	}
	if _, err := Assemble(req, fetched, Options{}); err == nil {
		t.Fatal("expected duplicate message number error")
	}
}

func TestAssemble_FramingVerification(t *testing.T) {
	req := threeEntries(t)[:1]
	good := append([]byte("GRIB"), append(make([]byte, 16), []byte("7777")...)...)
	bad := append([]byte("JUNK"), append(make([]byte, 16), []byte("0000")...)...)

	sub, err := Assemble(req, []Message{{Entry: req[0], MessageNum: 1, Data: good}}, Options{VerifyFraming: true})
	if err != nil {
		t.Fatalf("well-framed message rejected: %v", err)
	}
	if len(sub.Messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(sub.Messages))
	}

	_, err = Assemble(req, []Message{{Entry: req[0], MessageNum: 1, Data: bad}}, Options{VerifyFraming: true})
	var incErr *IncompleteError
	if !errors.As(err, &incErr) {
		t.Fatalf("expected IncompleteError for bad framing, got %v", err)
	}
}

func TestManifest(t *testing.T) {
	req := threeEntries(t)
	fetched := []Message{
		{Entry: req[1], MessageNum: 7, Data: []byte("bb")},
		{Entry: req[0], MessageNum: 3, Data: []byte("aaaa")},
		{Entry: req[2], MessageNum: 9, Data: []byte("c")},
	}
	sub, err := Assemble(req, fetched, Options{})
	if err != nil {
		t.Fatal(err)
	}
	manifest := sub.Manifest()
	if len(manifest) != 3 {
		t.Fatalf("expected 3 manifest entries, got %d", len(manifest))
	}
	if manifest[0].MessageNum != 3 || manifest[0].Position != 0 || manifest[0].Length != 4 {
		t.Errorf("unexpected first manifest entry: %+v", manifest[0])
	}
	if manifest[0].Param != "TMP" {
		t.Errorf("manifest lost entry identity: %+v", manifest[0])
	}
}

func TestWriteTo(t *testing.T) {
	req := threeEntries(t)[:2]
	sub, err := Assemble(req, []Message{
		{Entry: req[0], MessageNum: 1, Data: []byte("xx")},
		{Entry: req[1], MessageNum: 2, Data: []byte("yyy")},
	}, Options{})
	if err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	n, err := sub.WriteTo(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if n != 5 || buf.String() != "xxyyy" {
		t.Errorf("WriteTo wrote %d bytes %q", n, buf.String())
	}
	if sub.Size() != 5 {
		t.Errorf("Size = %d, want 5", sub.Size())
	}
}
