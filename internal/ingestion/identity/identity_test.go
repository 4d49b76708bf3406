package identity

import (
	"encoding/json"
	"regexp"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/library-indexer/internal/ingestion"
)

var hexID = regexp.MustCompile(`^[0-9a-f]{32}$`)

func decode(t *testing.T, s string) ingestion.Document {
	t.Helper()
	var doc ingestion.Document
	if err := json.Unmarshal([]byte(s), &doc); err != nil {
		t.Fatalf("decoding %s: %v", s, err)
	}
	return doc
}

func TestOfIsDeterministic(t *testing.T) {
	a := decode(t, `{"title":"Dune","year":1965}`)
	b := decode(t, `{"title":"Dune","year":1965}`)

	idA, err := Of(a)
	if err != nil {
		t.Fatal(err)
	}
	idB, err := Of(b)
	if err != nil {
		t.Fatal(err)
	}
	if idA != idB {
		t.Errorf("identical content gave %s and %s", idA, idB)
	}
	if !hexID.MatchString(idA) || len(idA) != 32 {
		t.Errorf("identifier %q is not 32 lowercase hex chars", idA)
	}
}

func TestOfDiffersForDifferentContent(t *testing.T) {
	docs := []string{
		`{"title":"A"}`,
		`{"title":"B"}`,
		`{"title":"A","year":1}`,
		`{"title":["A"]}`,
		`{"Title":"A"}`,
		`{}`,
	}
	seen := make(map[string]string)
	for _, s := range docs {
		id, err := Of(decode(t, s))
		if err != nil {
			t.Fatal(err)
		}
		if prev, ok := seen[id]; ok {
			t.Errorf("%s and %s collide on %s", prev, s, id)
		}
		seen[id] = s
	}
}

func TestKeyOrderDoesNotMatter(t *testing.T) {
	a := decode(t, `{"title":"A","author":{"last":"Herbert","first":"Frank"}}`)
	b := decode(t, `{"author":{"first":"Frank","last":"Herbert"},"title":"A"}`)
	idA, _ := Of(a)
	idB, _ := Of(b)
	if idA != idB {
		t.Errorf("key order changed the identifier: %s vs %s", idA, idB)
	}
}

func TestCanonicalForm(t *testing.T) {
	doc := decode(t, `{"b":1,"a":"<x & y>"}`)
	got, err := Canonical(doc)
	if err != nil {
		t.Fatal(err)
	}
	if want := `{"a":"<x & y>","b":1}`; string(got) != want {
		t.Errorf("expected %s, got %s", want, got)
	}
}

func TestKnownDigest(t *testing.T) {
	id, err := Of(decode(t, `{"title":"A"}`))
	if err != nil {
		t.Fatal(err)
	}
	if want := "9a3aca4685e716cae094b6c3c103eb58"; id != want {
		t.Errorf("expected %s, got %s", want, id)
	}
}

func TestSubmission(t *testing.T) {
	target := ingestion.Target{Index: "library", Category: "books"}
	sub, err := Submission(target, 7, decode(t, `{"title":"A"}`))
	if err != nil {
		t.Fatal(err)
	}
	if sub.Index != "library" || sub.Category != "books" || sub.Line != 7 {
		t.Errorf("unexpected submission %+v", sub)
	}
	if string(sub.Body) != `{"title":"A"}` {
		t.Errorf("unexpected body %s", sub.Body)
	}
	if sub.ID != Sum(sub.Body) {
		t.Error("identifier must be the digest of the body")
	}
}
