package territory

import "testing"

func TestResolverOverridesWin(t *testing.T) {
	r, err := NewResolver()
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}

	// 43040 (Marysville) sits in Columbia range territory but is served by
	// CenterPoint per the override table.
	terr, err := r.Resolve("43040")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if terr.ID != "centerpoint" {
		t.Fatalf("43040 resolved to %s", terr.ID)
	}

	// 44035 (Elyria) is in the northeast range but is a Columbia override.
	terr, err = r.Resolve("44035")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if terr.ID != "columbia" {
		t.Fatalf("44035 resolved to %s", terr.ID)
	}
}

func TestResolverRanges(t *testing.T) {
	r, err := NewResolver()
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}

	cases := []struct {
		zip  string
		want string
	}{
		{"45402", "centerpoint"}, // Dayton
		{"45202", "duke"},        // Cincinnati
		{"44101", "enbridge"},    // Cleveland
		{"43215", "columbia"},    // Columbus
	}
	for _, c := range cases {
		terr, err := r.Resolve(c.zip)
		if err != nil {
			t.Fatalf("Resolve(%s): %v", c.zip, err)
		}
		if terr.ID != c.want {
			t.Fatalf("Resolve(%s) = %s, want %s", c.zip, terr.ID, c.want)
		}
	}
}

func TestResolverRejectsBadZips(t *testing.T) {
	r, err := NewResolver()
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}

	for _, zip := range []string{"", "1234", "123456", "abcde", "10001", "90210"} {
		if _, err := r.Resolve(zip); err == nil {
			t.Fatalf("Resolve(%q) should fail", zip)
		}
	}
}

func TestResolverDefinitions(t *testing.T) {
	r, err := NewResolver()
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}

	all := r.All()
	if len(all) != 4 {
		t.Fatalf("expected 4 territories, got %d", len(all))
	}

	duke, ok := r.ByID("duke")
	if !ok {
		t.Fatal("duke territory missing")
	}
	if duke.Unit != UnitMcf {
		t.Fatalf("duke unit = %s, only Duke quotes per Mcf", duke.Unit)
	}
	if duke.PUCOCode != "10" {
		t.Fatalf("duke PUCO code = %s", duke.PUCOCode)
	}

	for _, id := range []string{"enbridge", "columbia", "centerpoint"} {
		terr, ok := r.ByID(id)
		if !ok {
			t.Fatalf("%s territory missing", id)
		}
		if terr.Unit != UnitCcf {
			t.Fatalf("%s unit = %s", id, terr.Unit)
		}
	}
}
